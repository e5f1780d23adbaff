// Package trajectory defines the trajectories produced by the external
// generator and how they fix the duration of a simulation.
package trajectory

import (
	"context"
	"encoding/json"
	"os"

	"golang.org/x/xerrors"
)

const (
	errNoTrajectory    = "no trajectory available"
	errEmptyTrajectory = "first trajectory is empty"
)

// Waypoint is a position visited by a unit.
type Waypoint [2]float64

// Trajectory is the ordered list of waypoints of one unit. One waypoint is one
// step of simulation time.
type Trajectory []Waypoint

// Source provides the trajectories of every unit of the campaign.
type Source interface {
	Trajectories(ctx context.Context) ([]Trajectory, error)
}

// Duration returns the simulation duration. A non-zero override wins,
// otherwise the length of the first trajectory is used.
func Duration(trajs []Trajectory, override int) (int, error) {
	if override != 0 {
		return override, nil
	}

	if len(trajs) == 0 {
		return 0, xerrors.New(errNoTrajectory)
	}

	if len(trajs[0]) == 0 {
		return 0, xerrors.New(errEmptyTrajectory)
	}

	return len(trajs[0]), nil
}

// FileSource reads the trajectories from a JSON file written by the
// generator.
type FileSource struct {
	Path string
}

// Trajectories implements Source.
func (s FileSource) Trajectories(ctx context.Context) ([]Trajectory, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, xerrors.Errorf("couldn't read the trajectories: %w", err)
	}

	trajs := []Trajectory{}
	err = json.Unmarshal(data, &trajs)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decode the trajectories: %w", err)
	}

	return trajs, nil
}

// Static is a source returning a fixed set of trajectories.
type Static []Trajectory

// Trajectories implements Source.
func (s Static) Trajectories(context.Context) ([]Trajectory, error) {
	return s, nil
}
