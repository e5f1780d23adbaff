// Package docker implements a simulator running each trial inside a Docker
// container.
package docker

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.dedis.ch/simcampaign/trial"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

const (
	// ImageBaseURL is the prefix of the image reference when it is pulled.
	ImageBaseURL = "docker.io"
	// OutputMount is where the output directory is mounted in the container.
	OutputMount = "/output"
	// ScenarioMount is where the scenario directory is mounted in the
	// container.
	ScenarioMount = "/scenario"
	// LogFileName is the file of the output directory receiving the logs of
	// the container.
	LogFileName = "simulator.log"
	// ContainerLabelKey is the label attached to the simulator containers.
	ContainerLabelKey = "go.dedis.ch.simcampaign"
	// ContainerLabelValue is the value of the label.
	ContainerLabelValue = "trial"
)

var makeDockerClient = func() (client.APIClient, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// Simulator starts one container of the image per trial and waits for it to
// exit. A non-zero exit code is a failure of the trial.
type Simulator struct {
	cli    client.APIClient
	image  string
	cmd    []string
	out    io.Writer
	logger *zap.Logger

	pullOnce sync.Once
	pullErr  error
}

// Option changes the simulator.
type Option func(s *Simulator)

// WithCmd overrides the command of the image.
func WithCmd(cmd ...string) Option {
	return func(s *Simulator) {
		s.cmd = cmd
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) {
		s.logger = l
	}
}

// NewSimulator creates a simulator for the image using the Docker daemon
// described by the environment.
func NewSimulator(image string, opts ...Option) (*Simulator, error) {
	cli, err := makeDockerClient()
	if err != nil {
		return nil, xerrors.Errorf("couldn't create the client: %w", err)
	}

	s := &Simulator{
		cli:    cli,
		image:  image,
		out:    ioutil.Discard,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Simulator) pullImage(ctx context.Context) error {
	s.pullOnce.Do(func() {
		ref := fmt.Sprintf("%s/%s", ImageBaseURL, s.image)

		reader, err := s.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
		if err != nil {
			s.pullErr = err
			return
		}

		defer reader.Close()

		io.Copy(s.out, reader) // ignore potential errors.
	})

	return s.pullErr
}

// Simulate implements trial.Simulator.
func (s *Simulator) Simulate(ctx context.Context, params trial.Params) error {
	err := s.pullImage(ctx)
	if err != nil {
		return xerrors.Errorf("couldn't pull the image: %w", err)
	}

	// The file is read from inside the container.
	err = containerParams(params).WriteFile(params.OutputDir)
	if err != nil {
		return err
	}

	hcfg, err := makeHostConfig(params)
	if err != nil {
		return err
	}

	cfg := &container.Config{
		Image:  s.image,
		Cmd:    s.cmd,
		Env:    containerParams(params).Env(),
		Labels: map[string]string{ContainerLabelKey: ContainerLabelValue},
	}

	resp, err := s.cli.ContainerCreate(ctx, cfg, hcfg, nil, "")
	if err != nil {
		return xerrors.Errorf("couldn't create the container: %w", err)
	}

	defer s.remove(resp.ID)

	err = s.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{})
	if err != nil {
		return xerrors.Errorf("couldn't start the container: %w", err)
	}

	s.logger.Debug("container started",
		zap.String("id", resp.ID),
		zap.String("algorithm", params.Algorithm),
		zap.Int("iteration", params.Iteration))

	code, err := s.wait(ctx, resp.ID)
	if err != nil {
		return xerrors.Errorf("couldn't wait for the container: %w", err)
	}

	err = s.writeLogs(ctx, resp.ID, filepath.Join(params.OutputDir, LogFileName))
	if err != nil {
		return err
	}

	if code != 0 {
		return trial.NewFault("ExitError", "container %s exited with status %d", resp.ID, code)
	}

	return nil
}

func (s *Simulator) wait(ctx context.Context, id string) (int64, error) {
	statusc, errc := s.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-errc:
		return 0, err
	case status := <-statusc:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, xerrors.New(status.Error.Message)
		}

		return status.StatusCode, nil
	}
}

func (s *Simulator) writeLogs(ctx context.Context, id, path string) error {
	reader, err := s.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return xerrors.Errorf("couldn't get the logs: %w", err)
	}

	defer reader.Close()

	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("couldn't create the log file: %w", err)
	}

	defer f.Close()

	_, err = stdcopy.StdCopy(f, f, reader)
	if err != nil {
		return xerrors.Errorf("couldn't copy the logs: %w", err)
	}

	return nil
}

func (s *Simulator) remove(id string) {
	// The context of the trial might be done already.
	err := s.cli.ContainerRemove(context.Background(), id, types.ContainerRemoveOptions{Force: true})
	if err != nil {
		s.logger.Warn("couldn't remove the container", zap.String("id", id), zap.Error(err))
	}
}

func makeHostConfig(params trial.Params) (*container.HostConfig, error) {
	output, err := filepath.Abs(params.OutputDir)
	if err != nil {
		return nil, xerrors.Errorf("couldn't resolve the output directory: %w", err)
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: output, Target: OutputMount},
	}

	if params.ScenarioFile != "" {
		scenario, err := filepath.Abs(filepath.Dir(params.ScenarioFile))
		if err != nil {
			return nil, xerrors.Errorf("couldn't resolve the scenario directory: %w", err)
		}

		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   scenario,
			Target:   ScenarioMount,
			ReadOnly: true,
		})
	}

	return &container.HostConfig{Mounts: mounts}, nil
}

// containerParams translates the paths to the ones seen inside the
// container.
func containerParams(params trial.Params) trial.Params {
	params.OutputDir = OutputMount
	params.MainOutputDir = ""

	if params.ScenarioFile != "" {
		params.ScenarioFile = filepath.Join(ScenarioMount, filepath.Base(params.ScenarioFile))
	}

	return params
}
