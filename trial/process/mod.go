// Package process implements a simulator executing a local command per
// trial.
package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.dedis.ch/simcampaign/trial"
	"golang.org/x/xerrors"
)

// LogFileName is the file of the output directory receiving the standard
// outputs of the command.
const LogFileName = "simulator.log"

// Simulator runs the command with the parameters of the iteration exported
// in its environment. The command is run from the output directory.
type Simulator struct {
	cmd  string
	args []string
}

// NewSimulator creates a simulator for the command.
func NewSimulator(cmd string, args ...string) Simulator {
	return Simulator{cmd: cmd, args: args}
}

// Simulate implements trial.Simulator. The paths given to the command are
// absolute as it runs from the output directory.
func (s Simulator) Simulate(ctx context.Context, params trial.Params) error {
	params, err := params.Abs()
	if err != nil {
		return err
	}

	name, err := s.command()
	if err != nil {
		return err
	}

	err = params.WriteFile(params.OutputDir)
	if err != nil {
		return err
	}

	out, err := os.Create(filepath.Join(params.OutputDir, LogFileName))
	if err != nil {
		return xerrors.Errorf("couldn't create the log file: %w", err)
	}

	defer out.Close()

	cmd := exec.CommandContext(ctx, name, s.args...)
	cmd.Dir = params.OutputDir
	cmd.Env = append(os.Environ(), params.Env()...)
	cmd.Stdout = out
	cmd.Stderr = out

	err = cmd.Run()
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if ok {
			return trial.NewFault("ExitError", "%s exited with status %d", s.cmd, exitErr.ExitCode())
		}

		return xerrors.Errorf("couldn't run %s: %w", s.cmd, err)
	}

	return nil
}

// command resolves a relative path to the command. A bare name is left to
// the lookup in PATH.
func (s Simulator) command() (string, error) {
	if !strings.ContainsRune(s.cmd, filepath.Separator) || filepath.IsAbs(s.cmd) {
		return s.cmd, nil
	}

	abs, err := filepath.Abs(s.cmd)
	if err != nil {
		return "", xerrors.Errorf("couldn't resolve %s: %w", s.cmd, err)
	}

	return abs, nil
}
