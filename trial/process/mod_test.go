package process

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/simcampaign/trial"
)

func TestSimulator_Simulate(t *testing.T) {
	dir := t.TempDir()
	s := NewSimulator("sh", "-c", `echo "$SIMCAMPAIGN_ALGORITHM $SIMCAMPAIGN_ITERATION" > result.txt; echo done`)

	err := s.Simulate(context.Background(), trial.Params{OutputDir: dir, Algorithm: "pso", Iteration: 2})
	require.NoError(t, err)

	content, err := ioutil.ReadFile(filepath.Join(dir, "result.txt"))
	require.NoError(t, err)
	require.Equal(t, "pso 2\n", string(content))

	logs, err := ioutil.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	require.Equal(t, "done\n", string(logs))

	require.FileExists(t, filepath.Join(dir, trial.ParamsFileName))
}

func TestSimulator_ExitCode(t *testing.T) {
	s := NewSimulator("sh", "-c", "exit 3")

	err := s.Simulate(context.Background(), trial.Params{OutputDir: t.TempDir()})

	var fault *trial.Fault
	require.True(t, errors.As(err, &fault))
	require.Equal(t, "ExitError", fault.Kind)
	require.Equal(t, "sh exited with status 3", fault.Message)
}

func TestSimulator_Failures(t *testing.T) {
	err := NewSimulator("sh").Simulate(context.Background(), trial.Params{OutputDir: filepath.Join(t.TempDir(), "none")})
	require.Error(t, err)

	err = NewSimulator(filepath.Join(t.TempDir(), "missing")).Simulate(context.Background(), trial.Params{OutputDir: t.TempDir()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't run")
}

func TestSimulator_RelativePaths(t *testing.T) {
	root := t.TempDir()

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	defer os.Chdir(wd)

	require.NoError(t, os.MkdirAll(filepath.Join("outputs", "ts", "pso", "ts0"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join("scenarios", "0000001"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join("scenarios", "0000001", "map.wml"), nil, 0644))

	script := `test -d "$SIMCAMPAIGN_OUTPUT_DIR" && test -d "$SIMCAMPAIGN_MAIN_OUTPUT_DIR" && ` +
		`test -f "$SIMCAMPAIGN_SCENARIO_FILE" && test -f "$SIMCAMPAIGN_PARAMS"`
	require.NoError(t, ioutil.WriteFile("sim.sh", []byte("#!/bin/sh\n"+script+"\n"), 0755))

	params := trial.Params{
		OutputDir:     filepath.Join("outputs", "ts", "pso", "ts0"),
		MainOutputDir: filepath.Join("outputs", "ts"),
		ScenarioFile:  filepath.Join("scenarios", "0000001", "map.wml"),
	}

	err = NewSimulator("sh", "-c", script).Simulate(context.Background(), params)
	require.NoError(t, err)

	err = NewSimulator("./sim.sh").Simulate(context.Background(), params)
	require.NoError(t, err)
}
