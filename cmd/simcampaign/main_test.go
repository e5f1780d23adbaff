package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/simcampaign/config"
	"go.dedis.ch/simcampaign/metrics"
	"go.dedis.ch/simcampaign/trial"
	"go.dedis.ch/simcampaign/trial/process"
	"go.uber.org/zap"
)

func TestMakeSimulator(t *testing.T) {
	cfg := config.Default()
	cfg.SimulatorCmd = []string{"./sim", "--fast"}

	sim, err := makeSimulator(cfg, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, process.NewSimulator("./sim", "--fast"), sim)

	defer func(fn func(string, *zap.Logger) (trial.Simulator, error)) { makeDockerSimulator = fn }(makeDockerSimulator)

	images := []string{}
	makeDockerSimulator = func(image string, logger *zap.Logger) (trial.Simulator, error) {
		images = append(images, image)
		return nil, nil
	}

	cfg.Simulator = config.SimulatorDocker
	cfg.SimulatorImage = "dedis/drone-sim"

	_, err = makeSimulator(cfg, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, []string{"dedis/drone-sim"}, images)

	cfg.Simulator = "vm"
	_, err = makeSimulator(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(true)
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = newLogger(false)
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestApp_Run(t *testing.T) {
	root := t.TempDir()

	remote := filepath.Join(root, "sb", "20240101T0000001")
	require.NoError(t, os.MkdirAll(remote, 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(remote, "map.wml"), []byte("map"), 0644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		defer conn.Close()

		bufio.NewReader(conn).ReadBytes('\n')
		json.NewEncoder(conn).Encode(map[string]interface{}{
			"scenario":     remote,
			"clusters":     []int{},
			"nodes_amount": 3,
		})
	}()

	cfgPath := filepath.Join(root, "launch.toml")
	require.NoError(t, ioutil.WriteFile(cfgPath, []byte(`
f_duration = 100
simulator_cmd = ["sh", "-c", "echo 1,2 > metrics.csv"]

[campaign]
pso = true
pso_iter = 2
exception = true
`), 0644))

	out := new(bytes.Buffer)
	app := newApp()
	app.Writer = out

	err = app.Run([]string{"simcampaign", "run",
		"--config", cfgPath,
		"--outputs", filepath.Join(root, "outputs"),
		"--scenarios", filepath.Join(root, "scenarios"),
		"--addr", ln.Addr().String(),
	})
	require.NoError(t, err)
	require.Contains(t, out.String(), "pso: 2 iterations, 0 failed")

	require.FileExists(t, filepath.Join(root, "scenarios", "0000001", "map.wml"))

	campaigns, err := ioutil.ReadDir(filepath.Join(root, "outputs"))
	require.NoError(t, err)
	require.Len(t, campaigns, 1)

	campaignDir := filepath.Join(root, "outputs", campaigns[0].Name())
	report := filepath.Join(campaignDir, "pso"+metrics.ReportSuffix)
	require.FileExists(t, report)

	require.NoError(t, os.Remove(report))

	out.Reset()
	err = app.Run([]string{"simcampaign", "aggregate", campaignDir})
	require.NoError(t, err)
	require.Contains(t, out.String(), "pso: 2 iterations averaged")
	require.FileExists(t, report)
}

func TestApp_InvalidConfig(t *testing.T) {
	app := newApp()
	app.Writer = ioutil.Discard

	err := app.Run([]string{"simcampaign", "run", "--parallel", "0"})
	require.Error(t, err)

	err = app.Run([]string{"simcampaign", "aggregate"})
	require.EqualError(t, err, "missing campaign directory")
}
