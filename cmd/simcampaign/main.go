package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"go.dedis.ch/simcampaign"
	"go.dedis.ch/simcampaign/config"
	"go.dedis.ch/simcampaign/metrics"
	"go.dedis.ch/simcampaign/scenario"
	"go.dedis.ch/simcampaign/trajectory"
	"go.dedis.ch/simcampaign/trial"
	"go.dedis.ch/simcampaign/trial/docker"
	"go.dedis.ch/simcampaign/trial/process"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/xerrors"
)

var makeDockerSimulator = func(image string, logger *zap.Logger) (trial.Simulator, error) {
	return docker.NewSimulator(image, docker.WithLogger(logger))
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simcampaign: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "simcampaign",
		Usage: "Run simulation campaigns against a generated scenario",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "print debug logs",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run a campaign",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:  "config",
						Usage: "TOML or YAML configuration file",
					},
					&cli.PathFlag{
						Name:  "outputs",
						Usage: "directory of the campaigns",
					},
					&cli.PathFlag{
						Name:  "scenarios",
						Usage: "directory of the local scenarios",
					},
					&cli.StringFlag{
						Name:  "addr",
						Usage: "address of the scenario service",
					},
					&cli.IntFlag{
						Name:  "parallel",
						Usage: "number of iterations running at the same time",
					},
				},
				Action: runCampaign,
			},
			{
				Name:      "aggregate",
				Usage:     "average again the iterations of a campaign directory",
				ArgsUsage: "CAMPAIGN_DIR",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "metrics",
						Value: config.DefaultMetricsFile,
					},
				},
				Action: aggregateCampaign,
			},
		},
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	return cfg.Build()
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.Path("config"))
	if err != nil {
		return cfg, err
	}

	if c.IsSet("outputs") {
		cfg.OutputsDir = c.Path("outputs")
	}

	if c.IsSet("scenarios") {
		cfg.ScenariosDir = c.Path("scenarios")
	}

	if c.IsSet("addr") {
		cfg.ScenarioAddr = c.String("addr")
	}

	if c.IsSet("parallel") {
		cfg.Parallelism = c.Int("parallel")
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, xerrors.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func makeSimulator(cfg config.Config, logger *zap.Logger) (trial.Simulator, error) {
	switch cfg.Simulator {
	case config.SimulatorDocker:
		return makeDockerSimulator(cfg.SimulatorImage, logger)
	case config.SimulatorProcess:
		return process.NewSimulator(cfg.SimulatorCmd[0], cfg.SimulatorCmd[1:]...), nil
	default:
		return nil, xerrors.Errorf("unknown simulator %q", cfg.Simulator)
	}
}

func runCampaign(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return xerrors.Errorf("couldn't create the logger: %w", err)
	}

	defer logger.Sync()

	sim, err := makeSimulator(cfg, logger)
	if err != nil {
		return err
	}

	deps := simcampaign.Dependencies{
		Scenarios: scenario.NewTCPClient(cfg.ScenarioAddr,
			scenario.WithTimeout(cfg.RequestTimeout.Duration),
			scenario.WithRetry(cfg.RetryAttempts, cfg.RetryDelay.Duration),
			scenario.WithLogger(logger)),
		Simulator:  sim,
		Aggregator: metrics.NewAverager(cfg.MetricsFile, logger),
	}

	if cfg.TrajectoryFile != "" {
		deps.Trajectories = trajectory.FileSource{Path: cfg.TrajectoryFile}
	}

	campaign := simcampaign.New(cfg.Campaign, deps,
		simcampaign.WithLogger(logger),
		simcampaign.WithProgress(c.App.Writer),
		simcampaign.WithDirs(cfg.OutputsDir, cfg.ScenariosDir),
		simcampaign.WithFixedDuration(cfg.FixedDuration),
		simcampaign.WithSuffixWidth(cfg.SuffixWidth),
		simcampaign.WithParallelism(cfg.Parallelism))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := campaign.Run(ctx)
	if err != nil {
		return err
	}

	mins := int(summary.Elapsed.Minutes())
	secs := int(summary.Elapsed.Seconds()) % 60

	fmt.Fprintf(c.App.Writer, "Campaign %s done in %d mins %d secs\n", summary.OutputDir, mins, secs)

	for _, run := range summary.Runs {
		fmt.Fprintf(c.App.Writer, "  %s: %d iterations, %d failed\n", run.Name, len(run.Iterations), run.Failures())
	}

	return nil
}

func aggregateCampaign(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return xerrors.New("missing campaign directory")
	}

	logger, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return xerrors.Errorf("couldn't create the logger: %w", err)
	}

	defer logger.Sync()

	averager := metrics.NewAverager(c.String("metrics"), logger)
	info := simcampaign.CampaignInfo{Timestamp: filepath.Base(dir), OutputDir: dir}

	for _, algo := range (config.Campaign{RunPSO: true, RunLawnMower: true}).Algorithms() {
		algoDir := filepath.Join(dir, algo.Dir)

		entries, err := os.ReadDir(algoDir)
		if os.IsNotExist(err) {
			continue
		}

		if err != nil {
			return xerrors.Errorf("couldn't read %s: %w", algoDir, err)
		}

		run := simcampaign.AlgorithmRun{Name: algo.Name, Dir: algoDir}
		for _, entry := range entries {
			if entry.IsDir() {
				run.OutputPaths = append(run.OutputPaths, filepath.Join(algoDir, entry.Name()))
			}
		}

		err = averager.Aggregate(c.Context, run, info)
		if err != nil {
			return err
		}

		fmt.Fprintf(c.App.Writer, "%s: %d iterations averaged\n", algo.Name, len(run.OutputPaths))
	}

	return nil
}
