// Package config defines the configuration of a campaign and how it is
// loaded from a file and the environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultOutputsDir is the directory receiving the campaigns.
	DefaultOutputsDir = "outputs"
	// DefaultScenariosDir is the directory receiving the local copies of
	// the scenarios.
	DefaultScenariosDir = "scenarios"
	// DefaultScenarioAddr is the address of the scenario service.
	DefaultScenarioAddr = "127.0.0.1:5555"
	// DefaultSuffixWidth is the default width of the scenario suffix.
	DefaultSuffixWidth = 7
	// DefaultMetricsFile is the file read in each iteration directory by the
	// aggregation.
	DefaultMetricsFile = "metrics.csv"

	// SimulatorProcess runs a local command per iteration.
	SimulatorProcess = "process"
	// SimulatorDocker runs a container per iteration.
	SimulatorDocker = "docker"

	// EnvPrefix is the prefix of the environment overrides.
	EnvPrefix = "SIMCAMPAIGN_"
)

// Algorithm is an algorithm to run during the campaign.
type Algorithm struct {
	Name       string
	Dir        string
	Iterations int
}

// Campaign holds the flags of the campaign.
type Campaign struct {
	RunPSO          bool `toml:"pso" yaml:"pso" env:"PSO"`
	RunLawnMower    bool `toml:"lawn" yaml:"lawn" env:"LAWN"`
	IsolateFailures bool `toml:"exception" yaml:"exception" env:"EXCEPTION"`
	PSOIterations   int  `toml:"pso_iter" yaml:"pso_iter" env:"PSO_ITER"`
	LawnIterations  int  `toml:"lawn_iter" yaml:"lawn_iter" env:"LAWN_ITER"`
}

// Algorithms returns the enabled algorithms in the order they run.
func (c Campaign) Algorithms() []Algorithm {
	algos := []Algorithm{}

	if c.RunPSO {
		algos = append(algos, Algorithm{Name: "pso", Dir: "pso", Iterations: c.PSOIterations})
	}

	if c.RunLawnMower {
		algos = append(algos, Algorithm{Name: "lawn_mower", Dir: "lawn", Iterations: c.LawnIterations})
	}

	return algos
}

// Duration is a time.Duration that decodes from strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	d.Duration = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Config is the complete configuration of the launcher.
type Config struct {
	Campaign Campaign `toml:"campaign" yaml:"campaign"`

	OutputsDir     string   `toml:"outputs_dir" yaml:"outputs_dir" env:"OUTPUTS_DIR"`
	ScenariosDir   string   `toml:"scenarios_dir" yaml:"scenarios_dir" env:"SCENARIOS_DIR"`
	ScenarioAddr   string   `toml:"scenario_addr" yaml:"scenario_addr" env:"SCENARIO_ADDR"`
	RequestTimeout Duration `toml:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	RetryAttempts  int      `toml:"retry_attempts" yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryDelay     Duration `toml:"retry_delay" yaml:"retry_delay" env:"RETRY_DELAY"`
	FixedDuration  int      `toml:"f_duration" yaml:"f_duration" env:"F_DURATION"`
	SuffixWidth    int      `toml:"suffix_width" yaml:"suffix_width" env:"SUFFIX_WIDTH"`
	Parallelism    int      `toml:"parallelism" yaml:"parallelism" env:"PARALLELISM"`
	TrajectoryFile string   `toml:"trajectory_file" yaml:"trajectory_file" env:"TRAJECTORY_FILE"`
	Simulator      string   `toml:"simulator" yaml:"simulator" env:"SIMULATOR"`
	SimulatorCmd   []string `toml:"simulator_cmd" yaml:"simulator_cmd" env:"SIMULATOR_CMD"`
	SimulatorImage string   `toml:"simulator_image" yaml:"simulator_image" env:"SIMULATOR_IMAGE"`
	MetricsFile    string   `toml:"metrics_file" yaml:"metrics_file" env:"METRICS_FILE"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		OutputsDir:     DefaultOutputsDir,
		ScenariosDir:   DefaultScenariosDir,
		ScenarioAddr:   DefaultScenarioAddr,
		RequestTimeout: Duration{30 * time.Second},
		RetryAttempts:  1,
		RetryDelay:     Duration{time.Second},
		SuffixWidth:    DefaultSuffixWidth,
		Parallelism:    1,
		Simulator:      SimulatorProcess,
		MetricsFile:    DefaultMetricsFile,
	}
}

var lookupEnv = os.Environ

// Load reads the configuration file, TOML or YAML according to the
// extension, on top of the defaults, then applies the environment overrides.
// An empty path only uses the defaults and the environment. The result is not
// validated so that it can be completed first.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		err := decodeFile(path, &cfg)
		if err != nil {
			return cfg, err
		}
	}

	err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: env.ToMap(lookupEnv()),
	})
	if err != nil {
		return cfg, xerrors.Errorf("couldn't parse the environment: %w", err)
	}

	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Errorf("couldn't read the configuration: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}

	if err != nil {
		return xerrors.Errorf("couldn't decode %s: %w", path, err)
	}

	return nil
}

// Validate checks that the values are usable.
func (c Config) Validate() error {
	if c.Campaign.PSOIterations < 0 || c.Campaign.LawnIterations < 0 {
		return xerrors.New("iterations must not be negative")
	}

	if c.FixedDuration < 0 {
		return xerrors.New("fixed duration must not be negative")
	}

	if c.SuffixWidth <= 0 {
		return xerrors.New("suffix width must be positive")
	}

	if c.Parallelism < 1 {
		return xerrors.New("parallelism must be at least 1")
	}

	switch c.Simulator {
	case SimulatorProcess:
		if len(c.SimulatorCmd) == 0 {
			return xerrors.New("process simulator needs a command")
		}
	case SimulatorDocker:
		if c.SimulatorImage == "" {
			return xerrors.New("docker simulator needs an image")
		}
	default:
		return xerrors.Errorf("unknown simulator %q", c.Simulator)
	}

	return nil
}
