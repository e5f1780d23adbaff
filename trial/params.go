package trial

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/xerrors"
)

const (
	// ParamsFileName is the name of the file written in the output directory
	// with the complete parameters of the iteration.
	ParamsFileName = "params.json"
	// EnvPrefix is the prefix of the environment variables given to the
	// external simulators.
	EnvPrefix = "SIMCAMPAIGN_"
)

// Env returns the scalar parameters as environment variables. The file
// written by WriteFile is the reference for the others.
func (p Params) Env() []string {
	return []string{
		EnvPrefix + "OUTPUT_DIR=" + p.OutputDir,
		EnvPrefix + "MAIN_OUTPUT_DIR=" + p.MainOutputDir,
		EnvPrefix + "ALGORITHM=" + p.Algorithm,
		EnvPrefix + "ITERATION=" + strconv.Itoa(p.Iteration),
		EnvPrefix + "SCENARIO_FILE=" + p.ScenarioFile,
		EnvPrefix + "NODES_AMOUNT=" + strconv.Itoa(p.NodesAmount),
		EnvPrefix + "DURATION=" + strconv.Itoa(p.Duration),
		EnvPrefix + "PARAMS=" + filepath.Join(p.OutputDir, ParamsFileName),
	}
}

// Abs returns the parameters with the output directories and the scenario
// file resolved against the working directory.
func (p Params) Abs() (Params, error) {
	paths := []*string{&p.OutputDir, &p.MainOutputDir, &p.ScenarioFile}

	for _, path := range paths {
		if *path == "" {
			continue
		}

		abs, err := filepath.Abs(*path)
		if err != nil {
			return p, xerrors.Errorf("couldn't resolve %s: %w", *path, err)
		}

		*path = abs
	}

	return p, nil
}

// WriteFile writes the parameters as JSON in the given directory.
func (p Params) WriteFile(dir string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return xerrors.Errorf("couldn't encode the parameters: %w", err)
	}

	err = os.WriteFile(filepath.Join(dir, ParamsFileName), data, 0644)
	if err != nil {
		return xerrors.Errorf("couldn't write the parameters: %w", err)
	}

	return nil
}
