package trial

import (
	"context"
	"encoding/json"
	"fmt"

	"go.dedis.ch/simcampaign/trajectory"
	"go.uber.org/zap"
)

// Params is everything a simulator needs to run one iteration. The
// simulator must not look anywhere else for its parameters.
type Params struct {
	OutputDir     string
	MainOutputDir string
	Algorithm     string
	Iteration     int
	ScenarioFile  string
	Clusters      json.RawMessage
	NodesAmount   int
	Duration      int
	Trajectories  []trajectory.Trajectory
}

// Simulator executes one trial. Result files are written in the output
// directory of the parameters.
type Simulator interface {
	Simulate(ctx context.Context, params Params) error
}

// SimulatorFunc is an adapter to use a function as a simulator.
type SimulatorFunc func(ctx context.Context, params Params) error

// Simulate implements Simulator.
func (fn SimulatorFunc) Simulate(ctx context.Context, params Params) error {
	return fn(ctx, params)
}

// Result is the outcome of one iteration.
type Result struct {
	Index     int
	OutputDir string
	Succeeded bool
	Failure   *FailureRecord
}

// IterationFault is returned by the runner when a trial fails and the
// failures are not isolated.
type IterationFault struct {
	Algorithm string
	Index     int
	Record    FailureRecord
	Err       error
}

func (e *IterationFault) Error() string {
	return fmt.Sprintf("%s iteration %d failed at %s:%d in %s: %s: %s",
		e.Algorithm, e.Index, e.Record.Source, e.Record.Line, e.Record.Routine,
		e.Record.Kind, e.Record.Message)
}

// Unwrap returns the error of the simulator if it failed with one.
func (e *IterationFault) Unwrap() error {
	return e.Err
}

// Runner executes iterations with one simulator.
type Runner struct {
	sim    Simulator
	logger *zap.Logger
}

// NewRunner creates a runner for the simulator.
func NewRunner(sim Simulator, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{sim: sim, logger: logger}
}

// Run calls the simulator exactly once. A failure of the simulator, either a
// returned error or a panic, is turned into a failure record and logged. When
// isolate is true the record stays in the result, otherwise it is also returned as an
// IterationFault.
func (r *Runner) Run(ctx context.Context, params Params, isolate bool) (Result, error) {
	res := Result{
		Index:     params.Iteration,
		OutputDir: params.OutputDir,
	}

	r.logger.Debug("calling the simulator",
		zap.String("algorithm", params.Algorithm),
		zap.Int("iteration", params.Iteration),
		zap.String("dir", params.OutputDir))

	rec, err := r.call(ctx, params)
	if rec == nil {
		res.Succeeded = true
		return res, nil
	}

	res.Failure = rec

	r.logger.Warn("iteration failed",
		zap.String("algorithm", params.Algorithm),
		zap.Int("iteration", params.Iteration),
		zap.Bool("isolated", isolate),
		zap.Object("failure", rec))

	if !isolate {
		return res, &IterationFault{
			Algorithm: params.Algorithm,
			Index:     params.Iteration,
			Record:    *rec,
			Err:       err,
		}
	}

	return res, nil
}

func (r *Runner) call(ctx context.Context, params Params) (rec *FailureRecord, err error) {
	done := false

	defer func() {
		if !done {
			v := recover()
			frame, _ := panicFrame()
			rec = fromPanic(v, frame)
		}
	}()

	err = r.sim.Simulate(ctx, params)
	done = true

	if err != nil {
		rec = fromError(err)
	}

	return rec, err
}
