package simcampaign

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/buger/goterm"
	"github.com/google/uuid"
	"go.dedis.ch/simcampaign/config"
	"go.dedis.ch/simcampaign/layout"
	"go.dedis.ch/simcampaign/scenario"
	"go.dedis.ch/simcampaign/trajectory"
	"go.dedis.ch/simcampaign/trial"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Phase is a step of the campaign.
type Phase int

const (
	// PhaseInit is the phase before anything is done.
	PhaseInit Phase = iota
	// PhaseDurationResolved is reached once the simulation duration is known.
	PhaseDurationResolved
	// PhaseScenarioAcquired is reached when the service replied.
	PhaseScenarioAcquired
	// PhaseScenarioMaterialized is reached when the scenario is copied locally.
	PhaseScenarioMaterialized
	// PhaseAlgorithmRunning is the phase of the iterations of an algorithm.
	PhaseAlgorithmRunning
	// PhaseAggregate is the phase of the aggregation of an algorithm.
	PhaseAggregate
	// PhaseDone is reached when every algorithm has been processed.
	PhaseDone
)

var phaseNames = []string{
	"init",
	"duration_resolved",
	"scenario_acquired",
	"scenario_materialized",
	"algorithm_running",
	"aggregate",
	"done",
}

func (p Phase) String() string {
	if int(p) < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}

	return phaseNames[p]
}

// AlgorithmRun is the set of iterations of one algorithm.
type AlgorithmRun struct {
	Name        string
	Dir         string
	Iterations  []trial.Result
	OutputPaths []string
}

// Failures returns the number of iterations that failed.
func (run AlgorithmRun) Failures() int {
	n := 0
	for _, res := range run.Iterations {
		if !res.Succeeded {
			n++
		}
	}

	return n
}

func (run *AlgorithmRun) add(res trial.Result) {
	run.Iterations = append(run.Iterations, res)

	if res.Succeeded {
		run.OutputPaths = append(run.OutputPaths, res.OutputDir)
	}
}

// CampaignInfo is shared by every algorithm of a campaign.
type CampaignInfo struct {
	ID        string
	Timestamp string
	OutputDir string
}

// Summary is the outcome of a campaign.
type Summary struct {
	CampaignInfo
	Runs    []AlgorithmRun
	Elapsed time.Duration
}

// Aggregator consumes the outputs of the iterations of an algorithm once they
// are all done.
type Aggregator interface {
	Aggregate(ctx context.Context, run AlgorithmRun, campaign CampaignInfo) error
}

// Dependencies are the collaborators of a campaign.
type Dependencies struct {
	Trajectories trajectory.Source
	Scenarios    scenario.Client
	Simulator    trial.Simulator
	Aggregator   Aggregator
}

// Campaign runs the iterations of every enabled algorithm against a scenario
// acquired for the occasion.
type Campaign struct {
	cfg  config.Campaign
	deps Dependencies

	outputsDir   string
	scenariosDir string
	override     int
	suffixWidth  int
	parallelism  int

	now     func() time.Time
	stamper *layout.Stamper
	logger  *zap.Logger

	outLock sync.Mutex
	out     io.Writer
}

// Option changes the behaviour of a campaign.
type Option func(c *Campaign)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Campaign) {
		c.logger = l
	}
}

// WithProgress writes a progress line per iteration to the writer.
func WithProgress(out io.Writer) Option {
	return func(c *Campaign) {
		c.out = out
	}
}

// WithDirs changes the directories of the outputs and of the local copies of
// the scenarios.
func WithDirs(outputs, scenarios string) Option {
	return func(c *Campaign) {
		c.outputsDir = outputs
		c.scenariosDir = scenarios
	}
}

// WithFixedDuration forces the duration of the simulation. Zero means the
// duration is given by the trajectories.
func WithFixedDuration(d int) Option {
	return func(c *Campaign) {
		c.override = d
	}
}

// WithSuffixWidth changes the width of the suffix naming the local scenario.
func WithSuffixWidth(w int) Option {
	return func(c *Campaign) {
		c.suffixWidth = w
	}
}

// WithParallelism runs up to n iterations of an algorithm at the same time.
func WithParallelism(n int) Option {
	return func(c *Campaign) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithClock changes the clock used for the timestamps and the elapsed time.
func WithClock(now func() time.Time) Option {
	return func(c *Campaign) {
		c.now = now
		c.stamper = layout.NewStamper(now)
	}
}

// New creates a campaign. The configuration is copied and cannot change
// afterwards.
func New(cfg config.Campaign, deps Dependencies, opts ...Option) *Campaign {
	c := &Campaign{
		cfg:          cfg,
		deps:         deps,
		outputsDir:   config.DefaultOutputsDir,
		scenariosDir: config.DefaultScenariosDir,
		suffixWidth:  scenario.DefaultSuffixWidth,
		parallelism:  1,
		now:          time.Now,
		stamper:      layout.NewStamper(nil),
		logger:       zap.NewNop(),
		out:          ioutil.Discard,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run executes the campaign. Scenario, layout and non-isolated iteration
// failures abort it.
func (c *Campaign) Run(ctx context.Context) (Summary, error) {
	start := c.now()

	summary := Summary{}
	summary.ID = uuid.New().String()

	logger := c.logger.With(zap.String("campaign", summary.ID))
	enter(logger, PhaseInit)

	trajs, err := c.trajectories(ctx)
	if err != nil {
		return summary, err
	}

	duration, err := trajectory.Duration(trajs, c.override)
	if err != nil {
		return summary, xerrors.Errorf("couldn't resolve the duration: %w", err)
	}

	enter(logger, PhaseDurationResolved, zap.Int("duration", duration))

	resp, err := c.deps.Scenarios.RequestScenario(ctx, duration)
	if err != nil {
		return summary, xerrors.Errorf("couldn't acquire the scenario: %w", err)
	}

	enter(logger, PhaseScenarioAcquired,
		zap.String("scenario", resp.Scenario),
		zap.Int("nodes", resp.NodesAmount))

	err = os.MkdirAll(c.scenariosDir, 0755)
	if err != nil {
		return summary, xerrors.Errorf("couldn't create %s: %w", c.scenariosDir, err)
	}

	scen, err := scenario.NewMaterializer(c.suffixWidth, logger).Materialize(resp.Scenario, c.scenariosDir)
	if err != nil {
		return summary, xerrors.Errorf("couldn't materialize the scenario: %w", err)
	}

	enter(logger, PhaseScenarioMaterialized, zap.String("descriptor", scen.Descriptor))

	lay := layout.New(c.outputsDir, c.stamper)

	summary.OutputDir, summary.Timestamp, err = lay.Campaign()
	if err != nil {
		return summary, xerrors.Errorf("couldn't create the campaign directory: %w", err)
	}

	base := trial.Params{
		MainOutputDir: summary.OutputDir,
		ScenarioFile:  scen.Descriptor,
		Clusters:      resp.Clusters,
		NodesAmount:   resp.NodesAmount,
		Duration:      duration,
		Trajectories:  trajs,
	}

	for _, algo := range c.cfg.Algorithms() {
		enter(logger, PhaseAlgorithmRunning,
			zap.String("algorithm", algo.Name),
			zap.Int("iterations", algo.Iterations))

		run, err := c.runAlgorithm(ctx, logger, lay, summary.OutputDir, algo, base)
		if err != nil {
			return summary, err
		}

		enter(logger, PhaseAggregate,
			zap.String("algorithm", algo.Name),
			zap.Int("outputs", len(run.OutputPaths)),
			zap.Int("failures", run.Failures()))

		c.aggregate(ctx, logger, run, summary.CampaignInfo)

		summary.Runs = append(summary.Runs, run)
	}

	summary.Elapsed = c.now().Sub(start)

	mins := int(summary.Elapsed / time.Minute)
	secs := int(summary.Elapsed/time.Second) % 60

	enter(logger, PhaseDone,
		zap.Int("mins", mins),
		zap.Int("secs", secs),
		zap.String("elapsed", fmt.Sprintf("%d mins %d secs", mins, secs)))

	return summary, nil
}

func (c *Campaign) trajectories(ctx context.Context) ([]trajectory.Trajectory, error) {
	if c.deps.Trajectories == nil {
		return nil, nil
	}

	trajs, err := c.deps.Trajectories.Trajectories(ctx)
	if err != nil {
		return nil, xerrors.Errorf("couldn't get the trajectories: %w", err)
	}

	return trajs, nil
}

func (c *Campaign) runAlgorithm(ctx context.Context, logger *zap.Logger, lay *layout.Layout,
	campaignDir string, algo config.Algorithm, base trial.Params) (AlgorithmRun, error) {

	run := AlgorithmRun{
		Name:        algo.Name,
		Iterations:  make([]trial.Result, 0, algo.Iterations),
		OutputPaths: make([]string, 0, algo.Iterations),
	}

	dir, err := lay.Algorithm(campaignDir, algo.Dir)
	if err != nil {
		return run, xerrors.Errorf("couldn't create the algorithm directory: %w", err)
	}

	run.Dir = dir

	base.Algorithm = algo.Name
	runner := trial.NewRunner(c.deps.Simulator, logger)

	if c.parallelism > 1 {
		results, err := c.runParallel(ctx, logger, lay, runner, run.Dir, algo, base)
		if err != nil {
			return run, err
		}

		for _, res := range results {
			run.add(res)
		}

		return run, nil
	}

	for i := 0; i < algo.Iterations; i++ {
		err := ctx.Err()
		if err != nil {
			return run, xerrors.Errorf("campaign interrupted: %w", err)
		}

		res, err := c.runIteration(ctx, logger, lay, runner, run.Dir, algo, base, i)
		if err != nil {
			return run, err
		}

		run.add(res)
	}

	return run, nil
}

func (c *Campaign) runParallel(ctx context.Context, logger *zap.Logger, lay *layout.Layout,
	runner *trial.Runner, dir string, algo config.Algorithm, base trial.Params) ([]trial.Result, error) {

	results := make([]trial.Result, algo.Iterations)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)

	for i := 0; i < algo.Iterations; i++ {
		g.Go(func() error {
			err := gctx.Err()
			if err != nil {
				return xerrors.Errorf("campaign interrupted: %w", err)
			}

			res, err := c.runIteration(gctx, logger, lay, runner, dir, algo, base, i)
			results[i] = res

			return err
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	return results, nil
}

func (c *Campaign) runIteration(ctx context.Context, logger *zap.Logger, lay *layout.Layout,
	runner *trial.Runner, algoDir string, algo config.Algorithm, base trial.Params, i int) (trial.Result, error) {

	dir, err := lay.Iteration(algoDir)
	if err != nil {
		return trial.Result{Index: i}, xerrors.Errorf("couldn't create the iteration directory: %w", err)
	}

	params := base
	params.OutputDir = dir
	params.Iteration = i

	logger.Info("iteration started",
		zap.String("algorithm", algo.Name),
		zap.Int("iteration", i),
		zap.String("dir", dir))

	prefix := fmt.Sprintf("%s iteration %d/%d...", algo.Name, i+1, algo.Iterations)

	res, err := runner.Run(ctx, params, c.cfg.IsolateFailures)
	if err != nil {
		c.progress(prefix + " failed")
		return res, xerrors.Errorf("couldn't run the iteration: %w", err)
	}

	if res.Succeeded {
		c.progress(prefix + " ok")
	} else {
		c.progress(prefix + " failed")
	}

	return res, nil
}

func (c *Campaign) aggregate(ctx context.Context, logger *zap.Logger, run AlgorithmRun, info CampaignInfo) {
	if c.deps.Aggregator == nil {
		return
	}

	err := c.deps.Aggregator.Aggregate(ctx, run, info)
	if err != nil {
		// The iterations are kept when the aggregation fails.
		logger.Error("aggregation failed", zap.String("algorithm", run.Name), zap.Error(err))
	}
}

func (c *Campaign) progress(line string) {
	c.outLock.Lock()
	fmt.Fprintln(c.out, goterm.ResetLine(line))
	c.outLock.Unlock()
}

func enter(logger *zap.Logger, phase Phase, fields ...zap.Field) {
	logger.Info("phase", append([]zap.Field{zap.Stringer("phase", phase)}, fields...)...)
}
