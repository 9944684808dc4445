package phylogen

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/voodooEntity/archivist"

	"phylogen/internal/config"
	"phylogen/internal/model"
	"phylogen/internal/platform"
	"phylogen/internal/scapeid"
	"phylogen/internal/stats"
	"phylogen/internal/storage"
	"phylogen/internal/tuning"
)

const (
	defaultBenchmarksDir = "benchmarks"
	defaultExportsDir    = "exports"
	defaultLogLevel      = "info"
)

// Options selects the backing store, artifact directories and log level
// for a Client. Zero fields take the defaults.
type Options struct {
	StoreBackend  string
	SQLitePath    string
	BenchmarksDir string
	ExportsDir    string
	LogLevel      string
}

// Client is the embedding surface over the platform and its store. One
// client owns one store and lazily starts one polis; Close releases
// both.
type Client struct {
	store storage.Store
	polis *platform.Polis

	storeBackend  string
	benchmarksDir string
	exportsDir    string
}

// RunRequest starts one evolutionary run. Settings carries the complete
// effective configuration; RunID is optional and generated when empty;
// ContinueFrom resumes from the population snapshot stored under that
// run id.
type RunRequest struct {
	Settings     config.Config
	RunID        string
	ContinueFrom string
	Benchmark    bool
}

type RunSummary struct {
	RunID            string
	Scape            string
	Seed             int64
	ArtifactsDir     string
	Generations      int
	BestByGeneration []float64
	FinalBestFitness float64
	GoalReached      bool
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	Scape            string
	Seed             int64
	Population       int
	Generations      int
	TuneAttempts     int
	FinalBestFitness float64
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

// SpeciesRequest selects one generation's species table. Generation 0
// means the last recorded generation of the run.
type SpeciesRequest struct {
	RunID      string
	Latest     bool
	Generation int
}

type SpeciesReport struct {
	RunID      string
	Generation int
	Species    []model.SpeciesMetrics
}

type LineageRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type TopRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type ScapeBest struct {
	Name        string
	Description string
	BestFitness float64
}

func New(opts Options) (*Client, error) {
	backend := opts.StoreBackend
	if backend == "" {
		backend = "memory"
	}
	benchmarksDir := opts.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = defaultLogLevel
	}
	archivist.Init(logLevel, "stdout", "")

	store, err := storage.NewStore(backend, opts.SQLitePath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:         store,
		storeBackend:  backend,
		benchmarksDir: benchmarksDir,
		exportsDir:    exportsDir,
	}, nil
}

// Close stops the polis when one was started and closes the store.
func (c *Client) Close() error {
	if c.polis != nil && c.polis.Started() {
		c.polis.Stop()
	}
	c.polis = nil
	return storage.CloseIfSupported(c.store)
}

// Init brings up the polis, which initializes the store and registers
// the built-in scapes.
func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

// Reset drops every stored record and restarts the polis lifecycle.
// Artifact files under the benchmarks directory are left in place.
func (c *Client) Reset(ctx context.Context) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.Reset(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg := req.Settings
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	targetScape, ok := p.GetScape(cfg.Run.Scape)
	if !ok {
		return RunSummary{}, fmt.Errorf("unknown scape: %s", cfg.Run.Scape)
	}
	scapeName := targetScape.Name()

	attemptPolicy, err := tuning.AttemptPolicyFromConfig(cfg.Tuning.Policy, cfg.Tuning.PolicyParam)
	if err != nil {
		return RunSummary{}, err
	}

	evoCfg := platform.EvolutionConfig{
		RunID:                 req.RunID,
		ScapeName:             scapeName,
		Generations:           cfg.Run.Generations,
		FitnessGoal:           cfg.Run.FitnessGoal,
		Workers:               cfg.Run.Workers,
		Seed:                  cfg.Run.Seed,
		Activation:            cfg.Run.Activation,
		Population:            cfg.PopulationConfig(),
		TuneAttempts:          cfg.Tuning.Attempts,
		TuneAttemptPolicy:     attemptPolicy,
		TuneStepSize:          cfg.Tuning.StepSize,
		TunePerturbationRange: cfg.Tuning.PerturbationRange,
		TuneAnnealingFactor:   cfg.Tuning.AnnealingFactor,
		TuneMinImprovement:    cfg.Tuning.MinImprovement,
	}
	if req.ContinueFrom != "" {
		snapshot, ok, err := c.store.GetPopulation(ctx, req.ContinueFrom)
		if err != nil {
			return RunSummary{}, err
		}
		if !ok {
			return RunSummary{}, fmt.Errorf("population not found for run id: %s", req.ContinueFrom)
		}
		if evoCfg.RunID == "" {
			evoCfg.RunID = snapshot.ID
		}
		evoCfg.Initial = snapshot.Genotypes
		evoCfg.InitialSpecies = snapshot.Species
		evoCfg.InitialGeneration = snapshot.Generation
	}

	result, err := p.RunEvolution(ctx, evoCfg)
	if err != nil {
		return RunSummary{}, err
	}

	runCfg := stats.RunConfig{
		RunID:                result.RunID,
		Scape:                scapeName,
		Generations:          cfg.Run.Generations,
		FitnessGoal:          cfg.Run.FitnessGoal,
		Seed:                 result.Seed,
		Workers:              cfg.Run.Workers,
		Activation:           cfg.Run.Activation,
		StoreBackend:         c.storeBackend,
		ContinuePopulationID: req.ContinueFrom,
		TuneAttempts:         cfg.Tuning.Attempts,
		Evolution:            cfg.PopulationConfig(),
	}
	if cfg.Tuning.Attempts > 0 {
		runCfg.TunePolicy = attemptPolicy.Name()
		runCfg.TunePolicyParam = cfg.Tuning.PolicyParam
		runCfg.TuneStepSize = cfg.Tuning.StepSize
		runCfg.TunePerturbationRange = cfg.Tuning.PerturbationRange
		runCfg.TuneAnnealingFactor = cfg.Tuning.AnnealingFactor
		runCfg.TuneMinImprovement = cfg.Tuning.MinImprovement
	}

	runDir, err := stats.WriteRunArtifacts(c.benchmarksDir, stats.RunArtifacts{
		Config:           runCfg,
		BestByGeneration: result.BestByGeneration,
		GenerationStats:  result.GenerationStats,
		FinalBestFitness: result.BestFitness,
		TopGenotypes:     result.Top,
		Lineage:          result.Lineage,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.benchmarksDir, stats.RunIndexEntry{
		RunID:            result.RunID,
		Scape:            scapeName,
		PopulationSize:   cfg.Evolution.PopulationSize,
		Generations:      len(result.BestByGeneration),
		Seed:             result.Seed,
		Workers:          cfg.Run.Workers,
		TuneAttempts:     cfg.Tuning.Attempts,
		FinalBestFitness: result.BestFitness,
		CreatedAtUTC:     time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}
	if req.Benchmark {
		summary := stats.BuildBenchmarkSummary(runCfg, result.BestByGeneration, 0)
		if err := stats.WriteBenchmarkSummary(runDir, summary); err != nil {
			return RunSummary{}, err
		}
		if err := stats.WriteBenchmarkSeries(runDir, result.BestByGeneration); err != nil {
			return RunSummary{}, err
		}
	}

	return RunSummary{
		RunID:            result.RunID,
		Scape:            scapeName,
		Seed:             result.Seed,
		ArtifactsDir:     filepath.Clean(runDir),
		Generations:      len(result.BestByGeneration),
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		FinalBestFitness: result.BestFitness,
		GoalReached:      result.GoalReached,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			CreatedAtUTC:     e.CreatedAtUTC,
			Scape:            e.Scape,
			Seed:             e.Seed,
			Population:       e.PopulationSize,
			Generations:      e.Generations,
			TuneAttempts:     e.TuneAttempts,
			FinalBestFitness: e.FinalBestFitness,
		})
	}
	return out, nil
}

// Best reports the best fitness ever recorded for a scape across runs.
func (c *Client) Best(ctx context.Context, scapeName string) (ScapeBest, error) {
	if scapeName == "" {
		return ScapeBest{}, errors.New("scape name is required")
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return ScapeBest{}, err
	}
	summary, ok, err := c.store.GetScapeSummary(ctx, scapeid.Normalize(scapeName))
	if err != nil {
		return ScapeBest{}, err
	}
	if !ok {
		return ScapeBest{}, fmt.Errorf("no recorded fitness for scape: %s", scapeName)
	}
	return ScapeBest{
		Name:        summary.Name,
		Description: summary.Description,
		BestFitness: summary.BestFitness,
	}, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req HistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Species(ctx context.Context, req SpeciesRequest) (SpeciesReport, error) {
	if req.Generation < 0 {
		return SpeciesReport{}, errors.New("generation must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return SpeciesReport{}, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return SpeciesReport{}, err
	}
	history, ok, err := c.store.GetGenerationStats(ctx, runID)
	if err != nil {
		return SpeciesReport{}, err
	}
	if !ok || len(history) == 0 {
		return SpeciesReport{}, fmt.Errorf("generation stats not found for run id: %s", runID)
	}

	entry := history[len(history)-1]
	if req.Generation > 0 {
		found := false
		for _, candidate := range history {
			if candidate.Generation == req.Generation {
				entry = candidate
				found = true
				break
			}
		}
		if !found {
			return SpeciesReport{}, fmt.Errorf("generation %d not recorded for run id: %s", req.Generation, runID)
		}
	}

	species := make([]model.SpeciesMetrics, len(entry.Species))
	copy(species, entry.Species)
	return SpeciesReport{
		RunID:      runID,
		Generation: entry.Generation,
		Species:    species,
	}, nil
}

func (c *Client) Lineage(ctx context.Context, req LineageRequest) ([]model.LineageRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	out := make([]model.LineageRecord, len(lineage))
	copy(out, lineage)
	return out, nil
}

func (c *Client) Top(ctx context.Context, req TopRequest) ([]model.TopGenotypeRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}
	top, ok, err := c.store.GetTopGenotypes(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("top genotypes not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(top) > req.Limit {
		top = top[:req.Limit]
	}
	out := make([]model.TopGenotypeRecord, len(top))
	copy(out, top)
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, outDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// resolveRunID applies the shared run id / latest flag contract of the
// query surface: exactly one of the two must identify a run.
func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}
	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil && c.polis.Started() {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{Store: c.store})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}
