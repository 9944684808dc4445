package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"phylogen/internal/config"
	"phylogen/internal/model"
	"phylogen/pkg/phylogen"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "species":
		return runSpecies(ctx, args[1:])
	case "lineage":
		return runLineage(ctx, args[1:])
	case "top":
		return runTop(ctx, args[1:])
	case "best":
		return runBest(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: phylogenctl <init|reset|run|runs|fitness|species|lineage|top|best|export> [flags]", msg)
}

func requireRunSelector(cmd, runID string, latest bool) error {
	if runID != "" && latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if runID == "" && !latest {
		return fmt.Errorf("%s requires --run-id or --latest", cmd)
	}
	return nil
}

// storeFlags are shared by every subcommand that opens the store or the
// artifacts directory.
type storeFlags struct {
	backend       *string
	dbPath        *string
	benchmarksDir *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		backend:       fs.String("store", "memory", "store backend: memory|sqlite"),
		dbPath:        fs.String("db-path", "phylogen.db", "sqlite database path"),
		benchmarksDir: fs.String("benchmarks-dir", "benchmarks", "run artifacts directory"),
	}
}

func (f storeFlags) client(logLevel string) (*phylogen.Client, error) {
	return phylogen.New(phylogen.Options{
		StoreBackend:  *f.backend,
		SQLitePath:    *f.dbPath,
		BenchmarksDir: *f.benchmarksDir,
		LogLevel:      logLevel,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client("info")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *store.backend)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client("info")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Reset(ctx); err != nil {
		return err
	}
	fmt.Printf("reset store=%s\n", *store.backend)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "INI config path; set flags override file values")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	continueFrom := fs.String("continue", "", "continue from the population snapshot stored under this run id")
	benchmark := fs.Bool("benchmark", false, "write benchmark summary and series files")
	scapeName := fs.String("scape", "xor", "scape name")
	generations := fs.Int("gens", 50, "generation count")
	population := fs.Int("pop", 50, "population size")
	seed := fs.Int64("seed", 0, "rng seed (0 derives one from the clock)")
	workers := fs.Int("workers", 0, "evaluation worker count (0 for sequential)")
	fitnessGoal := fs.Float64("fitness-goal", 0, "early-stop best fitness goal (0 disables)")
	activation := fs.String("activation", "tanh", "activation function for seeded neurons")
	tuneAttempts := fs.Int("attempts", 0, "exoself tuning attempts per evaluation (0 disables tuning)")
	tuneStepSize := fs.Float64("tune-step-size", 0.5, "tuning perturbation step size")
	tunePolicy := fs.String("tune-policy", "fixed", "tuning attempt policy: fixed|linear_decay|topology_scaled")
	logLevel := fs.String("log-level", "", "log level: debug|info|warning|error")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if setFlags["scape"] {
		cfg.Run.Scape = *scapeName
	}
	if setFlags["gens"] {
		cfg.Run.Generations = *generations
	}
	if setFlags["pop"] {
		cfg.Evolution.PopulationSize = *population
	}
	if setFlags["seed"] {
		cfg.Run.Seed = *seed
	}
	if setFlags["workers"] {
		cfg.Run.Workers = *workers
	}
	if setFlags["fitness-goal"] {
		cfg.Run.FitnessGoal = *fitnessGoal
	}
	if setFlags["activation"] {
		cfg.Run.Activation = *activation
	}
	if setFlags["attempts"] {
		cfg.Tuning.Attempts = *tuneAttempts
	}
	if setFlags["tune-step-size"] {
		cfg.Tuning.StepSize = *tuneStepSize
	}
	if setFlags["tune-policy"] {
		cfg.Tuning.Policy = *tunePolicy
	}
	if setFlags["log-level"] {
		cfg.Run.LogLevel = *logLevel
	}
	if setFlags["store"] {
		cfg.Storage.Backend = *store.backend
	}
	if setFlags["db-path"] {
		cfg.Storage.SQLitePath = *store.dbPath
	}
	if setFlags["benchmarks-dir"] {
		cfg.Storage.BenchmarksDir = *store.benchmarksDir
	}
	if cfg.Storage.Backend == "sqlite" && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = *store.dbPath
	}

	benchmarksDir := cfg.Storage.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = "benchmarks"
	}
	client, err := phylogen.New(phylogen.Options{
		StoreBackend:  cfg.Storage.Backend,
		SQLitePath:    cfg.Storage.SQLitePath,
		BenchmarksDir: benchmarksDir,
		LogLevel:      cfg.Run.LogLevel,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, phylogen.RunRequest{
		Settings:     cfg,
		RunID:        *runID,
		ContinueFrom: *continueFrom,
		Benchmark:    *benchmark,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run completed run_id=%s scape=%s pop=%d gens=%d seed=%d\n",
		summary.RunID, summary.Scape, cfg.Evolution.PopulationSize, summary.Generations, summary.Seed)
	for i, best := range summary.BestByGeneration {
		fmt.Printf("generation=%d best_fitness=%.6f\n", i+1, best)
	}
	fmt.Printf("final_best_fitness=%.6f\n", summary.FinalBestFitness)
	if summary.GoalReached {
		fmt.Printf("fitness_goal_reached goal=%.6f\n", cfg.Run.FitnessGoal)
	}
	fmt.Printf("artifacts_dir=%s\n", summary.ArtifactsDir)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	benchmarksDir := fs.String("benchmarks-dir", "benchmarks", "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := phylogen.New(phylogen.Options{
		BenchmarksDir: *benchmarksDir,
		LogLevel:      "error",
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, phylogen.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		type runsItem struct {
			RunID            string  `json:"run_id"`
			CreatedAtUTC     string  `json:"created_at_utc"`
			Scape            string  `json:"scape"`
			Seed             int64   `json:"seed"`
			PopulationSize   int     `json:"population_size"`
			Generations      int     `json:"generations"`
			TuneAttempts     int     `json:"tune_attempts"`
			FinalBestFitness float64 `json:"final_best_fitness"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem{
				RunID:            item.RunID,
				CreatedAtUTC:     item.CreatedAtUTC,
				Scape:            item.Scape,
				Seed:             item.Seed,
				PopulationSize:   item.Population,
				Generations:      item.Generations,
				TuneAttempts:     item.TuneAttempts,
				FinalBestFitness: item.FinalBestFitness,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s scape=%s seed=%d pop=%d gens=%d tune_attempts=%d final_best_fitness=%.6f\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Scape,
			item.Seed,
			item.Population,
			item.Generations,
			item.TuneAttempts,
			item.FinalBestFitness,
		)
	}
	return nil
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	limit := fs.Int("limit", 0, "max generations to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit fitness history as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRunSelector("fitness", *runID, *latest); err != nil {
		return err
	}

	client, err := store.client("error")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, phylogen.HistoryRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no fitness history")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}

	for i, best := range history {
		fmt.Printf("generation=%d best_fitness=%.6f\n", i+1, best)
	}
	return nil
}

func runSpecies(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("species", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	generation := fs.Int("generation", 0, "generation to report (0 for the last recorded)")
	jsonOut := fs.Bool("json", false, "emit the species report as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRunSelector("species", *runID, *latest); err != nil {
		return err
	}

	client, err := store.client("error")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	report, err := client.Species(ctx, phylogen.SpeciesRequest{
		RunID:      *runID,
		Latest:     *latest,
		Generation: *generation,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		type speciesReport struct {
			RunID      string                 `json:"run_id"`
			Generation int                    `json:"generation"`
			Species    []model.SpeciesMetrics `json:"species"`
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(speciesReport{
			RunID:      report.RunID,
			Generation: report.Generation,
			Species:    report.Species,
		})
	}

	fmt.Printf("run_id=%s generation=%d species=%d\n", report.RunID, report.Generation, len(report.Species))
	for _, sp := range report.Species {
		fmt.Printf("species_id=%s size=%d best=%.6f mean=%.6f age=%d last_improved=%d stagnant=%t\n",
			sp.SpeciesID,
			sp.Size,
			sp.BestFitness,
			sp.MeanFitness,
			sp.Age,
			sp.LastImproved,
			sp.Stagnant,
		)
	}
	return nil
}

func runLineage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lineage", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	limit := fs.Int("limit", 50, "max lineage rows to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit lineage rows as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRunSelector("lineage", *runID, *latest); err != nil {
		return err
	}

	client, err := store.client("error")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	lineage, err := client.Lineage(ctx, phylogen.LineageRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(lineage) == 0 {
		fmt.Println("no lineage records")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(lineage)
	}

	for _, rec := range lineage {
		parents := "-"
		if len(rec.ParentIDs) > 0 {
			parents = strings.Join(rec.ParentIDs, "+")
		}
		fmt.Printf("gen=%d genotype_id=%s parents=%s op=%s fingerprint=%s neurons=%d connections=%d\n",
			rec.Generation,
			rec.GenotypeID,
			parents,
			rec.Operation,
			rec.Fingerprint,
			rec.Summary.TotalNeurons,
			rec.Summary.TotalConnections,
		)
	}
	return nil
}

func runTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	limit := fs.Int("limit", 5, "max top genotypes to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit top genotypes as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRunSelector("top", *runID, *latest); err != nil {
		return err
	}

	client, err := store.client("error")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	top, err := client.Top(ctx, phylogen.TopRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Println("no top genotypes")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(top)
	}

	for _, item := range top {
		enabled := 0
		for _, conn := range item.Genotype.Connections {
			if conn.Enabled {
				enabled++
			}
		}
		fmt.Printf("rank=%d fitness=%.6f genotype_id=%s nodes=%d connections=%d enabled=%d\n",
			item.Rank,
			item.Fitness,
			item.Genotype.ID,
			len(item.Genotype.Nodes),
			len(item.Genotype.Connections),
			enabled,
		)
	}
	return nil
}

func runBest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("best", flag.ContinueOnError)
	scapeName := fs.String("scape", "", "scape name")
	jsonOut := fs.Bool("json", false, "emit the scape summary as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scapeName == "" {
		return errors.New("best requires --scape")
	}

	client, err := store.client("error")
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	best, err := client.Best(ctx, *scapeName)
	if err != nil {
		return err
	}
	if *jsonOut {
		type scapeBest struct {
			Name        string  `json:"name"`
			Description string  `json:"description"`
			BestFitness float64 `json:"best_fitness"`
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(scapeBest{
			Name:        best.Name,
			Description: best.Description,
			BestFitness: best.BestFitness,
		})
	}

	fmt.Printf("scape=%s best_fitness=%.6f description=%s\n", best.Name, best.BestFitness, best.Description)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from the run index")
	outDir := fs.String("out", "", "output directory (default exports)")
	benchmarksDir := fs.String("benchmarks-dir", "benchmarks", "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireRunSelector("export", *runID, *latest); err != nil {
		return err
	}

	client, err := phylogen.New(phylogen.Options{
		BenchmarksDir: *benchmarksDir,
		LogLevel:      "error",
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, phylogen.ExportRequest{
		RunID:  *runID,
		Latest: *latest,
		OutDir: *outDir,
	})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
	return nil
}
