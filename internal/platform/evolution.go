package platform

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voodooEntity/archivist"

	"phylogen/internal/evo"
	"phylogen/internal/genotype"
	"phylogen/internal/model"
	"phylogen/internal/morphology"
	"phylogen/internal/scape"
	"phylogen/internal/storage"
	"phylogen/internal/tuning"
)

// ProgressFunc receives the stats of each completed generation.
type ProgressFunc func(stats model.GenerationStats)

type EvolutionConfig struct {
	// RunID doubles as the population snapshot id. Empty draws a
	// fresh uuid.
	RunID       string
	ScapeName   string
	Mode        string
	Generations int
	FitnessGoal float64
	Workers     int
	// Seed 0 is replaced with the wall clock. The resolved value is
	// reported in the result.
	Seed       int64
	Activation string
	Population model.PopulationConfig

	TuneAttempts          int
	TuneAttemptPolicy     tuning.AttemptPolicy
	TuneStepSize          float64
	TunePerturbationRange float64
	TuneAnnealingFactor   float64
	TuneMinImprovement    float64

	Control  chan RunCommand
	Progress ProgressFunc

	// Initial resumes from an existing population instead of seeding
	// from the scape's morphology. InitialSpecies and
	// InitialGeneration carry the snapshot's speciation state and
	// generation count forward.
	Initial           []model.Genotype
	InitialSpecies    []model.Species
	InitialGeneration int
}

type EvolutionResult struct {
	RunID            string
	Seed             int64
	BestByGeneration []float64
	GenerationStats  []model.GenerationStats
	BestFitness      float64
	Best             model.Genotype
	Top              []model.TopGenotypeRecord
	Lineage          []model.LineageRecord
	GoalReached      bool
}

const topGenotypeCount = 5

// RunEvolution drives one run to completion: evaluate, speciate,
// snapshot, breed, generation by generation. The returned result holds
// the merged history when the run continues an earlier snapshot under
// the same id.
func (p *Polis) RunEvolution(ctx context.Context, cfg EvolutionConfig) (_ EvolutionResult, runErr error) {
	if cfg.ScapeName == "" {
		return EvolutionResult{}, errors.New("scape name is required")
	}
	if cfg.Generations <= 0 {
		return EvolutionResult{}, fmt.Errorf("generations must be > 0, got %d", cfg.Generations)
	}
	if cfg.Population.PopulationSize <= 0 {
		return EvolutionResult{}, fmt.Errorf("population size must be > 0, got %d", cfg.Population.PopulationSize)
	}
	if len(cfg.Initial) > 0 && len(cfg.Initial) != cfg.Population.PopulationSize {
		return EvolutionResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(cfg.Initial), cfg.Population.PopulationSize)
	}
	if cfg.InitialGeneration < 0 {
		return EvolutionResult{}, fmt.Errorf("initial generation must be >= 0, got %d", cfg.InitialGeneration)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Activation == "" {
		cfg.Activation = "tanh"
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.TuneAttempts > 0 {
		if cfg.TuneStepSize <= 0 {
			return EvolutionResult{}, errors.New("tune step size must be > 0 when tuning is enabled")
		}
		if cfg.TuneAttemptPolicy == nil {
			cfg.TuneAttemptPolicy = tuning.FixedAttemptPolicy{}
		}
	}

	targetScape, ok := p.GetScape(cfg.ScapeName)
	if !ok {
		return EvolutionResult{}, fmt.Errorf("scape not registered: %s", cfg.ScapeName)
	}
	scapeName := targetScape.Name()
	if err := morphology.EnsureScapeCompatibility(scapeName); err != nil {
		return EvolutionResult{}, fmt.Errorf("scape %s: %w", scapeName, err)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	control := cfg.Control
	if control == nil {
		control = make(chan RunCommand, defaultControlBacklog)
	}
	if err := p.registerRun(runID, scapeName, cfg.InitialGeneration, control); err != nil {
		return EvolutionResult{}, err
	}
	stoppedByCommand := false
	defer func() {
		state := RunStateCompleted
		switch {
		case runErr != nil:
			state = RunStateFailed
		case stoppedByCommand:
			state = RunStateStopped
		}
		p.completeRun(runID, state, runErr)
	}()

	rng := rand.New(rand.NewSource(cfg.Seed))
	reproduction, err := evo.NewReproduction(cfg.Population, rng)
	if err != nil {
		return EvolutionResult{}, err
	}

	var lineage []model.LineageRecord
	genotypes := cfg.Initial
	if len(genotypes) == 0 {
		m, found := morphology.ForScape(scapeName)
		if !found {
			return EvolutionResult{}, fmt.Errorf("no morphology registered for scape %s", scapeName)
		}
		seeded, err := morphology.SeedPopulation(m, cfg.Population.PopulationSize, cfg.Activation, rng)
		if err != nil {
			return EvolutionResult{}, fmt.Errorf("seed population: %w", err)
		}
		genotypes = seeded
		for _, g := range genotypes {
			lineage = append(lineage, model.LineageRecord{
				GenotypeID:  g.ID,
				Generation:  0,
				Operation:   "seed",
				Fingerprint: genotype.Fingerprint(g),
				Summary:     genotype.Summarize(g),
			})
		}
	}
	if err := morphology.EnsurePopulationIOCompatibility(scapeName, genotypes); err != nil {
		return EvolutionResult{}, err
	}

	pop := model.Population{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:         runID,
		Generation: cfg.InitialGeneration,
		Genotypes:  genotypes,
		Species:    append([]model.Species(nil), cfg.InitialSpecies...),
		Config:     cfg.Population,
	}

	archivist.InfoF("run %s started: scape=%s generations=%d population=%d workers=%d seed=%d tune_attempts=%d",
		runID, scapeName, cfg.Generations, cfg.Population.PopulationSize, cfg.Workers, cfg.Seed, cfg.TuneAttempts)

	var (
		bestByGeneration []float64
		statsHistory     []model.GenerationStats
		best             model.Genotype
		bestFitness      float64
		haveBest         bool
		totalEvaluations int
		totalFailed      int
		goalReached      bool
	)

	for step := 0; step < cfg.Generations; step++ {
		stop, err := p.drainRunControl(ctx, runID, control)
		if err != nil {
			return EvolutionResult{}, err
		}
		if stop {
			stoppedByCommand = true
			archivist.InfoF("run %s stopped by command at generation %d", runID, pop.Generation)
			break
		}

		if step > 0 {
			next, bred, err := reproduction.NextGeneration(ctx, pop)
			if err != nil {
				archivist.ErrorF("run %s: breed generation %d: %s", runID, pop.Generation+1, err)
				return EvolutionResult{}, fmt.Errorf("breed generation %d: %w", pop.Generation+1, err)
			}
			pop = next
			lineage = append(lineage, bred...)
		}

		generation := cfg.InitialGeneration + step + 1
		evaluated, evals, failed, err := p.evaluateGeneration(ctx, targetScape, cfg, generation, pop.Genotypes)
		if err != nil {
			return EvolutionResult{}, err
		}
		totalEvaluations += evals
		totalFailed += failed

		previousSpecies := pop.Species
		assigned, species, err := evo.Speciate(evaluated, previousSpecies, cfg.Population, generation)
		if err != nil {
			return EvolutionResult{}, fmt.Errorf("speciate generation %d: %w", generation, err)
		}

		stats := buildGenerationStats(generation, assigned, species, previousSpecies, cfg.Population.StagnationWindow, failed)
		statsHistory = append(statsHistory, stats)
		bestByGeneration = append(bestByGeneration, stats.BestFitness)
		for _, g := range assigned {
			if !haveBest || g.Fitness > bestFitness {
				best = genotype.Clone(g)
				bestFitness = g.Fitness
				haveBest = true
			}
		}

		pop.Generation = generation
		pop.Genotypes = assigned
		pop.Species = species
		pop.Stats = model.PopulationStats{
			BestFitness:       bestFitness,
			MeanFitness:       stats.MeanFitness,
			TotalEvaluations:  totalEvaluations,
			FailedEvaluations: totalFailed,
		}
		if err := p.store.SavePopulation(ctx, pop); err != nil {
			archivist.ErrorF("run %s: snapshot generation %d: %s", runID, generation, err)
			return EvolutionResult{}, fmt.Errorf("snapshot generation %d: %w", generation, err)
		}

		p.updateRunStatus(runID, func(st *RunStatus) {
			st.Generation = generation
			st.BestFitness = bestFitness
		})
		if cfg.Progress != nil {
			cfg.Progress(stats)
		}
		archivist.DebugF("run %s generation %d: best=%.4f mean=%.4f species=%d failed=%d",
			runID, generation, stats.BestFitness, stats.MeanFitness, stats.SpeciesCount, failed)

		if cfg.FitnessGoal > 0 && stats.BestFitness >= cfg.FitnessGoal {
			goalReached = true
			archivist.InfoF("run %s reached fitness goal %.4f at generation %d", runID, cfg.FitnessGoal, generation)
			break
		}
	}

	result := EvolutionResult{
		RunID:            runID,
		Seed:             cfg.Seed,
		BestByGeneration: bestByGeneration,
		GenerationStats:  statsHistory,
		BestFitness:      bestFitness,
		Best:             best,
		Lineage:          lineage,
		GoalReached:      goalReached,
	}
	result.Top = rankTopGenotypes(pop.Genotypes, topGenotypeCount)

	if cfg.InitialGeneration > 0 {
		merged, err := p.mergeStoredRunHistory(ctx, runID, result)
		if err != nil {
			return EvolutionResult{}, err
		}
		result = merged
	}

	if len(result.BestByGeneration) > 0 {
		if err := p.persistRunResults(ctx, runID, scapeName, result); err != nil {
			archivist.ErrorF("run %s: persist results: %s", runID, err)
			return EvolutionResult{}, err
		}
	}

	archivist.InfoF("run %s finished: generations=%d best=%.4f goal_reached=%t evaluations=%d failed=%d",
		runID, len(result.BestByGeneration), result.BestFitness, result.GoalReached, totalEvaluations, totalFailed)
	return result, nil
}

// drainRunControl consumes queued commands without blocking unless a
// pause arrives, in which case it waits for continue or stop.
func (p *Polis) drainRunControl(ctx context.Context, runID string, control <-chan RunCommand) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case cmd := <-control:
			switch cmd {
			case CommandStop:
				return true, nil
			case CommandPause:
				stop, err := p.awaitContinue(ctx, runID, control)
				if stop || err != nil {
					return stop, err
				}
			}
		default:
			return false, nil
		}
	}
}

func (p *Polis) awaitContinue(ctx context.Context, runID string, control <-chan RunCommand) (bool, error) {
	p.updateRunStatus(runID, func(st *RunStatus) { st.State = RunStatePaused })
	defer p.updateRunStatus(runID, func(st *RunStatus) { st.State = RunStateRunning })
	archivist.InfoF("run %s paused", runID)

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case cmd := <-control:
			switch cmd {
			case CommandStop:
				return true, nil
			case CommandContinue:
				archivist.InfoF("run %s continued", runID)
				return false, nil
			}
		}
	}
}

type evalOutcome struct {
	index       int
	genotype    model.Genotype
	evaluations int
	failed      bool
}

// evaluateGeneration scores every genotype through a bounded worker
// pool and merges results back by index. A failed evaluation pins
// fitness 0 for that genotype only.
func (p *Polis) evaluateGeneration(ctx context.Context, sc scape.Scape, cfg EvolutionConfig, generation int, genotypes []model.Genotype) ([]model.Genotype, int, int, error) {
	jobs := make(chan int)
	results := make(chan evalOutcome, len(genotypes))

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results <- evaluateOne(ctx, sc, cfg, generation, idx, genotypes[idx])
			}
		}()
	}
	for idx := range genotypes {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, 0, 0, err
	}

	evaluated := make([]model.Genotype, len(genotypes))
	evaluations := 0
	failed := 0
	for outcome := range results {
		evaluated[outcome.index] = outcome.genotype
		evaluations += outcome.evaluations
		if outcome.failed {
			failed++
		}
	}
	return evaluated, evaluations, failed, nil
}

func evaluateOne(ctx context.Context, sc scape.Scape, cfg EvolutionConfig, generation, index int, g model.Genotype) evalOutcome {
	outcome := evalOutcome{index: index}
	score := func(ctx context.Context, candidate model.Genotype) (float64, error) {
		fitness, _, err := evaluateScape(ctx, sc, candidate, cfg.Mode)
		return float64(fitness), err
	}

	if cfg.TuneAttempts > 0 {
		attempts := cfg.TuneAttemptPolicy.Attempts(cfg.TuneAttempts, generation, cfg.InitialGeneration+cfg.Generations, g)
		tuner := &tuning.Exoself{
			Rand:              rand.New(rand.NewSource(tuneSeed(cfg.Seed, generation, g.ID))),
			StepSize:          cfg.TuneStepSize,
			PerturbationRange: cfg.TunePerturbationRange,
			AnnealingFactor:   cfg.TuneAnnealingFactor,
			MinImprovement:    cfg.TuneMinImprovement,
			GoalFitness:       cfg.FitnessGoal,
		}
		tuned, report, err := tuner.TuneWithReport(ctx, g, attempts, score)
		outcome.evaluations = report.CandidateEvaluations
		if err != nil {
			archivist.WarningF("tuning failed for genotype %s: %s", g.ID, err)
			outcome.failed = true
			failed := genotype.Clone(g)
			failed.Fitness = 0
			outcome.genotype = failed
			return outcome
		}
		outcome.genotype = tuned
		return outcome
	}

	outcome.evaluations = 1
	scored := genotype.Clone(g)
	fitness, err := score(ctx, scored)
	if err != nil {
		archivist.WarningF("evaluation failed for genotype %s: %s", g.ID, err)
		outcome.failed = true
		scored.Fitness = 0
	} else {
		scored.Fitness = fitness
	}
	outcome.genotype = scored
	return outcome
}

func evaluateScape(ctx context.Context, sc scape.Scape, g model.Genotype, mode string) (scape.Fitness, scape.Trace, error) {
	if mode != "" {
		if modal, ok := sc.(scape.ModeAwareScape); ok {
			return modal.EvaluateMode(ctx, g, mode)
		}
	}
	return sc.Evaluate(ctx, g)
}

// tuneSeed derives a per-genotype random seed so tuning results do not
// depend on worker scheduling.
func tuneSeed(base int64, generation int, id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return base ^ int64(h.Sum64()) ^ (int64(generation) << 32)
}

func buildGenerationStats(generation int, genotypes []model.Genotype, species, previous []model.Species, stagnationWindow, failed int) model.GenerationStats {
	stats := model.GenerationStats{
		Generation:        generation,
		SpeciesCount:      len(species),
		FailedEvaluations: failed,
	}

	sum := 0.0
	for i, g := range genotypes {
		sum += g.Fitness
		if i == 0 || g.Fitness > stats.BestFitness {
			stats.BestFitness = g.Fitness
		}
	}
	if len(genotypes) > 0 {
		stats.MeanFitness = sum / float64(len(genotypes))
	}

	fitnessBySpecies := make(map[string][]float64, len(species))
	for _, g := range genotypes {
		fitnessBySpecies[g.SpeciesID] = append(fitnessBySpecies[g.SpeciesID], g.Fitness)
	}
	for _, sp := range species {
		members := fitnessBySpecies[sp.ID]
		metric := model.SpeciesMetrics{
			SpeciesID:    sp.ID,
			Size:         len(members),
			Age:          sp.Age,
			LastImproved: sp.LastImproved,
			Stagnant:     evo.Stagnant(sp, generation, stagnationWindow),
		}
		memberSum := 0.0
		for i, fitness := range members {
			memberSum += fitness
			if i == 0 || fitness > metric.BestFitness {
				metric.BestFitness = fitness
			}
		}
		if len(members) > 0 {
			metric.MeanFitness = memberSum / float64(len(members))
		}
		stats.Species = append(stats.Species, metric)
	}

	known := make(map[string]struct{}, len(previous))
	for _, sp := range previous {
		known[sp.ID] = struct{}{}
	}
	for _, sp := range species {
		if _, ok := known[sp.ID]; !ok {
			stats.NewSpecies = append(stats.NewSpecies, sp.ID)
		}
	}
	current := make(map[string]struct{}, len(species))
	for _, sp := range species {
		current[sp.ID] = struct{}{}
	}
	for _, sp := range previous {
		if _, ok := current[sp.ID]; !ok {
			stats.ExtinctSpecies = append(stats.ExtinctSpecies, sp.ID)
		}
	}
	return stats
}

func rankTopGenotypes(genotypes []model.Genotype, limit int) []model.TopGenotypeRecord {
	if len(genotypes) == 0 {
		return nil
	}
	ranked := append([]model.Genotype(nil), genotypes...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	top := make([]model.TopGenotypeRecord, 0, len(ranked))
	for i, g := range ranked {
		top = append(top, model.TopGenotypeRecord{
			Rank:     i + 1,
			Fitness:  g.Fitness,
			Genotype: genotype.Clone(g),
		})
	}
	return top
}

// mergeStoredRunHistory prepends history persisted under the same run
// id by the snapshot this run continued from.
func (p *Polis) mergeStoredRunHistory(ctx context.Context, runID string, current EvolutionResult) (EvolutionResult, error) {
	if history, ok, err := p.store.GetFitnessHistory(ctx, runID); err != nil {
		return EvolutionResult{}, err
	} else if ok {
		current.BestByGeneration = append(append([]float64(nil), history...), current.BestByGeneration...)
	}

	if stats, ok, err := p.store.GetGenerationStats(ctx, runID); err != nil {
		return EvolutionResult{}, err
	} else if ok {
		current.GenerationStats = append(append([]model.GenerationStats(nil), stats...), current.GenerationStats...)
	}

	if lineage, ok, err := p.store.GetLineage(ctx, runID); err != nil {
		return EvolutionResult{}, err
	} else if ok {
		current.Lineage = append(append([]model.LineageRecord(nil), lineage...), current.Lineage...)
	}

	stored, ok, err := p.store.GetTopGenotypes(ctx, runID)
	if err != nil {
		return EvolutionResult{}, err
	}
	if ok && len(stored) > 0 {
		merged := append([]model.TopGenotypeRecord(nil), stored...)
		merged = append(merged, current.Top...)
		sort.SliceStable(merged, func(i, j int) bool { return merged[i].Fitness > merged[j].Fitness })
		seen := make(map[string]struct{}, len(merged))
		unique := merged[:0]
		for _, record := range merged {
			if record.Genotype.ID != "" {
				if _, exists := seen[record.Genotype.ID]; exists {
					continue
				}
				seen[record.Genotype.ID] = struct{}{}
			}
			unique = append(unique, record)
		}
		if len(unique) > topGenotypeCount {
			unique = unique[:topGenotypeCount]
		}
		for i := range unique {
			unique[i].Rank = i + 1
		}
		current.Top = unique
		if len(unique) > 0 && unique[0].Fitness > current.BestFitness {
			current.BestFitness = unique[0].Fitness
			current.Best = genotype.Clone(unique[0].Genotype)
		}
	}
	return current, nil
}

func (p *Polis) persistRunResults(ctx context.Context, runID, scapeName string, result EvolutionResult) error {
	if err := p.store.SaveFitnessHistory(ctx, runID, result.BestByGeneration); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := p.store.SaveGenerationStats(ctx, runID, result.GenerationStats); err != nil {
		return fmt.Errorf("save generation stats: %w", err)
	}
	if err := p.store.SaveLineage(ctx, runID, result.Lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}
	if err := p.store.SaveTopGenotypes(ctx, runID, result.Top); err != nil {
		return fmt.Errorf("save top genotypes: %w", err)
	}
	for _, record := range result.Top {
		if err := p.store.SaveGenotype(ctx, record.Genotype); err != nil {
			return fmt.Errorf("save top genotype %s: %w", record.Genotype.ID, err)
		}
	}
	return p.updateScapeSummary(ctx, scapeName, result.BestFitness)
}

func (p *Polis) updateScapeSummary(ctx context.Context, scapeName string, fitness float64) error {
	summary, ok, err := p.store.GetScapeSummary(ctx, scapeName)
	if err != nil {
		return err
	}
	if !ok {
		summary = model.ScapeSummary{
			VersionedRecord: model.VersionedRecord{
				SchemaVersion: storage.CurrentSchemaVersion,
				CodecVersion:  storage.CurrentCodecVersion,
			},
			Name:        scapeName,
			Description: fmt.Sprintf("best observed fitness for scape %s", scapeName),
			BestFitness: fitness,
		}
	} else if fitness > summary.BestFitness {
		summary.BestFitness = fitness
	}
	return p.store.SaveScapeSummary(ctx, summary)
}
