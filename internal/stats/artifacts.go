// Package stats writes per-run artifact files under a benchmarks
// directory and maintains the run index the CLI lists runs from. The
// artifact files duplicate what the store holds so a run directory can
// be inspected or exported without a live store.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"phylogen/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig echoes the effective settings a run started with.
// Evolution carries the reproduction parameters verbatim so a resumed
// run and its artifacts agree on them.
type RunConfig struct {
	RunID                 string                 `json:"run_id"`
	Scape                 string                 `json:"scape"`
	Generations           int                    `json:"generations"`
	FitnessGoal           float64                `json:"fitness_goal,omitempty"`
	Seed                  int64                  `json:"seed"`
	Workers               int                    `json:"workers"`
	Activation            string                 `json:"activation,omitempty"`
	StoreBackend          string                 `json:"store_backend,omitempty"`
	ContinuePopulationID  string                 `json:"continue_population_id,omitempty"`
	TuneAttempts          int                    `json:"tune_attempts"`
	TunePolicy            string                 `json:"tune_policy,omitempty"`
	TunePolicyParam       float64                `json:"tune_policy_param,omitempty"`
	TuneStepSize          float64                `json:"tune_step_size,omitempty"`
	TunePerturbationRange float64                `json:"tune_perturbation_range,omitempty"`
	TuneAnnealingFactor   float64                `json:"tune_annealing_factor,omitempty"`
	TuneMinImprovement    float64                `json:"tune_min_improvement,omitempty"`
	Evolution             model.PopulationConfig `json:"evolution"`
}

type FitnessHistoryArtifact struct {
	BestByGeneration []float64 `json:"best_by_generation"`
	FinalBestFitness float64   `json:"final_best_fitness"`
}

type RunArtifacts struct {
	Config           RunConfig                 `json:"config"`
	BestByGeneration []float64                 `json:"best_by_generation"`
	GenerationStats  []model.GenerationStats   `json:"generation_stats,omitempty"`
	FinalBestFitness float64                   `json:"final_best_fitness"`
	TopGenotypes     []model.TopGenotypeRecord `json:"top_genotypes"`
	Lineage          []model.LineageRecord     `json:"lineage"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	Scape            string  `json:"scape"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	Workers          int     `json:"workers"`
	TuneAttempts     int     `json:"tune_attempts"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	history := FitnessHistoryArtifact{
		BestByGeneration: artifacts.BestByGeneration,
		FinalBestFitness: artifacts.FinalBestFitness,
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), history); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_stats.json"), artifacts.GenerationStats); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "top_genotypes.json"), artifacts.TopGenotypes); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "lineage.json"), artifacts.Lineage); err != nil {
		return "", err
	}

	return runDir, nil
}

// AppendRunIndex inserts or replaces the entry for its run id. The
// index file stays append-only from the caller's point of view; a rerun
// with the same id overwrites its previous row.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first. Entries sharing a
// timestamp keep later appended rows ahead of earlier ones.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "fitness_history.json", "generation_stats.json", "top_genotypes.json", "lineage.json"}
	for _, file := range files {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	optional := []string{"benchmark_summary.json", "benchmark_series.csv"}
	for _, file := range optional {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadFitnessHistory(baseDir, runID string) (FitnessHistoryArtifact, bool, error) {
	path := filepath.Join(baseDir, runID, "fitness_history.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FitnessHistoryArtifact{}, false, nil
		}
		return FitnessHistoryArtifact{}, false, err
	}

	var history FitnessHistoryArtifact
	if err := json.Unmarshal(data, &history); err != nil {
		return FitnessHistoryArtifact{}, false, err
	}
	return history, true, nil
}

func ReadGenerationStats(baseDir, runID string) ([]model.GenerationStats, bool, error) {
	path := filepath.Join(baseDir, runID, "generation_stats.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var stats []model.GenerationStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, false, err
	}
	return stats, true, nil
}

func ReadTopGenotypes(baseDir, runID string) ([]model.TopGenotypeRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "top_genotypes.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var top []model.TopGenotypeRecord
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, false, err
	}
	return top, true, nil
}

func ReadLineage(baseDir, runID string) ([]model.LineageRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "lineage.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var lineage []model.LineageRecord
	if err := json.Unmarshal(data, &lineage); err != nil {
		return nil, false, err
	}
	return lineage, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
