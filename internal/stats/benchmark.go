package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

type BenchmarkSummary struct {
	RunID          string  `json:"run_id"`
	Scape          string  `json:"scape"`
	PopulationSize int     `json:"population_size"`
	Generations    int     `json:"generations"`
	Seed           int64   `json:"seed"`
	InitialBest    float64 `json:"initial_best"`
	FinalBest      float64 `json:"final_best"`
	BestMean       float64 `json:"best_mean"`
	BestStd        float64 `json:"best_std"`
	BestMax        float64 `json:"best_max"`
	BestMin        float64 `json:"best_min"`
	Improvement    float64 `json:"improvement"`
	MinImprovement float64 `json:"min_improvement"`
	Passed         bool    `json:"passed"`
}

// BuildBenchmarkSummary condenses a best-by-generation series into the
// pass/fail shape the benchmark file records. An empty series yields a
// zero summary that never passes.
func BuildBenchmarkSummary(cfg RunConfig, bestByGeneration []float64, minImprovement float64) BenchmarkSummary {
	summary := BenchmarkSummary{
		RunID:          cfg.RunID,
		Scape:          cfg.Scape,
		PopulationSize: cfg.Evolution.PopulationSize,
		Generations:    cfg.Generations,
		Seed:           cfg.Seed,
		MinImprovement: minImprovement,
	}
	if len(bestByGeneration) == 0 {
		return summary
	}

	summary.InitialBest = bestByGeneration[0]
	summary.FinalBest = bestByGeneration[len(bestByGeneration)-1]
	summary.BestMean = mean(bestByGeneration)
	summary.BestStd = populationStd(bestByGeneration, summary.BestMean)
	summary.BestMax = bestByGeneration[0]
	summary.BestMin = bestByGeneration[0]
	for _, best := range bestByGeneration[1:] {
		if best > summary.BestMax {
			summary.BestMax = best
		}
		if best < summary.BestMin {
			summary.BestMin = best
		}
	}
	summary.Improvement = summary.FinalBest - summary.InitialBest
	summary.Passed = summary.Improvement >= minImprovement
	return summary
}

func WriteBenchmarkSummary(runDir string, summary BenchmarkSummary) error {
	return writeJSON(filepath.Join(runDir, "benchmark_summary.json"), summary)
}

func ReadBenchmarkSummary(baseDir, runID string) (BenchmarkSummary, bool, error) {
	path := filepath.Join(baseDir, runID, "benchmark_summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return BenchmarkSummary{}, false, nil
		}
		return BenchmarkSummary{}, false, err
	}
	var summary BenchmarkSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return BenchmarkSummary{}, false, err
	}
	return summary, true, nil
}

func WriteBenchmarkSeries(runDir string, bestByGeneration []float64) error {
	path := filepath.Join(runDir, "benchmark_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_fitness"}); err != nil {
		return err
	}
	for i, best := range bestByGeneration {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(best, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadBenchmarkSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "benchmark_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("benchmark series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("benchmark series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values))
}

func populationStd(values []float64, mean float64) float64 {
	sum := 0.0
	for _, value := range values {
		diff := mean - value
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)))
}
