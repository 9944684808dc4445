//go:build sqlite

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"phylogen/internal/stats"
)

func runSQLiteSeed(t *testing.T, dbPath, seed string) string {
	t.Helper()
	args := []string{
		"run",
		"--store", "sqlite",
		"--db-path", dbPath,
		"--scape", "xor",
		"--pop", "6",
		"--gens", "2",
		"--seed", seed,
		"--workers", "2",
		"--log-level", "error",
	}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run command: %v", err)
	}
	entries, err := stats.ListRunIndex("benchmarks")
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one indexed run")
	}
	return entries[0].RunID
}

func TestRunCommandSQLiteCreatesArtifacts(t *testing.T) {
	workdir := chdirTemp(t)

	dbPath := filepath.Join(workdir, "phylogen.db")
	runID := runSQLiteSeed(t, dbPath, "11")

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected sqlite db at %s: %v", dbPath, err)
	}
	for _, file := range []string{"config.json", "fitness_history.json", "generation_stats.json", "top_genotypes.json", "lineage.json"} {
		path := filepath.Join("benchmarks", runID, file)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected artifact %s: %v", path, err)
		}
	}

	runCfg, ok, err := stats.ReadRunConfig("benchmarks", runID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if runCfg.StoreBackend != "sqlite" {
		t.Fatalf("expected sqlite store backend, got %s", runCfg.StoreBackend)
	}
}

func TestFitnessCommandSQLiteReadsPersistedHistory(t *testing.T) {
	workdir := chdirTemp(t)

	dbPath := filepath.Join(workdir, "phylogen.db")
	runSQLiteSeed(t, dbPath, "42")

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"fitness",
			"--store", "sqlite",
			"--db-path", dbPath,
			"--latest",
			"--limit", "2",
		})
	})
	if err != nil {
		t.Fatalf("fitness command: %v", err)
	}
	if !strings.Contains(out, "generation=1") || !strings.Contains(out, "best_fitness=") {
		t.Fatalf("unexpected fitness output: %s", out)
	}
}

func TestSpeciesCommandSQLiteReadsPersistedStats(t *testing.T) {
	workdir := chdirTemp(t)

	dbPath := filepath.Join(workdir, "phylogen.db")
	runSQLiteSeed(t, dbPath, "43")

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"species",
			"--store", "sqlite",
			"--db-path", dbPath,
			"--latest",
		})
	})
	if err != nil {
		t.Fatalf("species command: %v", err)
	}
	if !strings.Contains(out, "generation=2") || !strings.Contains(out, "species_id=") {
		t.Fatalf("unexpected species output: %s", out)
	}
}

func TestTopCommandSQLiteReadsPersistedGenotypes(t *testing.T) {
	workdir := chdirTemp(t)

	dbPath := filepath.Join(workdir, "phylogen.db")
	runSQLiteSeed(t, dbPath, "44")

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"top",
			"--store", "sqlite",
			"--db-path", dbPath,
			"--latest",
			"--limit", "3",
		})
	})
	if err != nil {
		t.Fatalf("top command: %v", err)
	}
	if !strings.Contains(out, "rank=1") || !strings.Contains(out, "genotype_id=") {
		t.Fatalf("unexpected top output: %s", out)
	}
}

func TestLineageCommandSQLiteReadsPersistedLineage(t *testing.T) {
	workdir := chdirTemp(t)

	dbPath := filepath.Join(workdir, "phylogen.db")
	runSQLiteSeed(t, dbPath, "45")

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"lineage",
			"--store", "sqlite",
			"--db-path", dbPath,
			"--latest",
			"--limit", "3",
		})
	})
	if err != nil {
		t.Fatalf("lineage command: %v", err)
	}
	if !strings.Contains(out, "gen=") || !strings.Contains(out, "genotype_id=") || !strings.Contains(out, "op=seed") {
		t.Fatalf("unexpected lineage output: %s", out)
	}
}

func TestBestCommandSQLiteReadsScapeSummary(t *testing.T) {
	workdir := chdirTemp(t)

	dbPath := filepath.Join(workdir, "phylogen.db")
	runSQLiteSeed(t, dbPath, "46")

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"best",
			"--store", "sqlite",
			"--db-path", dbPath,
			"--scape", "xor",
		})
	})
	if err != nil {
		t.Fatalf("best command: %v", err)
	}
	if !strings.Contains(out, "scape=xor") || !strings.Contains(out, "best_fitness=") {
		t.Fatalf("unexpected best output: %s", out)
	}
}

func TestRunCommandSQLiteCanContinueFromSnapshot(t *testing.T) {
	workdir := chdirTemp(t)

	dbPath := filepath.Join(workdir, "phylogen.db")
	baseRunID := "sqlite-base"
	if err := run(context.Background(), []string{
		"run",
		"--store", "sqlite",
		"--db-path", dbPath,
		"--run-id", baseRunID,
		"--scape", "xor",
		"--pop", "6",
		"--gens", "2",
		"--seed", "51",
		"--log-level", "error",
	}); err != nil {
		t.Fatalf("seed run command: %v", err)
	}

	if err := run(context.Background(), []string{
		"run",
		"--store", "sqlite",
		"--db-path", dbPath,
		"--continue", baseRunID,
		"--scape", "xor",
		"--pop", "6",
		"--gens", "2",
		"--seed", "52",
		"--log-level", "error",
	}); err != nil {
		t.Fatalf("continued run command: %v", err)
	}

	runCfg, ok, err := stats.ReadRunConfig("benchmarks", baseRunID)
	if err != nil || !ok {
		t.Fatalf("read continued run config: ok=%t err=%v", ok, err)
	}
	if runCfg.ContinuePopulationID != baseRunID {
		t.Fatalf("expected continue population id %s, got %s", baseRunID, runCfg.ContinuePopulationID)
	}

	history, ok, err := stats.ReadFitnessHistory("benchmarks", baseRunID)
	if err != nil || !ok {
		t.Fatalf("read merged fitness history: ok=%t err=%v", ok, err)
	}
	if len(history.BestByGeneration) != 4 {
		t.Fatalf("expected four merged generations, got %d", len(history.BestByGeneration))
	}

	entries, err := stats.ListRunIndex("benchmarks")
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != baseRunID {
		t.Fatalf("expected single index entry for %s, got %+v", baseRunID, entries)
	}
	if entries[0].Generations != 4 {
		t.Fatalf("expected index generations 4, got %d", entries[0].Generations)
	}
}
