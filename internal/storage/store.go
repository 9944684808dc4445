// Package storage persists evolutionary state between generations and
// across process restarts. The default backend keeps everything in
// memory; a sqlite backend is available behind the sqlite build tag.
package storage

import (
	"context"

	"phylogen/internal/model"
)

// Store is the persistence boundary for the platform. Implementations
// must be safe for concurrent use. Getters return ok=false when the
// record does not exist, reserving the error for backend failures.
type Store interface {
	Init(ctx context.Context) error

	SaveGenotype(ctx context.Context, g model.Genotype) error
	GetGenotype(ctx context.Context, id string) (model.Genotype, bool, error)

	SavePopulation(ctx context.Context, p model.Population) error
	GetPopulation(ctx context.Context, id string) (model.Population, bool, error)
	DeletePopulation(ctx context.Context, id string) error

	SaveScapeSummary(ctx context.Context, s model.ScapeSummary) error
	GetScapeSummary(ctx context.Context, name string) (model.ScapeSummary, bool, error)

	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)

	SaveGenerationStats(ctx context.Context, runID string, stats []model.GenerationStats) error
	GetGenerationStats(ctx context.Context, runID string) ([]model.GenerationStats, bool, error)

	SaveTopGenotypes(ctx context.Context, runID string, top []model.TopGenotypeRecord) error
	GetTopGenotypes(ctx context.Context, runID string) ([]model.TopGenotypeRecord, bool, error)

	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}

// Resetter is implemented by backends that can drop every stored record
// while staying initialized.
type Resetter interface {
	Reset(ctx context.Context) error
}
