package storage

import (
	"context"
	"errors"
	"sync"

	"phylogen/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	genotypes   map[string]model.Genotype
	populations map[string]model.Population
	scapes      map[string]model.ScapeSummary
	history     map[string][]float64
	genStats    map[string][]model.GenerationStats
	topRecords  map[string][]model.TopGenotypeRecord
	lineage     map[string][]model.LineageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.genotypes = make(map[string]model.Genotype)
	s.populations = make(map[string]model.Population)
	s.scapes = make(map[string]model.ScapeSummary)
	s.history = make(map[string][]float64)
	s.genStats = make(map[string][]model.GenerationStats)
	s.topRecords = make(map[string][]model.TopGenotypeRecord)
	s.lineage = make(map[string][]model.LineageRecord)
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.genotypes = make(map[string]model.Genotype)
	s.populations = make(map[string]model.Population)
	s.scapes = make(map[string]model.ScapeSummary)
	s.history = make(map[string][]float64)
	s.genStats = make(map[string][]model.GenerationStats)
	s.topRecords = make(map[string][]model.TopGenotypeRecord)
	s.lineage = make(map[string][]model.LineageRecord)
	return nil
}

func (s *MemoryStore) SaveGenotype(_ context.Context, genotype model.Genotype) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.genotypes[genotype.ID] = genotype
	return nil
}

func (s *MemoryStore) GetGenotype(_ context.Context, id string) (model.Genotype, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Genotype{}, false, ErrNotInitialized
	}
	genotype, ok := s.genotypes[id]
	return genotype, ok, nil
}

func (s *MemoryStore) SavePopulation(_ context.Context, population model.Population) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.populations[population.ID] = population
	return nil
}

func (s *MemoryStore) GetPopulation(_ context.Context, id string) (model.Population, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.Population{}, false, ErrNotInitialized
	}
	population, ok := s.populations[id]
	return population, ok, nil
}

func (s *MemoryStore) DeletePopulation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	delete(s.populations, id)
	return nil
}

func (s *MemoryStore) SaveScapeSummary(_ context.Context, summary model.ScapeSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.scapes[summary.Name] = summary
	return nil
}

func (s *MemoryStore) GetScapeSummary(_ context.Context, name string) (model.ScapeSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.ScapeSummary{}, false, ErrNotInitialized
	}
	summary, ok := s.scapes[name]
	return summary, ok, nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.history[runID] = append([]float64(nil), history...)
	return nil
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, ErrNotInitialized
	}
	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), history...), true, nil
}

func (s *MemoryStore) SaveGenerationStats(_ context.Context, runID string, stats []model.GenerationStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.genStats[runID] = copyGenerationStats(stats)
	return nil
}

func (s *MemoryStore) GetGenerationStats(_ context.Context, runID string) ([]model.GenerationStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, ErrNotInitialized
	}
	stats, ok := s.genStats[runID]
	if !ok {
		return nil, false, nil
	}
	return copyGenerationStats(stats), true, nil
}

func (s *MemoryStore) SaveTopGenotypes(_ context.Context, runID string, top []model.TopGenotypeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	copied := make([]model.TopGenotypeRecord, len(top))
	copy(copied, top)
	s.topRecords[runID] = copied
	return nil
}

func (s *MemoryStore) GetTopGenotypes(_ context.Context, runID string) ([]model.TopGenotypeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, ErrNotInitialized
	}
	top, ok := s.topRecords[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.TopGenotypeRecord, len(top))
	copy(copied, top)
	return copied, true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	s.lineage[runID] = copied
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, ErrNotInitialized
	}
	lineage, ok := s.lineage[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	return copied, true, nil
}

// copyGenerationStats rebuilds the nested species slices so retrieved
// records cannot alias the stored ones.
func copyGenerationStats(stats []model.GenerationStats) []model.GenerationStats {
	copied := make([]model.GenerationStats, 0, len(stats))
	for _, generation := range stats {
		species := make([]model.SpeciesMetrics, len(generation.Species))
		copy(species, generation.Species)
		generation.Species = species
		generation.NewSpecies = append([]string(nil), generation.NewSpecies...)
		generation.ExtinctSpecies = append([]string(nil), generation.ExtinctSpecies...)
		copied = append(copied, generation)
	}
	return copied
}
