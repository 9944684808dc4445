package evo

import (
	"fmt"
	"math/rand"

	"phylogen/internal/model"
)

// Selector chooses a parent from the members of one species.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, members []model.Genotype) (model.Genotype, error)
}

// TournamentSelector samples Size members uniformly with replacement
// and keeps the fittest.
type TournamentSelector struct {
	Size int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, members []model.Genotype) (model.Genotype, error) {
	if rng == nil {
		return model.Genotype{}, fmt.Errorf("random source is required")
	}
	if len(members) == 0 {
		return model.Genotype{}, fmt.Errorf("species has no members")
	}

	size := s.Size
	if size <= 0 {
		size = 3
	}
	if size > len(members) {
		size = len(members)
	}

	best := members[rng.Intn(len(members))]
	for i := 1; i < size; i++ {
		candidate := members[rng.Intn(len(members))]
		if candidate.Fitness > best.Fitness {
			best = candidate
		}
	}
	return best, nil
}
