package evo

import (
	"errors"
	"math/rand"

	"phylogen/internal/genotype"
	"phylogen/internal/model"
)

// disabledInheritanceRate is the chance a matching gene stays disabled
// in the child when it is disabled in at least one parent.
const disabledInheritanceRate = 0.75

// Crossover recombines two parents. The child takes its topology,
// sensors and actuators wholesale from the fitter parent; matching
// connection genes (same innovation) draw their weight from either
// parent at random, while disjoint and excess genes pass through from
// the fitter parent untouched. Fitness ties resolve to the first
// argument.
func Crossover(rng *rand.Rand, a, b model.Genotype) (model.Genotype, error) {
	if rng == nil {
		return model.Genotype{}, errors.New("random source is required")
	}
	if len(a.Connections) == 0 || len(b.Connections) == 0 {
		return model.Genotype{}, ErrNoParents
	}

	fitter, other := a, b
	if b.Fitness > a.Fitness {
		fitter, other = b, a
	}

	otherByInnovation := make(map[uint64]model.ConnectionGene, len(other.Connections))
	for _, conn := range other.Connections {
		otherByInnovation[conn.Innovation] = conn
	}

	child := genotype.Clone(fitter)
	child.Fitness = 0
	child.AdjustedFitness = 0
	child.SpeciesID = ""
	for i := range child.Connections {
		match, ok := otherByInnovation[child.Connections[i].Innovation]
		if !ok {
			continue
		}
		if rng.Intn(2) == 1 {
			child.Connections[i].Weight = match.Weight
		}
		if !child.Connections[i].Enabled || !match.Enabled {
			child.Connections[i].Enabled = rng.Float64() >= disabledInheritanceRate
		}
	}
	return child, nil
}
