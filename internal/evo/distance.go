package evo

import (
	"math"

	"phylogen/internal/model"
)

// CompatibilityDistance computes the NEAT-style distance between two
// genotypes by aligning their innovation-ordered connection genes:
//
//	c1·E/N + c2·D/N + c3·meanWeightDiff
//
// where E counts excess genes (beyond the other parent's innovation
// range), D counts disjoint genes (inside it), and meanWeightDiff is
// the mean absolute weight difference over matching genes. N is the
// larger gene count, clamped to 1 when both genotypes are smaller than
// the normalize floor.
func CompatibilityDistance(a, b model.Genotype, cfg model.PopulationConfig) float64 {
	if len(a.Connections) == 0 && len(b.Connections) == 0 {
		return 0
	}

	maxInnovation := func(conns []model.ConnectionGene) uint64 {
		if len(conns) == 0 {
			return 0
		}
		return conns[len(conns)-1].Innovation
	}
	aMax := maxInnovation(a.Connections)
	bMax := maxInnovation(b.Connections)

	byInnovation := make(map[uint64]model.ConnectionGene, len(b.Connections))
	for _, conn := range b.Connections {
		byInnovation[conn.Innovation] = conn
	}

	matching := 0
	weightDiff := 0.0
	disjoint := 0
	excess := 0
	for _, conn := range a.Connections {
		if match, ok := byInnovation[conn.Innovation]; ok {
			matching++
			weightDiff += math.Abs(conn.Weight - match.Weight)
			delete(byInnovation, conn.Innovation)
			continue
		}
		if conn.Innovation > bMax {
			excess++
		} else {
			disjoint++
		}
	}
	for _, conn := range byInnovation {
		if conn.Innovation > aMax {
			excess++
		} else {
			disjoint++
		}
	}

	n := len(a.Connections)
	if len(b.Connections) > n {
		n = len(b.Connections)
	}
	floor := cfg.CompatNormalizeFloor
	if floor <= 0 {
		floor = 20
	}
	if n < floor {
		n = 1
	}

	meanWeightDiff := 0.0
	if matching > 0 {
		meanWeightDiff = weightDiff / float64(matching)
	}
	return cfg.CompatExcessCoeff*float64(excess)/float64(n) +
		cfg.CompatDisjointCoeff*float64(disjoint)/float64(n) +
		cfg.CompatWeightCoeff*meanWeightDiff
}
