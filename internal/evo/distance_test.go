package evo

import (
	"math"
	"testing"

	"phylogen/internal/model"
)

func distanceConfig() model.PopulationConfig {
	return model.PopulationConfig{
		CompatibilityThreshold: 3,
		CompatExcessCoeff:      1,
		CompatDisjointCoeff:    1,
		CompatWeightCoeff:      0.4,
		CompatNormalizeFloor:   20,
	}
}

func genotypeWithGenes(genes ...model.ConnectionGene) model.Genotype {
	return model.Genotype{ID: "g", Connections: genes}
}

func gene(innovation uint64, weight float64) model.ConnectionGene {
	return model.ConnectionGene{
		From:       "a",
		To:         "b",
		Weight:     weight,
		Enabled:    true,
		Innovation: innovation,
	}
}

func TestCompatibilityDistanceIdenticalIsZero(t *testing.T) {
	g := seedGenotype(t, "g", 2, 31)
	if d := CompatibilityDistance(g, g, distanceConfig()); d != 0 {
		t.Fatalf("distance to self is %f, want 0", d)
	}
}

func TestCompatibilityDistanceHandComputed(t *testing.T) {
	a := genotypeWithGenes(gene(1, 0.5), gene(2, 0.5), gene(3, 0.5))
	b := genotypeWithGenes(gene(1, 0.25), gene(2, 0.25), gene(4, 0.25), gene(5, 0.25))

	// Gene 3 sits inside b's innovation range, so it is disjoint; genes
	// 4 and 5 exceed a's range, so they are excess. Matching genes 1
	// and 2 differ by 0.25 each. Four genes is below the floor, so the
	// counts are not normalized.
	want := 1*2.0 + 1*1.0 + 0.4*0.25
	got := CompatibilityDistance(a, b, distanceConfig())
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("distance is %f, want %f", got, want)
	}
	if rev := CompatibilityDistance(b, a, distanceConfig()); rev != got {
		t.Fatalf("distance is asymmetric: %f vs %f", got, rev)
	}
}

func TestCompatibilityDistanceNormalizesLargeGenomes(t *testing.T) {
	a := genotypeWithGenes(gene(1, 0.5), gene(2, 0.5), gene(3, 0.5))
	b := genotypeWithGenes(gene(1, 0.25), gene(2, 0.25), gene(4, 0.25), gene(5, 0.25))

	cfg := distanceConfig()
	cfg.CompatNormalizeFloor = 3
	want := (1*2.0 + 1*1.0) / 4.0
	want += 0.4 * 0.25
	got := CompatibilityDistance(a, b, cfg)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("normalized distance is %f, want %f", got, want)
	}
}

func TestCompatibilityDistanceWeightTermOnly(t *testing.T) {
	a := genotypeWithGenes(gene(1, 0.5), gene(2, -0.5))
	b := genotypeWithGenes(gene(1, 0.1), gene(2, -0.3))

	want := 0.4 * (0.4 + 0.2) / 2
	got := CompatibilityDistance(a, b, distanceConfig())
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("weight-only distance is %f, want %f", got, want)
	}
}

func TestCompatibilityDistanceEmptyGenomes(t *testing.T) {
	empty := model.Genotype{ID: "e"}
	if d := CompatibilityDistance(empty, empty, distanceConfig()); d != 0 {
		t.Fatalf("distance between empty genomes is %f, want 0", d)
	}
	full := genotypeWithGenes(gene(1, 0.5))
	if d := CompatibilityDistance(empty, full, distanceConfig()); d != 1 {
		t.Fatalf("distance to empty genome is %f, want 1 excess", d)
	}
}
