package evo

import (
	"fmt"
	"strconv"
	"strings"

	"phylogen/internal/genotype"
	"phylogen/internal/model"
)

// Speciate partitions evaluated genotypes into species by first match:
// each genotype joins the first existing species, in stable species
// order, whose representative lies within the compatibility threshold,
// or founds a new species appended at the end. Carried species keep
// their identity and age across generations; species left without
// members go extinct. Inputs are not mutated.
func Speciate(genotypes []model.Genotype, species []model.Species, cfg model.PopulationConfig, generation int) ([]model.Genotype, []model.Species, error) {
	if cfg.CompatibilityThreshold <= 0 {
		return nil, nil, fmt.Errorf("compatibility threshold must be > 0, got %f", cfg.CompatibilityThreshold)
	}

	type group struct {
		species model.Species
		members []model.Genotype
	}
	groups := make([]*group, 0, len(species)+4)
	nextNumber := 1
	for _, sp := range species {
		carried := sp
		carried.MemberIDs = nil
		groups = append(groups, &group{species: carried})
		if n, ok := speciesNumber(sp.ID); ok && n >= nextNumber {
			nextNumber = n + 1
		}
	}

	assigned := make([]model.Genotype, 0, len(genotypes))
	for _, g := range genotypes {
		member := genotype.Clone(g)
		placed := false
		for _, grp := range groups {
			if CompatibilityDistance(member, grp.species.Representative, cfg) < cfg.CompatibilityThreshold {
				member.SpeciesID = grp.species.ID
				grp.members = append(grp.members, member)
				placed = true
				break
			}
		}
		if !placed {
			id := fmt.Sprintf("species-%d", nextNumber)
			nextNumber++
			member.SpeciesID = id
			groups = append(groups, &group{
				species: model.Species{
					ID:             id,
					Representative: genotype.Clone(member),
					LastImproved:   generation,
				},
				members: []model.Genotype{member},
			})
		}
		assigned = append(assigned, member)
	}

	survivors := make([]model.Species, 0, len(groups))
	for _, grp := range groups {
		if len(grp.members) == 0 {
			continue
		}
		sp := grp.species
		sp.MemberIDs = make([]string, len(grp.members))
		best := grp.members[0].Fitness
		for i, member := range grp.members {
			sp.MemberIDs[i] = member.ID
			if member.Fitness > best {
				best = member.Fitness
			}
		}
		// The representative follows the first member assigned this
		// pass, so drift in a species tracks its current population.
		sp.Representative = genotype.Clone(grp.members[0])
		if best > sp.BestFitness || sp.Age == 0 {
			sp.BestFitness = best
			sp.LastImproved = generation
		}
		sp.Age++
		survivors = append(survivors, sp)
	}
	return assigned, survivors, nil
}

// Stagnant reports whether a species has gone at least window
// generations without improving its best fitness. Stagnant species are
// flagged for reporting, never removed.
func Stagnant(sp model.Species, generation, window int) bool {
	if window <= 0 {
		return false
	}
	return generation-sp.LastImproved >= window
}

func speciesNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "species-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
