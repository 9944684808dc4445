package evo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"phylogen/internal/genotype"
	"phylogen/internal/model"
)

// Reproduction breeds one generation into the next. All randomness
// flows through the single Rand, so a seeded source reproduces the
// exact same generation.
type Reproduction struct {
	Config   model.PopulationConfig
	Rand     *rand.Rand
	Selector Selector
}

func NewReproduction(cfg model.PopulationConfig, rng *rand.Rand) (*Reproduction, error) {
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0, got %d", cfg.PopulationSize)
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	return &Reproduction{
		Config:   cfg,
		Rand:     rng,
		Selector: TournamentSelector{Size: cfg.TournamentSize},
	}, nil
}

type speciesBreedingGroup struct {
	species model.Species
	members []model.Genotype
	adjSum  float64
	quota   float64
	alloc   int
}

// NextGeneration produces exactly Config.PopulationSize offspring from
// an evaluated, speciated population. Fitness sharing divides each
// member's fitness by its species size; species then receive offspring
// slots proportional to their adjusted fitness share, rounded by
// largest remainder so the total always lands exactly on the
// population size. Qualified species carry their best member over
// unchanged; every other child passes through crossover or cloning and
// the rate-gated mutation battery.
func (r *Reproduction) NextGeneration(ctx context.Context, pop model.Population) (model.Population, []model.LineageRecord, error) {
	if len(pop.Genotypes) == 0 {
		return model.Population{}, nil, errors.New("population has no genotypes")
	}
	if len(pop.Species) == 0 {
		return model.Population{}, nil, errors.New("population has not been speciated")
	}

	groups := make([]*speciesBreedingGroup, 0, len(pop.Species))
	groupByID := make(map[string]*speciesBreedingGroup, len(pop.Species))
	for _, sp := range pop.Species {
		grp := &speciesBreedingGroup{species: sp}
		groups = append(groups, grp)
		groupByID[sp.ID] = grp
	}
	for _, g := range pop.Genotypes {
		grp, ok := groupByID[g.SpeciesID]
		if !ok {
			return model.Population{}, nil, fmt.Errorf("genotype %s belongs to unknown species %q", g.ID, g.SpeciesID)
		}
		grp.members = append(grp.members, g)
	}

	populated := groups[:0]
	for _, grp := range groups {
		if len(grp.members) > 0 {
			populated = append(populated, grp)
		}
	}
	groups = populated
	if len(groups) == 0 {
		return model.Population{}, nil, errors.New("no species has members")
	}

	totalAdjusted := 0.0
	for _, grp := range groups {
		size := float64(len(grp.members))
		for i := range grp.members {
			grp.members[i].AdjustedFitness = grp.members[i].Fitness / size
			grp.adjSum += grp.members[i].AdjustedFitness
		}
		totalAdjusted += grp.adjSum
	}

	target := r.Config.PopulationSize
	for _, grp := range groups {
		if totalAdjusted > 0 {
			grp.quota = grp.adjSum / totalAdjusted * float64(target)
		} else {
			grp.quota = float64(target) / float64(len(groups))
		}
		grp.alloc = int(math.Floor(grp.quota))
	}
	allocated := 0
	for _, grp := range groups {
		allocated += grp.alloc
	}
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra := groups[order[a]].quota - math.Floor(groups[order[a]].quota)
		rb := groups[order[b]].quota - math.Floor(groups[order[b]].quota)
		return ra > rb
	})
	for i := 0; allocated < target; i++ {
		groups[order[i%len(order)]].alloc++
		allocated++
	}

	nextGen := pop.Generation + 1
	children := make([]model.Genotype, 0, target)
	lineage := make([]model.LineageRecord, 0, target)
	childIndex := 0

	appendChild := func(child model.Genotype, parents []string, ops []string) {
		child.ID = fmt.Sprintf("g%d-%d", nextGen, childIndex)
		child.Generation = nextGen
		child.Fitness = 0
		child.AdjustedFitness = 0
		child.SpeciesID = ""
		child.SchemaVersion = pop.SchemaVersion
		child.CodecVersion = pop.CodecVersion
		childIndex++
		children = append(children, child)
		lineage = append(lineage, model.LineageRecord{
			GenotypeID:  child.ID,
			ParentIDs:   parents,
			Generation:  nextGen,
			Operation:   strings.Join(ops, "+"),
			Fingerprint: genotype.Fingerprint(child),
			Summary:     genotype.Summarize(child),
		})
	}

	for _, grp := range groups {
		remaining := grp.alloc
		if remaining == 0 {
			continue
		}

		ranked := append([]model.Genotype(nil), grp.members...)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Fitness > ranked[j].Fitness })

		if len(ranked) >= r.Config.EliteMinSpeciesSize && r.Config.EliteMinSpeciesSize > 0 {
			appendChild(genotype.Clone(ranked[0]), []string{ranked[0].ID}, []string{"elite"})
			remaining--
		}

		for ; remaining > 0; remaining-- {
			child, parents, ops, err := r.breedChild(ctx, ranked)
			if err != nil {
				return model.Population{}, nil, fmt.Errorf("breed species %s: %w", grp.species.ID, err)
			}
			appendChild(child, parents, ops)
		}
	}

	if len(children) != target {
		return model.Population{}, nil, fmt.Errorf("offspring allocation produced %d children, want %d", len(children), target)
	}

	next := model.Population{
		VersionedRecord: pop.VersionedRecord,
		ID:              pop.ID,
		Generation:      nextGen,
		Genotypes:       children,
		Species:         pop.Species,
		Config:          pop.Config,
	}
	return next, lineage, nil
}

// breedChild builds one non-elite offspring: a crossover of two
// tournament parents when the rate and species size allow it, a
// mutated clone otherwise.
func (r *Reproduction) breedChild(ctx context.Context, ranked []model.Genotype) (model.Genotype, []string, []string, error) {
	parent, err := r.Selector.PickParent(r.Rand, ranked)
	if err != nil {
		return model.Genotype{}, nil, nil, err
	}

	var child model.Genotype
	parents := []string{parent.ID}
	ops := []string{"clone"}
	if len(ranked) >= 2 && r.Rand.Float64() < r.Config.CrossoverRate {
		mate, err := r.Selector.PickParent(r.Rand, ranked)
		if err != nil {
			return model.Genotype{}, nil, nil, err
		}
		if mate.ID == parent.ID {
			mate, err = r.Selector.PickParent(r.Rand, ranked)
			if err != nil {
				return model.Genotype{}, nil, nil, err
			}
		}
		if mate.ID != parent.ID {
			child, err = Crossover(r.Rand, parent, mate)
			if err != nil {
				return model.Genotype{}, nil, nil, err
			}
			parents = []string{parent.ID, mate.ID}
			ops = []string{"crossover"}
		}
	}
	if len(ops) == 1 && ops[0] == "clone" {
		child = genotype.Clone(parent)
	}

	battery := []struct {
		rate float64
		op   Operator
	}{
		{r.Config.WeightMutationRate, &MutateWeights{Rand: r.Rand, ReplaceRate: r.Config.WeightReplaceRate, PerturbScale: r.Config.WeightPerturbScale}},
		{r.Config.AddNodeRate, &AddNode{Rand: r.Rand}},
		{r.Config.AddConnectionRate, &AddConnection{Rand: r.Rand}},
		{r.Config.ToggleConnectionRate, &ToggleConnection{Rand: r.Rand}},
	}
	for _, gate := range battery {
		if gate.rate <= 0 || r.Rand.Float64() >= gate.rate {
			continue
		}
		mutated, err := gate.op.Apply(ctx, child)
		if err != nil {
			if errors.Is(err, ErrNoMutationChoice) || errors.Is(err, ErrNoConnections) {
				continue
			}
			return model.Genotype{}, nil, nil, fmt.Errorf("apply %s: %w", gate.op.Name(), err)
		}
		child = mutated
		ops = append(ops, gate.op.Name())
	}
	return child, parents, ops, nil
}
