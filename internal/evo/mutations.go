package evo

import (
	"context"
	"errors"
	"math/rand"

	"phylogen/internal/genotype"
	"phylogen/internal/model"
)

// MutateWeights visits every connection gene: each weight is either
// replaced by a fresh centered value (with ReplaceRate probability) or
// perturbed by a uniform delta scaled by PerturbScale. Bias genes are
// ordinary connection genes here, so biases drift the same way.
type MutateWeights struct {
	Rand         *rand.Rand
	ReplaceRate  float64
	PerturbScale float64
}

func (o *MutateWeights) Name() string {
	return "mutate_weights"
}

func (o *MutateWeights) Apply(_ context.Context, g model.Genotype) (model.Genotype, error) {
	if o == nil || o.Rand == nil {
		return model.Genotype{}, errors.New("random source is required")
	}
	if len(g.Connections) == 0 {
		return model.Genotype{}, ErrNoConnections
	}
	scale := o.PerturbScale
	if scale <= 0 {
		scale = 0.1
	}

	mutated := genotype.Clone(g)
	for i := range mutated.Connections {
		if o.Rand.Float64() < o.ReplaceRate {
			mutated.Connections[i].Weight = o.Rand.Float64() - 0.5
			continue
		}
		mutated.Connections[i].Weight += (o.Rand.Float64()*2 - 1) * scale
	}
	return mutated, nil
}

// AddNode splits a random enabled feed-forward connection: the old gene
// is disabled and a new neuron is inserted on the midpoint layer, wired
// in with weight 1 and out with the old weight, so the mutated network
// initially computes almost the same function. The new neuron gets its
// own zero-weight bias gene and inherits the split target's activation.
type AddNode struct {
	Rand *rand.Rand
}

func (o *AddNode) Name() string {
	return "add_node"
}

func (o *AddNode) Apply(_ context.Context, g model.Genotype) (model.Genotype, error) {
	if o == nil || o.Rand == nil {
		return model.Genotype{}, errors.New("random source is required")
	}

	nodesByID := make(map[string]model.NodeGene, len(g.Nodes))
	for _, node := range g.Nodes {
		nodesByID[node.ID] = node
	}

	// Bias edges are never split: the inserted neuron would have no
	// real input and the bias invariant would break.
	candidates := make([]int, 0, len(g.Connections))
	for i, conn := range g.Connections {
		if !conn.Enabled || conn.Recurrent || conn.From == genotype.BiasNodeID {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return model.Genotype{}, ErrNoMutationChoice
	}

	mutated := genotype.Clone(g)
	idx := candidates[o.Rand.Intn(len(candidates))]
	split := mutated.Connections[idx]

	// Repeated splits of the same edge get distinct indices so their
	// innovations never collide with an earlier split's genes.
	splitIndex := 0
	for {
		if _, exists := nodesByID[genotype.SplitNodeID(split.From, split.To, splitIndex)]; !exists {
			break
		}
		splitIndex++
	}
	newID := genotype.SplitNodeID(split.From, split.To, splitIndex)

	fromLayer := nodesByID[split.From].Layer
	toNode := nodesByID[split.To]
	mutated.Nodes = append(mutated.Nodes, model.NodeGene{
		ID:         newID,
		Kind:       model.NodeKindNeuron,
		Activation: toNode.Activation,
		Layer:      (fromLayer + toNode.Layer) / 2,
		Innovation: genotype.NodeInnovation(newID),
	})

	mutated.Connections[idx].Enabled = false
	mutated.Connections = append(mutated.Connections,
		model.ConnectionGene{
			From:       split.From,
			To:         newID,
			Weight:     1,
			Enabled:    true,
			Innovation: genotype.ConnectionInnovation(split.From, newID),
		},
		model.ConnectionGene{
			From:       newID,
			To:         split.To,
			Weight:     split.Weight,
			Enabled:    true,
			Innovation: genotype.ConnectionInnovation(newID, split.To),
		},
		model.ConnectionGene{
			From:       genotype.BiasNodeID,
			To:         newID,
			Weight:     0,
			Enabled:    true,
			Innovation: genotype.ConnectionInnovation(genotype.BiasNodeID, newID),
		},
	)
	genotype.SortConnections(mutated.Connections)
	return mutated, nil
}

// AddConnection links a random sensor or neuron node to a random
// neuron. Forward links (strictly increasing layer) join the live
// topology; backward and sideways picks are recorded as recurrent
// genes, which the runtime declares but never fires.
type AddConnection struct {
	Rand     *rand.Rand
	Attempts int
}

func (o *AddConnection) Name() string {
	return "add_connection"
}

func (o *AddConnection) Apply(_ context.Context, g model.Genotype) (model.Genotype, error) {
	if o == nil || o.Rand == nil {
		return model.Genotype{}, errors.New("random source is required")
	}

	var sources []model.NodeGene
	var targets []model.NodeGene
	for _, node := range g.Nodes {
		switch node.Kind {
		case model.NodeKindSensor:
			sources = append(sources, node)
		case model.NodeKindNeuron:
			sources = append(sources, node)
			targets = append(targets, node)
		}
	}
	if len(sources) == 0 || len(targets) == 0 {
		return model.Genotype{}, ErrNoMutationChoice
	}

	existing := make(map[[2]string]bool, len(g.Connections))
	for _, conn := range g.Connections {
		existing[[2]string{conn.From, conn.To}] = true
	}

	attempts := o.Attempts
	if attempts <= 0 {
		attempts = 16
	}
	for try := 0; try < attempts; try++ {
		from := sources[o.Rand.Intn(len(sources))]
		to := targets[o.Rand.Intn(len(targets))]
		if existing[[2]string{from.ID, to.ID}] {
			continue
		}

		mutated := genotype.Clone(g)
		mutated.Connections = append(mutated.Connections, model.ConnectionGene{
			From:       from.ID,
			To:         to.ID,
			Weight:     o.Rand.Float64() - 0.5,
			Enabled:    true,
			Recurrent:  from.Layer >= to.Layer,
			Innovation: genotype.ConnectionInnovation(from.ID, to.ID),
		})
		genotype.SortConnections(mutated.Connections)
		return mutated, nil
	}
	return model.Genotype{}, ErrNoMutationChoice
}

// ToggleConnection flips the enabled flag of one randomly picked
// connection gene. Bias genes are exempt, and a disable that would
// leave the target neuron without any live input is not a candidate.
type ToggleConnection struct {
	Rand *rand.Rand
}

func (o *ToggleConnection) Name() string {
	return "toggle_connection"
}

func (o *ToggleConnection) Apply(_ context.Context, g model.Genotype) (model.Genotype, error) {
	if o == nil || o.Rand == nil {
		return model.Genotype{}, errors.New("random source is required")
	}
	if len(g.Connections) == 0 {
		return model.Genotype{}, ErrNoConnections
	}

	liveFanIn := make(map[string]int)
	for _, conn := range g.Connections {
		if conn.Enabled && !conn.Recurrent && conn.From != genotype.BiasNodeID {
			liveFanIn[conn.To]++
		}
	}

	candidates := make([]int, 0, len(g.Connections))
	for i, conn := range g.Connections {
		if conn.From == genotype.BiasNodeID {
			continue
		}
		if conn.Enabled && !conn.Recurrent && liveFanIn[conn.To] <= 1 {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return model.Genotype{}, ErrNoMutationChoice
	}

	mutated := genotype.Clone(g)
	idx := candidates[o.Rand.Intn(len(candidates))]
	mutated.Connections[idx].Enabled = !mutated.Connections[idx].Enabled
	return mutated, nil
}
