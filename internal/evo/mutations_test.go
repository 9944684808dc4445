package evo

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"phylogen/internal/genotype"
	"phylogen/internal/model"
)

func seedGenotype(t *testing.T, id string, inputs int, seed int64) model.Genotype {
	t.Helper()
	sensors := []model.SensorGene{{ID: "xor_in", Signal: "xor_truth_table", VectorLength: inputs}}
	actuators := []model.ActuatorGene{{ID: "xor_out", Consumer: "xor_prediction", VectorLength: 1}}
	g, err := genotype.ConstructSeed(id, sensors, actuators, "tanh", rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("construct seed: %v", err)
	}
	return g
}

func connByEndpoints(t *testing.T, g model.Genotype, from, to string) model.ConnectionGene {
	t.Helper()
	for _, conn := range g.Connections {
		if conn.From == from && conn.To == to {
			return conn
		}
	}
	t.Fatalf("connection %s -> %s not found", from, to)
	return model.ConnectionGene{}
}

func TestMutateWeightsTouchesOnlyWeights(t *testing.T) {
	g := seedGenotype(t, "g", 2, 1)
	before := genotype.Fingerprint(g)
	op := &MutateWeights{Rand: rand.New(rand.NewSource(2)), ReplaceRate: 0.1, PerturbScale: 0.5}

	mutated, err := op.Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("mutate weights: %v", err)
	}
	if len(mutated.Nodes) != len(g.Nodes) || len(mutated.Connections) != len(g.Connections) {
		t.Fatalf("weight mutation changed topology")
	}
	changed := false
	for i, conn := range mutated.Connections {
		orig := g.Connections[i]
		if conn.From != orig.From || conn.To != orig.To || conn.Enabled != orig.Enabled {
			t.Fatalf("weight mutation changed gene %d structure", i)
		}
		if conn.Weight != orig.Weight {
			changed = true
		}
	}
	if !changed {
		t.Fatalf("no weight changed")
	}
	if genotype.Fingerprint(g) != before {
		t.Fatalf("input genotype mutated in place")
	}
}

func TestMutateWeightsRequiresRand(t *testing.T) {
	g := seedGenotype(t, "g", 2, 1)
	op := &MutateWeights{}
	if _, err := op.Apply(context.Background(), g); err == nil {
		t.Fatalf("expected error without random source")
	}
}

func TestAddNodeSplitsConnection(t *testing.T) {
	g := seedGenotype(t, "g", 1, 3)
	op := &AddNode{Rand: rand.New(rand.NewSource(4))}

	mutated, err := op.Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := genotype.Validate(mutated); err != nil {
		t.Fatalf("split result does not validate: %v", err)
	}
	if len(mutated.Nodes) != len(g.Nodes)+1 {
		t.Fatalf("expected one new node, got %d -> %d", len(g.Nodes), len(mutated.Nodes))
	}
	if len(mutated.Connections) != len(g.Connections)+3 {
		t.Fatalf("expected three new genes, got %d -> %d", len(g.Connections), len(mutated.Connections))
	}

	// The only splittable gene is the sensor input, so the pick is forced.
	split := connByEndpoints(t, mutated, "xor_in:0", "out:0")
	if split.Enabled {
		t.Fatalf("split gene still enabled")
	}
	newID := genotype.SplitNodeID("xor_in:0", "out:0", 0)
	in := connByEndpoints(t, mutated, "xor_in:0", newID)
	if in.Weight != 1 || !in.Enabled {
		t.Fatalf("inbound split gene wrong: %+v", in)
	}
	out := connByEndpoints(t, mutated, newID, "out:0")
	if out.Weight != split.Weight || !out.Enabled {
		t.Fatalf("outbound split gene did not inherit weight: %+v", out)
	}
	bias := connByEndpoints(t, mutated, genotype.BiasNodeID, newID)
	if bias.Weight != 0 {
		t.Fatalf("new neuron bias weight is %f, want 0", bias.Weight)
	}
	for _, node := range mutated.Nodes {
		if node.ID != newID {
			continue
		}
		if node.Kind != model.NodeKindNeuron || node.Layer != 0.5 || node.Activation != "tanh" {
			t.Fatalf("new node misconfigured: %+v", node)
		}
	}
}

func TestAddNodeAdvancesSplitIndex(t *testing.T) {
	g := seedGenotype(t, "g", 1, 3)
	taken := genotype.SplitNodeID("xor_in:0", "out:0", 0)
	g.Nodes = append(g.Nodes, model.NodeGene{
		ID:         taken,
		Kind:       model.NodeKindNeuron,
		Activation: "tanh",
		Layer:      0.5,
		Innovation: genotype.NodeInnovation(taken),
	})

	op := &AddNode{Rand: rand.New(rand.NewSource(4))}
	mutated, err := op.Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("add node: %v", err)
	}
	wantID := genotype.SplitNodeID("xor_in:0", "out:0", 1)
	found := false
	for _, node := range mutated.Nodes {
		if node.ID == wantID {
			found = true
		}
	}
	if !found {
		t.Fatalf("second split of the same edge did not advance the index")
	}
}

func TestAddConnectionSelfLoopIsRecurrent(t *testing.T) {
	g := seedGenotype(t, "g", 1, 5)
	op := &AddConnection{Rand: rand.New(rand.NewSource(6)), Attempts: 64}

	// The sensor-to-output pair already exists, so the only legal pick
	// is the output neuron's self loop.
	mutated, err := op.Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("add connection: %v", err)
	}
	if len(mutated.Connections) != len(g.Connections)+1 {
		t.Fatalf("expected one new gene")
	}
	added := connByEndpoints(t, mutated, "out:0", "out:0")
	if !added.Recurrent || !added.Enabled {
		t.Fatalf("self loop should be an enabled recurrent gene: %+v", added)
	}
	if err := genotype.Validate(mutated); err != nil {
		t.Fatalf("result does not validate: %v", err)
	}
}

func TestAddConnectionDirectionRule(t *testing.T) {
	g := seedGenotype(t, "g", 1, 3)
	split, err := (&AddNode{Rand: rand.New(rand.NewSource(4))}).Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("add node: %v", err)
	}
	layers := make(map[string]float64, len(split.Nodes))
	for _, node := range split.Nodes {
		layers[node.ID] = node.Layer
	}

	op := &AddConnection{Rand: rand.New(rand.NewSource(7)), Attempts: 64}
	mutated, err := op.Apply(context.Background(), split)
	if err != nil {
		t.Fatalf("add connection: %v", err)
	}
	existing := make(map[[2]string]bool)
	for _, conn := range split.Connections {
		existing[[2]string{conn.From, conn.To}] = true
	}
	var added *model.ConnectionGene
	for i, conn := range mutated.Connections {
		if !existing[[2]string{conn.From, conn.To}] {
			added = &mutated.Connections[i]
			break
		}
	}
	if added == nil {
		t.Fatalf("no new gene found")
	}
	wantRecurrent := layers[added.From] >= layers[added.To]
	if added.Recurrent != wantRecurrent {
		t.Fatalf("gene %s->%s recurrent=%t, layers %f >= %f", added.From, added.To, added.Recurrent, layers[added.From], layers[added.To])
	}
}

func TestAddConnectionRunsOutOfChoices(t *testing.T) {
	g := seedGenotype(t, "g", 1, 3)
	g.Connections = append(g.Connections, model.ConnectionGene{
		From:       "out:0",
		To:         "out:0",
		Weight:     0.2,
		Enabled:    true,
		Recurrent:  true,
		Innovation: genotype.ConnectionInnovation("out:0", "out:0"),
	})
	genotype.SortConnections(g.Connections)

	op := &AddConnection{Rand: rand.New(rand.NewSource(8))}
	if _, err := op.Apply(context.Background(), g); !errors.Is(err, ErrNoMutationChoice) {
		t.Fatalf("expected ErrNoMutationChoice, got %v", err)
	}
}

func TestToggleConnectionKeepsNeuronsAlive(t *testing.T) {
	g := seedGenotype(t, "g", 1, 3)
	op := &ToggleConnection{Rand: rand.New(rand.NewSource(9))}

	// The output neuron's only live input cannot be disabled and bias
	// genes are exempt, so there is nothing to toggle.
	if _, err := op.Apply(context.Background(), g); !errors.Is(err, ErrNoMutationChoice) {
		t.Fatalf("expected ErrNoMutationChoice, got %v", err)
	}
}

func TestToggleConnectionDisablesRedundantInput(t *testing.T) {
	g := seedGenotype(t, "g", 2, 3)
	op := &ToggleConnection{Rand: rand.New(rand.NewSource(10))}

	mutated, err := op.Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("toggle connection: %v", err)
	}
	disabled := 0
	for _, conn := range mutated.Connections {
		if !conn.Enabled {
			disabled++
		}
	}
	if disabled != 1 {
		t.Fatalf("expected exactly one disabled gene, got %d", disabled)
	}
	if err := genotype.Validate(mutated); err != nil {
		t.Fatalf("result does not validate: %v", err)
	}
}

func TestToggleConnectionReenablesDisabledGene(t *testing.T) {
	g := seedGenotype(t, "g", 2, 3)
	for i := range g.Connections {
		if g.Connections[i].From == "xor_in:0" {
			g.Connections[i].Enabled = false
		}
	}

	// The remaining live input cannot be disabled, so re-enabling the
	// dead gene is the only candidate.
	op := &ToggleConnection{Rand: rand.New(rand.NewSource(11))}
	mutated, err := op.Apply(context.Background(), g)
	if err != nil {
		t.Fatalf("toggle connection: %v", err)
	}
	if !connByEndpoints(t, mutated, "xor_in:0", "out:0").Enabled {
		t.Fatalf("disabled gene was not re-enabled")
	}
}
