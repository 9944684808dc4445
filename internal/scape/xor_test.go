package scape

import (
	"context"
	"math"
	"testing"

	"phylogen/internal/genotype"
	"phylogen/internal/model"
)

func tnode(id string, kind model.NodeKind, activation string, layer float64) model.NodeGene {
	return model.NodeGene{ID: id, Kind: kind, Activation: activation, Layer: layer, Innovation: genotype.NodeInnovation(id)}
}

func tconn(from, to string, w float64) model.ConnectionGene {
	return model.ConnectionGene{From: from, To: to, Weight: w, Enabled: true, Innovation: genotype.ConnectionInnovation(from, to)}
}

// Hidden-layer sigmoid network that solves XOR exactly: h1 is OR, h2
// is NAND, the output is their AND.
func xorSolverGenotype() model.Genotype {
	g := model.Genotype{
		ID: "xor-solver",
		Nodes: []model.NodeGene{
			tnode(genotype.BiasNodeID, model.NodeKindBias, "", 0),
			tnode("xor_in:0", model.NodeKindSensor, "", 0),
			tnode("xor_in:1", model.NodeKindSensor, "", 0),
			tnode("h1", model.NodeKindNeuron, "sigmoid", 0.5),
			tnode("h2", model.NodeKindNeuron, "sigmoid", 0.5),
			tnode("out:0", model.NodeKindNeuron, "sigmoid", 1),
		},
		Connections: []model.ConnectionGene{
			tconn(genotype.BiasNodeID, "h1", -10),
			tconn(genotype.BiasNodeID, "h2", 30),
			tconn(genotype.BiasNodeID, "out:0", -30),
			tconn("xor_in:0", "h1", 20),
			tconn("xor_in:1", "h1", 20),
			tconn("xor_in:0", "h2", -20),
			tconn("xor_in:1", "h2", -20),
			tconn("h1", "out:0", 20),
			tconn("h2", "out:0", 20),
		},
		Sensors: []model.SensorGene{{
			ID:           "xor_in",
			Signal:       "xor_truth_table",
			VectorLength: 2,
			NodeIDs:      []string{"xor_in:0", "xor_in:1"},
		}},
		Actuators: []model.ActuatorGene{{
			ID:           "xor_out",
			Consumer:     "xor_prediction",
			VectorLength: 1,
			FanIn:        []string{"out:0"},
		}},
	}
	genotype.SortConnections(g.Connections)
	return g
}

func TestXORScapeScoresSolver(t *testing.T) {
	fitness, trace, err := XORScape{}.Evaluate(context.Background(), xorSolverGenotype())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	mse, ok := trace["mse"].(float64)
	if !ok {
		t.Fatalf("trace missing mse: %+v", trace)
	}
	sse, ok := trace["sse"].(float64)
	if !ok {
		t.Fatalf("trace missing sse: %+v", trace)
	}
	if mse > 1e-6 {
		t.Fatalf("solver mse is %g", mse)
	}
	want := Fitness(1.0 / (sse + 0.000001))
	if diff := math.Abs(float64(fitness - want)); diff > 1e-9 {
		t.Fatalf("fitness %f does not follow reciprocal sse %f", fitness, want)
	}
	if trace["mode"] != "gt" || trace["cases"] != 4 {
		t.Fatalf("trace bookkeeping wrong: %+v", trace)
	}
	predictions, ok := trace["predictions"].([]float64)
	if !ok || len(predictions) != 4 {
		t.Fatalf("trace predictions wrong: %+v", trace)
	}
	for i, want := range []float64{0, 1, 1, 0} {
		if math.Abs(predictions[i]-want) > 1e-3 {
			t.Fatalf("case %d predicted %f, want %f", i, predictions[i], want)
		}
	}
}

func TestXORScapeModes(t *testing.T) {
	g := xorSolverGenotype()
	for mode, wantCases := range map[string]int{"gt": 4, "validation": 6, "test": 8, "benchmark": 8} {
		_, trace, err := XORScape{}.EvaluateMode(context.Background(), g, mode)
		if err != nil {
			t.Fatalf("mode %s: %v", mode, err)
		}
		if trace["cases"] != wantCases {
			t.Fatalf("mode %s ran %v cases, want %d", mode, trace["cases"], wantCases)
		}
		if trace["mode"] != mode {
			t.Fatalf("mode %s echoed as %v", mode, trace["mode"])
		}
	}
	if _, _, err := (XORScape{}).EvaluateMode(context.Background(), g, "holdout"); err == nil {
		t.Fatalf("expected unsupported mode error")
	}
}

func TestXORScapeRejectsMismatchedShape(t *testing.T) {
	twoSensors := xorSolverGenotype()
	twoSensors.Sensors = append(twoSensors.Sensors, twoSensors.Sensors[0])
	if _, _, err := (XORScape{}).Evaluate(context.Background(), twoSensors); err == nil {
		t.Fatalf("expected error for two sensor descriptors")
	}

	wideSensor := xorSolverGenotype()
	wideSensor.Sensors[0].VectorLength = 3
	if _, _, err := (XORScape{}).Evaluate(context.Background(), wideSensor); err == nil {
		t.Fatalf("expected error for sensor width mismatch")
	}

	wideActuator := xorSolverGenotype()
	wideActuator.Actuators[0].VectorLength = 2
	if _, _, err := (XORScape{}).Evaluate(context.Background(), wideActuator); err == nil {
		t.Fatalf("expected error for actuator width mismatch")
	}
}

func TestXORScapeContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := (XORScape{}).Evaluate(ctx, xorSolverGenotype()); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestByNameResolvesAliases(t *testing.T) {
	for name, want := range map[string]string{
		"xor":             "xor",
		"xor_sim":         "xor",
		"XOR":             "xor",
		"regression-mimic": "regression-mimic",
		"regression_mimic": "regression-mimic",
		"mimic":           "regression-mimic",
	} {
		s, err := ByName(name)
		if err != nil {
			t.Fatalf("resolve %q: %v", name, err)
		}
		if s.Name() != want {
			t.Fatalf("resolve %q: got %q, want %q", name, s.Name(), want)
		}
	}
	if _, err := ByName("flatland"); err == nil {
		t.Fatalf("expected unknown scape error")
	}
	if got := List(); len(got) != 2 || got[0] != "regression-mimic" || got[1] != "xor" {
		t.Fatalf("list wrong: %v", got)
	}
}
