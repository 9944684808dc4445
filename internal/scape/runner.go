package scape

import (
	"context"
	"fmt"

	"phylogen/internal/agent"
	phyio "phylogen/internal/io"
	"phylogen/internal/model"
)

// runPredictions drives a genotype through a scripted episode: frame i
// is presented on cycle i and the actuator write collected for that
// cycle is returned in order. Every call builds a fresh network.
func runPredictions(ctx context.Context, g model.Genotype, scapeName string, frames [][]float64, wantOutputs int) ([][]float64, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s has no input frames", scapeName)
	}
	if len(g.Sensors) != 1 {
		return nil, fmt.Errorf("%s drives exactly one sensor, genotype %s has %d", scapeName, g.ID, len(g.Sensors))
	}
	if len(g.Actuators) != 1 {
		return nil, fmt.Errorf("%s reads exactly one actuator, genotype %s has %d", scapeName, g.ID, len(g.Actuators))
	}
	sensorGene := g.Sensors[0]
	actuatorGene := g.Actuators[0]
	if sensorGene.VectorLength != len(frames[0]) {
		return nil, fmt.Errorf("%s presents %d inputs, sensor %s reads %d", scapeName, len(frames[0]), sensorGene.ID, sensorGene.VectorLength)
	}
	if actuatorGene.VectorLength != wantOutputs {
		return nil, fmt.Errorf("%s expects %d outputs, actuator %s writes %d", scapeName, wantOutputs, actuatorGene.ID, actuatorGene.VectorLength)
	}

	script := phyio.NewSequenceSensor(sensorGene.Signal, frames)
	capture := phyio.NewCaptureActuator(actuatorGene.Consumer)
	net, err := agent.NewNetwork(g, agent.Options{
		Scape:     scapeName,
		Sensors:   map[string]phyio.Sensor{sensorGene.ID: script},
		Actuators: map[string]phyio.Actuator{actuatorGene.ID: capture},
	})
	if err != nil {
		return nil, fmt.Errorf("build network for %s: %w", g.ID, err)
	}

	snapshot, err := net.Run(ctx, len(frames))
	if err != nil {
		return nil, err
	}
	neurons := 0
	for _, node := range g.Nodes {
		if node.Kind == model.NodeKindNeuron {
			neurons++
		}
	}
	if len(snapshot) != neurons {
		return nil, fmt.Errorf("backup covers %d neurons, genotype %s has %d", len(snapshot), g.ID, neurons)
	}

	history := capture.History()
	if len(history) != len(frames) {
		return nil, fmt.Errorf("actuator captured %d frames, want %d", len(history), len(frames))
	}
	return history, nil
}
