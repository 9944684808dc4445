package agent

import (
	"context"
	"fmt"
)

// Every send and receive below selects against the stop channel so an
// aborted run unwinds all actors regardless of where each one is
// blocked. Channel buffers equal fan-in, and the cortex barrier keeps
// at most one message per edge in flight, so sends only ever block
// during shutdown.

func (n *Network) runSensor(ctx context.Context, a *sensorActor) {
	for {
		select {
		case <-n.stop:
			return
		case <-a.advance:
		}
		values, err := a.device.Read(ctx)
		if err != nil {
			n.report(fmt.Errorf("sensor %s: %w", a.gene.ID, err))
			return
		}
		if len(values) != a.gene.VectorLength {
			n.report(fmt.Errorf("sensor %s emitted %d values, want %d", a.gene.ID, len(values), a.gene.VectorLength))
			return
		}
		for i, targets := range a.routes {
			sig := signal{From: a.gene.NodeIDs[i], Value: values[i]}
			for _, ch := range targets {
				select {
				case ch <- sig:
				case <-n.stop:
					return
				}
			}
		}
	}
}

func (n *Network) runNeuron(a *neuronActor) {
	defer func() {
		weights := make(map[string]float64, len(a.weights))
		for from, w := range a.weights {
			weights[from] = w
		}
		n.backup <- neuronSnapshot{id: a.id, weights: weights}
	}()

	acc := a.biasSeed
	pending := a.fanIn
	for {
		select {
		case <-n.stop:
			return
		case in := <-a.in:
			acc += a.weights[in.From] * in.Value
			pending--
			if pending > 0 {
				continue
			}
			out := signal{From: a.id, Value: a.activation(acc)}
			for _, ch := range a.targets {
				select {
				case ch <- out:
				case <-n.stop:
					return
				}
			}
			acc = a.biasSeed
			pending = a.fanIn
		}
	}
}

func (n *Network) runActuator(ctx context.Context, a *actuatorActor) {
	values := make([]float64, len(a.gene.FanIn))
	received := 0
	for {
		select {
		case <-n.stop:
			return
		case in := <-a.in:
			// A neuron that feeds several slots sends one message per
			// slot with the same value, so rewriting all of its slots
			// on every message is idempotent.
			for _, slot := range a.slots[in.From] {
				values[slot] = in.Value
			}
			received++
			if received < len(values) {
				continue
			}
			if err := a.device.Write(ctx, append([]float64(nil), values...)); err != nil {
				n.report(fmt.Errorf("actuator %s: %w", a.gene.ID, err))
				return
			}
			select {
			case n.cycleDone <- a.gene.ID:
			case <-n.stop:
				return
			}
			received = 0
		}
	}
}
