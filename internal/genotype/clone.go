package genotype

import "phylogen/internal/model"

// Clone returns a deep copy sharing no slices or maps with the input.
// Population transitions treat genotypes as immutable values, so every
// modification path starts from a clone.
func Clone(g model.Genotype) model.Genotype {
	out := g
	out.Nodes = append([]model.NodeGene(nil), g.Nodes...)
	out.Connections = append([]model.ConnectionGene(nil), g.Connections...)
	out.Sensors = make([]model.SensorGene, len(g.Sensors))
	for i, sensor := range g.Sensors {
		sensor.NodeIDs = append([]string(nil), sensor.NodeIDs...)
		out.Sensors[i] = sensor
	}
	out.Actuators = make([]model.ActuatorGene, len(g.Actuators))
	for i, actuator := range g.Actuators {
		actuator.FanIn = append([]string(nil), actuator.FanIn...)
		out.Actuators[i] = actuator
	}
	return out
}
