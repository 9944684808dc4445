package genotype

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"phylogen/internal/model"
)

// Summarize reduces a genotype to the structural counts recorded with
// its lineage entry. Connection counts cover enabled genes only.
func Summarize(g model.Genotype) model.LineageSummary {
	summary := model.LineageSummary{
		TotalSensors:           len(g.Sensors),
		TotalActuators:         len(g.Actuators),
		ActivationDistribution: make(map[string]int),
	}
	for _, node := range g.Nodes {
		if node.Kind != model.NodeKindNeuron {
			continue
		}
		summary.TotalNeurons++
		summary.ActivationDistribution[node.Activation]++
	}
	for _, conn := range g.Connections {
		if !conn.Enabled {
			continue
		}
		summary.TotalConnections++
		if conn.Recurrent {
			summary.TotalRecurrent++
		}
	}
	return summary
}

// Fingerprint hashes the full structure and weights of a genotype into a
// stable hex token. Two genotypes fingerprint equal exactly when their
// node and gene sets match, independent of fitness or species bookkeeping.
func Fingerprint(g model.Genotype) string {
	h := fnv.New64a()

	nodes := append([]model.NodeGene(nil), g.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for _, node := range nodes {
		fmt.Fprintf(h, "n|%s|%s|%s|%x\n", node.ID, node.Kind, node.Activation, math.Float64bits(node.Layer))
	}

	connections := append([]model.ConnectionGene(nil), g.Connections...)
	SortConnections(connections)
	for _, conn := range connections {
		fmt.Fprintf(h, "c|%s|%s|%x|%t|%t\n", conn.From, conn.To, math.Float64bits(conn.Weight), conn.Enabled, conn.Recurrent)
	}

	sensors := append([]model.SensorGene(nil), g.Sensors...)
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].ID < sensors[j].ID })
	for _, sensor := range sensors {
		fmt.Fprintf(h, "s|%s|%s|%d\n", sensor.ID, sensor.Signal, sensor.VectorLength)
	}

	actuators := append([]model.ActuatorGene(nil), g.Actuators...)
	sort.Slice(actuators, func(i, j int) bool { return actuators[i].ID < actuators[j].ID })
	for _, actuator := range actuators {
		fmt.Fprintf(h, "a|%s|%s|%d\n", actuator.ID, actuator.Consumer, actuator.VectorLength)
	}

	return fmt.Sprintf("%016x", h.Sum64())
}
