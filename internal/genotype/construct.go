package genotype

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"phylogen/internal/model"
)

// BiasNodeID names the single constant-emitting bias node every genotype
// carries. The runtime never spawns an actor for it; each neuron folds
// its bias gene's weight into the accumulator at cycle start.
const BiasNodeID = "bias"

const (
	// LayerInput and LayerOutput bound the layer index range. Neurons
	// inserted by connection splits land on midpoints between their
	// endpoints' layers.
	LayerInput  = 0.0
	LayerOutput = 1.0
)

func SensorNodeID(sensorID string, element int) string {
	return fmt.Sprintf("%s:%d", sensorID, element)
}

func OutputNodeID(slot int) string {
	return fmt.Sprintf("out:%d", slot)
}

// ConstructSeed builds the minimal genotype for a sensor/actuator set:
// no hidden layers, sensor element nodes wired fully to one output
// neuron per actuator fan-in slot, plus a bias gene per neuron. Weights
// are drawn centered on zero from rng.
func ConstructSeed(id string, sensors []model.SensorGene, actuators []model.ActuatorGene, activation string, rng *rand.Rand) (model.Genotype, error) {
	if strings.TrimSpace(id) == "" {
		return model.Genotype{}, fmt.Errorf("genotype id is required")
	}
	if len(sensors) == 0 {
		return model.Genotype{}, fmt.Errorf("at least one sensor is required")
	}
	if len(actuators) == 0 {
		return model.Genotype{}, fmt.Errorf("at least one actuator is required")
	}
	if strings.TrimSpace(activation) == "" {
		activation = "tanh"
	}
	rng = ensureRNG(rng)

	nodes := []model.NodeGene{{
		ID:         BiasNodeID,
		Kind:       model.NodeKindBias,
		Layer:      LayerInput,
		Innovation: NodeInnovation(BiasNodeID),
	}}

	seededSensors := make([]model.SensorGene, len(sensors))
	for i, sensor := range sensors {
		if strings.TrimSpace(sensor.ID) == "" || strings.TrimSpace(sensor.Signal) == "" {
			return model.Genotype{}, fmt.Errorf("sensor %d: id and signal are required", i)
		}
		if sensor.VectorLength <= 0 {
			return model.Genotype{}, fmt.Errorf("sensor %s: vector length must be > 0", sensor.ID)
		}
		sensor.NodeIDs = make([]string, sensor.VectorLength)
		for element := 0; element < sensor.VectorLength; element++ {
			nodeID := SensorNodeID(sensor.ID, element)
			sensor.NodeIDs[element] = nodeID
			nodes = append(nodes, model.NodeGene{
				ID:         nodeID,
				Kind:       model.NodeKindSensor,
				Layer:      LayerInput,
				Innovation: NodeInnovation(nodeID),
			})
		}
		seededSensors[i] = sensor
	}

	seededActuators := make([]model.ActuatorGene, len(actuators))
	outputIDs := make([]string, 0)
	slot := 0
	for i, actuator := range actuators {
		if strings.TrimSpace(actuator.ID) == "" || strings.TrimSpace(actuator.Consumer) == "" {
			return model.Genotype{}, fmt.Errorf("actuator %d: id and consumer are required", i)
		}
		if actuator.VectorLength <= 0 {
			return model.Genotype{}, fmt.Errorf("actuator %s: vector length must be > 0", actuator.ID)
		}
		actuator.FanIn = make([]string, actuator.VectorLength)
		for element := 0; element < actuator.VectorLength; element++ {
			nodeID := OutputNodeID(slot)
			slot++
			actuator.FanIn[element] = nodeID
			outputIDs = append(outputIDs, nodeID)
			nodes = append(nodes, model.NodeGene{
				ID:         nodeID,
				Kind:       model.NodeKindNeuron,
				Activation: activation,
				Layer:      LayerOutput,
				Innovation: NodeInnovation(nodeID),
			})
		}
		seededActuators[i] = actuator
	}

	connections := make([]model.ConnectionGene, 0, len(outputIDs)*(len(nodes)-len(outputIDs)))
	for _, outputID := range outputIDs {
		connections = append(connections, model.ConnectionGene{
			From:       BiasNodeID,
			To:         outputID,
			Weight:     randomCentered(rng),
			Enabled:    true,
			Innovation: ConnectionInnovation(BiasNodeID, outputID),
		})
		for _, sensor := range seededSensors {
			for _, sensorNodeID := range sensor.NodeIDs {
				connections = append(connections, model.ConnectionGene{
					From:       sensorNodeID,
					To:         outputID,
					Weight:     randomCentered(rng),
					Enabled:    true,
					Innovation: ConnectionInnovation(sensorNodeID, outputID),
				})
			}
		}
	}
	SortConnections(connections)

	genotype := model.Genotype{
		ID:          id,
		Nodes:       nodes,
		Connections: connections,
		Sensors:     seededSensors,
		Actuators:   seededActuators,
	}
	if err := Validate(genotype); err != nil {
		return model.Genotype{}, fmt.Errorf("construct seed %s: %w", id, err)
	}
	return genotype, nil
}

// SortConnections restores the innovation ordering the gene list must
// keep at all times. Endpoint IDs break hash ties so the order is total.
func SortConnections(connections []model.ConnectionGene) {
	sort.Slice(connections, func(i, j int) bool {
		if connections[i].Innovation != connections[j].Innovation {
			return connections[i].Innovation < connections[j].Innovation
		}
		if connections[i].From != connections[j].From {
			return connections[i].From < connections[j].From
		}
		return connections[i].To < connections[j].To
	})
}

// Validate checks the structural invariants every genotype must hold:
// unique nodes, endpoints that exist, neurons as the only connection
// targets, exactly one bias gene per neuron, no duplicate enabled edge,
// innovation-ordered connections, and descriptor lists consistent with
// their vector lengths.
func Validate(g model.Genotype) error {
	if strings.TrimSpace(g.ID) == "" {
		return fmt.Errorf("genotype id is required")
	}
	if len(g.Sensors) == 0 {
		return fmt.Errorf("genotype %s: at least one sensor is required", g.ID)
	}
	if len(g.Actuators) == 0 {
		return fmt.Errorf("genotype %s: at least one actuator is required", g.ID)
	}

	kinds := make(map[string]model.NodeKind, len(g.Nodes))
	for _, node := range g.Nodes {
		if strings.TrimSpace(node.ID) == "" {
			return fmt.Errorf("genotype %s: node with empty id", g.ID)
		}
		if _, dup := kinds[node.ID]; dup {
			return fmt.Errorf("genotype %s: duplicate node id %s", g.ID, node.ID)
		}
		switch node.Kind {
		case model.NodeKindSensor, model.NodeKindNeuron, model.NodeKindActuator, model.NodeKindBias:
		default:
			return fmt.Errorf("genotype %s: node %s has unknown kind %q", g.ID, node.ID, node.Kind)
		}
		kinds[node.ID] = node.Kind
	}

	seenEnabled := make(map[[2]string]bool)
	biasInputs := make(map[string]int)
	var lastInnovation uint64
	for i, conn := range g.Connections {
		fromKind, ok := kinds[conn.From]
		if !ok {
			return fmt.Errorf("genotype %s: connection from unknown node %s", g.ID, conn.From)
		}
		toKind, ok := kinds[conn.To]
		if !ok {
			return fmt.Errorf("genotype %s: connection to unknown node %s", g.ID, conn.To)
		}
		if toKind != model.NodeKindNeuron {
			return fmt.Errorf("genotype %s: connection target %s is not a neuron", g.ID, conn.To)
		}
		if fromKind == model.NodeKindActuator {
			return fmt.Errorf("genotype %s: connection source %s is an actuator", g.ID, conn.From)
		}
		if i > 0 && conn.Innovation < lastInnovation {
			return fmt.Errorf("genotype %s: connections not ordered by innovation at index %d", g.ID, i)
		}
		lastInnovation = conn.Innovation
		if conn.Enabled {
			key := [2]string{conn.From, conn.To}
			if seenEnabled[key] {
				return fmt.Errorf("genotype %s: duplicate enabled connection %s -> %s", g.ID, conn.From, conn.To)
			}
			seenEnabled[key] = true
		}
		if conn.From == BiasNodeID {
			biasInputs[conn.To]++
		}
	}

	for id, kind := range kinds {
		if kind != model.NodeKindNeuron {
			continue
		}
		if biasInputs[id] != 1 {
			return fmt.Errorf("genotype %s: neuron %s has %d bias inputs, want exactly 1", g.ID, id, biasInputs[id])
		}
	}

	for _, sensor := range g.Sensors {
		if len(sensor.NodeIDs) != sensor.VectorLength {
			return fmt.Errorf("genotype %s: sensor %s has %d element nodes, want %d", g.ID, sensor.ID, len(sensor.NodeIDs), sensor.VectorLength)
		}
		for _, nodeID := range sensor.NodeIDs {
			if kinds[nodeID] != model.NodeKindSensor {
				return fmt.Errorf("genotype %s: sensor %s references non-sensor node %s", g.ID, sensor.ID, nodeID)
			}
		}
	}
	for _, actuator := range g.Actuators {
		if len(actuator.FanIn) == 0 {
			return fmt.Errorf("genotype %s: actuator %s has empty fan-in", g.ID, actuator.ID)
		}
		if len(actuator.FanIn) != actuator.VectorLength {
			return fmt.Errorf("genotype %s: actuator %s has %d fan-in entries, want %d", g.ID, actuator.ID, len(actuator.FanIn), actuator.VectorLength)
		}
		for _, nodeID := range actuator.FanIn {
			if kinds[nodeID] != model.NodeKindNeuron {
				return fmt.Errorf("genotype %s: actuator %s fans in from non-neuron node %s", g.ID, actuator.ID, nodeID)
			}
		}
	}
	return nil
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng != nil {
		return rng
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func randomCentered(rng *rand.Rand) float64 {
	return rng.Float64() - 0.5
}
