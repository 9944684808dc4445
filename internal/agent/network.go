package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	phyio "phylogen/internal/io"
	"phylogen/internal/model"
	"phylogen/internal/nn"
)

// Network states, reported by State. A network is single-use: one Run
// call walks it from awaiting through running and backup collection to
// terminated, and a second Run fails.
const (
	stateAwaiting int32 = iota
	stateRunning
	stateCollecting
	stateTerminated
)

var stateNames = map[int32]string{
	stateAwaiting:   "awaiting_initial_state",
	stateRunning:    "running",
	stateCollecting: "collecting_backup",
	stateTerminated: "terminated",
}

var (
	ErrAlreadyRan = errors.New("network has already run")
	ErrTerminated = errors.New("network terminated")
)

// signal is the only message neurons and actuators receive. From names
// the emitting node so the receiver can look up its weight; summation
// is commutative, so arrival order never changes the result.
type signal struct {
	From  string
	Value float64
}

// WeightSnapshot maps each neuron to its inbound weight table as
// collected during backup, with the bias seed stored under the bias
// node id.
type WeightSnapshot map[string]map[string]float64

// Options configures network construction. Sensor and actuator
// instances given here override registry resolution for the matching
// gene IDs; anything not overridden resolves through the component
// registry for Scape.
type Options struct {
	Scape     string
	Sensors   map[string]phyio.Sensor
	Actuators map[string]phyio.Actuator
}

type sensorActor struct {
	gene    model.SensorGene
	device  phyio.Sensor
	advance chan struct{}
	// routes[i] holds the inbound channels fed by element node i.
	routes [][]chan signal
}

type neuronActor struct {
	id         string
	activation nn.ActivationFunc
	biasSeed   float64
	weights    map[string]float64
	fanIn      int
	in         chan signal
	targets    []chan signal
	targetIDs  []string
}

type actuatorActor struct {
	gene   model.ActuatorGene
	device phyio.Actuator
	in     chan signal
	// slots maps an emitting neuron to the output vector positions it
	// fills, in fan-in order.
	slots map[string][]int
}

// Network runs one genotype as a set of communicating actors: one
// goroutine per sensor, neuron and actuator, plus the cortex that
// drives the sense-think-act cycle. All channel wiring is fixed at
// construction; nothing is resolved by name after NewNetwork returns.
type Network struct {
	genotype  model.Genotype
	sensors   []*sensorActor
	neurons   []*neuronActor
	actuators []*actuatorActor

	stop      chan struct{}
	stopOnce  sync.Once
	terminate chan struct{}
	termOnce  sync.Once
	done      chan struct{}
	errs      chan error
	backup    chan neuronSnapshot
	cycleDone chan string

	mu    sync.Mutex
	state int32
}

type neuronSnapshot struct {
	id      string
	weights map[string]float64
}

type edge struct{ from, to string }

// NewNetwork compiles a genotype into its runtime form. Activation
// functions and devices resolve here exactly once, effective fan-ins
// are checked, and the enabled feed-forward topology is verified to be
// acyclic so the cycle barrier cannot deadlock.
func NewNetwork(g model.Genotype, opts Options) (*Network, error) {
	if len(g.Sensors) == 0 {
		return nil, fmt.Errorf("network %s: at least one sensor is required", g.ID)
	}
	if len(g.Actuators) == 0 {
		return nil, fmt.Errorf("network %s: at least one actuator is required", g.ID)
	}

	kinds := make(map[string]model.NodeKind, len(g.Nodes))
	for _, node := range g.Nodes {
		kinds[node.ID] = node.Kind
	}

	neuronByID := make(map[string]*neuronActor)
	var neurons []*neuronActor
	for _, node := range g.Nodes {
		if node.Kind != model.NodeKindNeuron {
			continue
		}
		fn, err := nn.GetActivation(node.Activation)
		if err != nil {
			return nil, fmt.Errorf("network %s: neuron %s: %w", g.ID, node.ID, err)
		}
		actor := &neuronActor{
			id:         node.ID,
			activation: fn,
			weights:    make(map[string]float64),
		}
		neuronByID[node.ID] = actor
		neurons = append(neurons, actor)
	}
	if len(neurons) == 0 {
		return nil, fmt.Errorf("network %s: no neurons", g.ID)
	}

	// Live edges are the enabled, non-recurrent connections. Recurrent
	// genes stay in the genotype but never become channels.
	biasID := genotypeBiasID(g)
	var liveEdges []edge
	for _, conn := range g.Connections {
		if !conn.Enabled || conn.Recurrent {
			continue
		}
		target, ok := neuronByID[conn.To]
		if !ok {
			return nil, fmt.Errorf("network %s: connection targets non-neuron %s", g.ID, conn.To)
		}
		if conn.From != "" && conn.From == biasID {
			target.biasSeed = conn.Weight
			target.weights[conn.From] = conn.Weight
			continue
		}
		if _, ok := kinds[conn.From]; !ok {
			return nil, fmt.Errorf("network %s: connection from unknown node %s", g.ID, conn.From)
		}
		target.weights[conn.From] = conn.Weight
		target.fanIn++
		liveEdges = append(liveEdges, edge{from: conn.From, to: conn.To})
	}

	for _, n := range neurons {
		if n.fanIn == 0 {
			return nil, fmt.Errorf("network %s: neuron %s has no enabled inputs", g.ID, n.id)
		}
		n.in = make(chan signal, n.fanIn)
	}

	if err := checkAcyclic(neurons, liveEdges, neuronByID); err != nil {
		return nil, fmt.Errorf("network %s: %w", g.ID, err)
	}

	var actuators []*actuatorActor
	for _, gene := range g.Actuators {
		device := opts.Actuators[gene.ID]
		if device == nil {
			resolved, err := phyio.ResolveActuator(gene.Consumer, opts.Scape)
			if err != nil {
				return nil, fmt.Errorf("network %s: actuator %s: %w", g.ID, gene.ID, err)
			}
			device = resolved
		}
		actor := &actuatorActor{
			gene:   gene,
			device: device,
			in:     make(chan signal, len(gene.FanIn)),
			slots:  make(map[string][]int),
		}
		for slot, neuronID := range gene.FanIn {
			source, ok := neuronByID[neuronID]
			if !ok {
				return nil, fmt.Errorf("network %s: actuator %s fans in from unknown neuron %s", g.ID, gene.ID, neuronID)
			}
			actor.slots[neuronID] = append(actor.slots[neuronID], slot)
			source.targets = append(source.targets, actor.in)
			source.targetIDs = append(source.targetIDs, gene.ID)
		}
		actuators = append(actuators, actor)
	}

	var sensors []*sensorActor
	for _, gene := range g.Sensors {
		device := opts.Sensors[gene.ID]
		if device == nil {
			resolved, err := phyio.ResolveSensor(gene.Signal, opts.Scape)
			if err != nil {
				return nil, fmt.Errorf("network %s: sensor %s: %w", g.ID, gene.ID, err)
			}
			device = resolved
		}
		actor := &sensorActor{
			gene:    gene,
			device:  device,
			advance: make(chan struct{}, 1),
			routes:  make([][]chan signal, len(gene.NodeIDs)),
		}
		sensors = append(sensors, actor)
	}
	elementRoutes := make(map[string]*sensorActor)
	elementIndex := make(map[string]int)
	for _, actor := range sensors {
		for i, nodeID := range actor.gene.NodeIDs {
			elementRoutes[nodeID] = actor
			elementIndex[nodeID] = i
		}
	}
	for _, e := range liveEdges {
		if actor, ok := elementRoutes[e.from]; ok {
			i := elementIndex[e.from]
			actor.routes[i] = append(actor.routes[i], neuronByID[e.to].in)
			continue
		}
		if source, ok := neuronByID[e.from]; ok {
			target := neuronByID[e.to]
			source.targets = append(source.targets, target.in)
			source.targetIDs = append(source.targetIDs, target.id)
			continue
		}
		return nil, fmt.Errorf("network %s: connection from non-emitting node %s", g.ID, e.from)
	}

	actorCount := len(sensors) + len(neurons) + len(actuators) + 1
	return &Network{
		genotype:  g,
		sensors:   sensors,
		neurons:   neurons,
		actuators: actuators,
		stop:      make(chan struct{}),
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
		errs:      make(chan error, actorCount),
		backup:    make(chan neuronSnapshot, len(neurons)),
		cycleDone: make(chan string, len(actuators)),
		state:     stateAwaiting,
	}, nil
}

func genotypeBiasID(g model.Genotype) string {
	for _, node := range g.Nodes {
		if node.Kind == model.NodeKindBias {
			return node.ID
		}
	}
	return ""
}

// checkAcyclic runs Kahn's algorithm over the live neuron-to-neuron
// edges. A cycle among them would leave neurons waiting on each other
// inside a single sense-think-act cycle.
func checkAcyclic(neurons []*neuronActor, edges []edge, neuronByID map[string]*neuronActor) error {
	indegree := make(map[string]int, len(neurons))
	adjacency := make(map[string][]string)
	for _, n := range neurons {
		indegree[n.id] = 0
	}
	for _, e := range edges {
		if _, ok := neuronByID[e.from]; !ok {
			continue
		}
		adjacency[e.from] = append(adjacency[e.from], e.to)
		indegree[e.to]++
	}

	queue := make([]string, 0, len(neurons))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adjacency[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(neurons) {
		return errors.New("cyclic feed-forward topology")
	}
	return nil
}

func (n *Network) State() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return stateNames[n.state]
}

func (n *Network) setState(s int32) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Terminate requests an out-of-band shutdown. A running network stops
// driving cycles and moves straight to backup collection; an idle one
// terminates without ever cycling. Safe to call from any goroutine,
// any number of times.
func (n *Network) Terminate() {
	n.termOnce.Do(func() { close(n.terminate) })
}

// Run drives the network for the given number of sense-think-act
// cycles and returns the collected weight snapshot. A network runs at
// most once. Cancelling ctx, calling Terminate, or any device failure
// ends the run early; device failures surface as the returned error,
// while cancellation and termination still yield the snapshot.
func (n *Network) Run(ctx context.Context, steps int) (WeightSnapshot, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("steps must be > 0, got %d", steps)
	}
	n.mu.Lock()
	if n.state != stateAwaiting {
		n.mu.Unlock()
		return nil, ErrAlreadyRan
	}
	n.state = stateRunning
	n.mu.Unlock()

	var wg sync.WaitGroup
	for _, actor := range n.sensors {
		wg.Add(1)
		go func(a *sensorActor) {
			defer wg.Done()
			n.runSensor(ctx, a)
		}(actor)
	}
	for _, actor := range n.neurons {
		wg.Add(1)
		go func(a *neuronActor) {
			defer wg.Done()
			n.runNeuron(a)
		}(actor)
	}
	for _, actor := range n.actuators {
		wg.Add(1)
		go func(a *actuatorActor) {
			defer wg.Done()
			n.runActuator(ctx, a)
		}(actor)
	}

	// A terminate issued before Run starts cycling moves the network
	// straight to backup collection without driving a single cycle.
	preTerminated := false
	select {
	case <-n.terminate:
		preTerminated = true
	default:
	}

	var runErr error
	if !preTerminated {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.runCortex(steps)
		}()

		select {
		case <-n.done:
		case err := <-n.errs:
			runErr = err
		case <-ctx.Done():
			runErr = ctx.Err()
		case <-n.terminate:
		}
	}

	n.setState(stateCollecting)
	n.stopOnce.Do(func() { close(n.stop) })

	snapshot := make(WeightSnapshot, len(n.neurons))
	for range n.neurons {
		s := <-n.backup
		snapshot[s.id] = s.weights
	}
	wg.Wait()
	n.setState(stateTerminated)

	if runErr != nil {
		return nil, fmt.Errorf("network %s: %w", n.genotype.ID, runErr)
	}
	return snapshot, nil
}

// runCortex drives the sense-think-act cycle: it releases every sensor,
// then waits for one completion per actuator before starting the next
// cycle. cycleDone carries one actuator id per completed write.
func (n *Network) runCortex(steps int) {
	for cycle := 0; cycle < steps; cycle++ {
		for _, sensor := range n.sensors {
			select {
			case sensor.advance <- struct{}{}:
			case <-n.stop:
				return
			}
		}
		for pending := len(n.actuators); pending > 0; pending-- {
			select {
			case <-n.cycleDone:
			case <-n.stop:
				return
			}
		}
	}
	close(n.done)
}

func (n *Network) report(err error) {
	select {
	case n.errs <- err:
	default:
	}
}
