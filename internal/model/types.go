package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type NodeKind string

const (
	NodeKindSensor   NodeKind = "sensor"
	NodeKindNeuron   NodeKind = "neuron"
	NodeKindActuator NodeKind = "actuator"
	NodeKindBias     NodeKind = "bias"
)

// NodeGene is immutable once created. Activation names a registered
// activation function and is only meaningful for neuron nodes.
type NodeGene struct {
	ID         string   `json:"id"`
	Kind       NodeKind `json:"kind"`
	Activation string   `json:"activation,omitempty"`
	Layer      float64  `json:"layer"`
	Innovation uint64   `json:"innovation"`
}

// ConnectionGene carries the deterministic innovation number derived from
// its endpoints. Recurrent connections are declared but never fired by
// the feed-forward runtime.
type ConnectionGene struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Weight     float64 `json:"weight"`
	Enabled    bool    `json:"enabled"`
	Innovation uint64  `json:"innovation"`
	Recurrent  bool    `json:"recurrent"`
}

// SensorGene binds one runtime sensor actor to a registered signal
// function. NodeIDs lists the per-element sensor nodes, one per slot of
// the emitted vector.
type SensorGene struct {
	ID           string   `json:"id"`
	Signal       string   `json:"signal"`
	VectorLength int      `json:"vector_length"`
	NodeIDs      []string `json:"node_ids"`
}

// ActuatorGene binds one runtime actuator actor to a registered consumer
// function. FanIn lists the neurons whose outputs form the consumed
// vector, in consumption order.
type ActuatorGene struct {
	ID           string   `json:"id"`
	Consumer     string   `json:"consumer"`
	VectorLength int      `json:"vector_length"`
	FanIn        []string `json:"fan_in"`
}

type Genotype struct {
	VersionedRecord
	ID              string           `json:"id"`
	Nodes           []NodeGene       `json:"nodes"`
	Connections     []ConnectionGene `json:"connections"`
	Sensors         []SensorGene     `json:"sensors"`
	Actuators       []ActuatorGene   `json:"actuators"`
	Fitness         float64          `json:"fitness"`
	AdjustedFitness float64          `json:"adjusted_fitness"`
	SpeciesID       string           `json:"species_id,omitempty"`
	Generation      int              `json:"generation"`
}

type Species struct {
	ID             string   `json:"id"`
	Representative Genotype `json:"representative"`
	MemberIDs      []string `json:"member_ids"`
	BestFitness    float64  `json:"best_fitness"`
	LastImproved   int      `json:"last_improved"`
	Age            int      `json:"age"`
}

// PopulationConfig travels with the population snapshot so an
// interrupted run resumes under the parameters it started with.
type PopulationConfig struct {
	PopulationSize         int     `json:"population_size"`
	CompatibilityThreshold float64 `json:"compatibility_threshold"`
	CompatExcessCoeff      float64 `json:"compat_excess_coeff"`
	CompatDisjointCoeff    float64 `json:"compat_disjoint_coeff"`
	CompatWeightCoeff      float64 `json:"compat_weight_coeff"`
	CompatNormalizeFloor   int     `json:"compat_normalize_floor"`
	WeightMutationRate     float64 `json:"weight_mutation_rate"`
	WeightReplaceRate      float64 `json:"weight_replace_rate"`
	WeightPerturbScale     float64 `json:"weight_perturb_scale"`
	AddNodeRate            float64 `json:"add_node_rate"`
	AddConnectionRate      float64 `json:"add_connection_rate"`
	ToggleConnectionRate   float64 `json:"toggle_connection_rate"`
	CrossoverRate          float64 `json:"crossover_rate"`
	TournamentSize         int     `json:"tournament_size"`
	EliteMinSpeciesSize    int     `json:"elite_min_species_size"`
	StagnationWindow       int     `json:"stagnation_window"`
}

type PopulationStats struct {
	BestFitness       float64 `json:"best_fitness"`
	MeanFitness       float64 `json:"mean_fitness"`
	TotalEvaluations  int     `json:"total_evaluations"`
	FailedEvaluations int     `json:"failed_evaluations"`
}

type Population struct {
	VersionedRecord
	ID         string           `json:"id"`
	Generation int              `json:"generation"`
	Genotypes  []Genotype       `json:"genotypes"`
	Species    []Species        `json:"species"`
	Config     PopulationConfig `json:"config"`
	Stats      PopulationStats  `json:"stats"`
}

type SpeciesMetrics struct {
	SpeciesID    string  `json:"species_id"`
	Size         int     `json:"size"`
	BestFitness  float64 `json:"best_fitness"`
	MeanFitness  float64 `json:"mean_fitness"`
	Age          int     `json:"age"`
	LastImproved int     `json:"last_improved"`
	Stagnant     bool    `json:"stagnant"`
}

type GenerationStats struct {
	Generation        int              `json:"generation"`
	BestFitness       float64          `json:"best_fitness"`
	MeanFitness       float64          `json:"mean_fitness"`
	SpeciesCount      int              `json:"species_count"`
	Species           []SpeciesMetrics `json:"species"`
	NewSpecies        []string         `json:"new_species,omitempty"`
	ExtinctSpecies    []string         `json:"extinct_species,omitempty"`
	FailedEvaluations int              `json:"failed_evaluations"`
}

type LineageSummary struct {
	TotalNeurons           int            `json:"total_neurons"`
	TotalConnections       int            `json:"total_connections"`
	TotalRecurrent         int            `json:"total_recurrent"`
	TotalSensors           int            `json:"total_sensors"`
	TotalActuators         int            `json:"total_actuators"`
	ActivationDistribution map[string]int `json:"activation_distribution,omitempty"`
}

type LineageRecord struct {
	GenotypeID  string         `json:"genotype_id"`
	ParentIDs   []string       `json:"parent_ids"`
	Generation  int            `json:"generation"`
	Operation   string         `json:"operation"`
	Fingerprint string         `json:"fingerprint"`
	Summary     LineageSummary `json:"summary"`
}

type TopGenotypeRecord struct {
	Rank     int      `json:"rank"`
	Fitness  float64  `json:"fitness"`
	Genotype Genotype `json:"genotype"`
}

type ScapeSummary struct {
	VersionedRecord
	Name        string  `json:"name"`
	Description string  `json:"description"`
	BestFitness float64 `json:"best_fitness"`
}
