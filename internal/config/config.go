// Package config loads run settings from an INI file and fills in the
// defaults for everything the file leaves out. The CLI layers explicit
// flags on top of the loaded values; this package never reads flags.
package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"phylogen/internal/model"
)

// Config mirrors the INI sections. A zero Config is not usable; start
// from Default and overlay a file with Load.
type Config struct {
	Run       RunConfig
	Evolution EvolutionConfig
	Tuning    TuningConfig
	Storage   StorageConfig
}

type RunConfig struct {
	Scape       string  `ini:"scape"`
	Generations int     `ini:"generations"`
	FitnessGoal float64 `ini:"fitness_goal"`
	Seed        int64   `ini:"seed"`
	Workers     int     `ini:"workers"`
	Activation  string  `ini:"activation"`
	LogLevel    string  `ini:"log_level"`
}

type EvolutionConfig struct {
	PopulationSize         int     `ini:"population_size"`
	CompatibilityThreshold float64 `ini:"compatibility_threshold"`
	CompatExcessCoeff      float64 `ini:"compat_excess_coeff"`
	CompatDisjointCoeff    float64 `ini:"compat_disjoint_coeff"`
	CompatWeightCoeff      float64 `ini:"compat_weight_coeff"`
	CompatNormalizeFloor   int     `ini:"compat_normalize_floor"`
	WeightMutationRate     float64 `ini:"weight_mutation_rate"`
	WeightReplaceRate      float64 `ini:"weight_replace_rate"`
	WeightPerturbScale     float64 `ini:"weight_perturb_scale"`
	AddNodeRate            float64 `ini:"add_node_rate"`
	AddConnectionRate      float64 `ini:"add_connection_rate"`
	ToggleConnectionRate   float64 `ini:"toggle_connection_rate"`
	CrossoverRate          float64 `ini:"crossover_rate"`
	TournamentSize         int     `ini:"tournament_size"`
	EliteMinSpeciesSize    int     `ini:"elite_min_species_size"`
	StagnationWindow       int     `ini:"stagnation_window"`
}

type TuningConfig struct {
	Attempts          int     `ini:"attempts"`
	Policy            string  `ini:"policy"`
	PolicyParam       float64 `ini:"policy_param"`
	StepSize          float64 `ini:"step_size"`
	PerturbationRange float64 `ini:"perturbation_range"`
	AnnealingFactor   float64 `ini:"annealing_factor"`
	MinImprovement    float64 `ini:"min_improvement"`
}

type StorageConfig struct {
	Backend       string `ini:"backend"`
	SQLitePath    string `ini:"sqlite_path"`
	BenchmarksDir string `ini:"benchmarks_dir"`
}

// Default returns the settings a run uses when no file and no flags
// say otherwise. Seed 0 means derive one from the clock at start.
func Default() Config {
	return Config{
		Run: RunConfig{
			Scape:       "xor",
			Generations: 50,
			Seed:        0,
			Workers:     0,
			Activation:  "tanh",
			LogLevel:    "info",
		},
		Evolution: EvolutionConfig{
			PopulationSize:         50,
			CompatibilityThreshold: 3.0,
			CompatExcessCoeff:      1.0,
			CompatDisjointCoeff:    1.0,
			CompatWeightCoeff:      0.4,
			CompatNormalizeFloor:   20,
			WeightMutationRate:     0.8,
			WeightReplaceRate:      0.1,
			WeightPerturbScale:     0.1,
			AddNodeRate:            0.03,
			AddConnectionRate:      0.05,
			ToggleConnectionRate:   0.01,
			CrossoverRate:          0.75,
			TournamentSize:         3,
			EliteMinSpeciesSize:    5,
			StagnationWindow:       15,
		},
		Tuning: TuningConfig{
			Attempts:          0,
			Policy:            "fixed",
			StepSize:          0.5,
			PerturbationRange: 1.0,
			AnnealingFactor:   1.0,
			MinImprovement:    0.0,
		},
		Storage: StorageConfig{
			Backend:       "memory",
			BenchmarksDir: "benchmarks",
		},
	}
}

// Load reads an INI file over the defaults. Missing sections and keys
// keep their default values; unknown keys are ignored.
func Load(path string) (Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, path)
	if err != nil {
		return Config{}, fmt.Errorf("load config file %q: %w", path, err)
	}

	cfg := Default()
	if err := file.Section("run").MapTo(&cfg.Run); err != nil {
		return Config{}, fmt.Errorf("map [run] section: %w", err)
	}
	if err := file.Section("evolution").MapTo(&cfg.Evolution); err != nil {
		return Config{}, fmt.Errorf("map [evolution] section: %w", err)
	}
	if err := file.Section("tuning").MapTo(&cfg.Tuning); err != nil {
		return Config{}, fmt.Errorf("map [tuning] section: %w", err)
	}
	if err := file.Section("storage").MapTo(&cfg.Storage); err != nil {
		return Config{}, fmt.Errorf("map [storage] section: %w", err)
	}

	cfg.Run.Scape = strings.TrimSpace(cfg.Run.Scape)
	cfg.Run.Activation = strings.TrimSpace(cfg.Run.Activation)
	cfg.Run.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Run.LogLevel))
	cfg.Tuning.Policy = strings.TrimSpace(cfg.Tuning.Policy)
	cfg.Storage.Backend = strings.TrimSpace(cfg.Storage.Backend)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges the reproduction and tuning code requires.
// The scape and activation names are resolved later against their
// registries; here they only need to be present.
func (c Config) Validate() error {
	if c.Run.Scape == "" {
		return fmt.Errorf("config error: scape must be specified")
	}
	if c.Run.Generations <= 0 {
		return fmt.Errorf("config error: generations must be positive")
	}
	if c.Run.Workers < 0 {
		return fmt.Errorf("config error: workers cannot be negative")
	}
	switch c.Run.LogLevel {
	case "", "debug", "info", "warning", "error":
	default:
		return fmt.Errorf("config error: unknown log_level %q", c.Run.LogLevel)
	}

	e := c.Evolution
	if e.PopulationSize <= 0 {
		return fmt.Errorf("config error: population_size must be positive")
	}
	if e.CompatibilityThreshold <= 0 {
		return fmt.Errorf("config error: compatibility_threshold must be positive")
	}
	if e.CompatExcessCoeff < 0 || e.CompatDisjointCoeff < 0 || e.CompatWeightCoeff < 0 {
		return fmt.Errorf("config error: compatibility coefficients cannot be negative")
	}
	if e.CompatNormalizeFloor < 1 {
		return fmt.Errorf("config error: compat_normalize_floor must be at least 1")
	}
	for name, rate := range map[string]float64{
		"weight_mutation_rate":   e.WeightMutationRate,
		"weight_replace_rate":    e.WeightReplaceRate,
		"add_node_rate":          e.AddNodeRate,
		"add_connection_rate":    e.AddConnectionRate,
		"toggle_connection_rate": e.ToggleConnectionRate,
		"crossover_rate":         e.CrossoverRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("config error: %s must be between 0 and 1", name)
		}
	}
	if e.WeightPerturbScale < 0 {
		return fmt.Errorf("config error: weight_perturb_scale cannot be negative")
	}
	if e.TournamentSize < 1 {
		return fmt.Errorf("config error: tournament_size must be at least 1")
	}
	if e.TournamentSize > e.PopulationSize {
		return fmt.Errorf("config error: tournament_size cannot exceed population_size")
	}
	if e.EliteMinSpeciesSize < 0 {
		return fmt.Errorf("config error: elite_min_species_size cannot be negative")
	}
	if e.StagnationWindow < 0 {
		return fmt.Errorf("config error: stagnation_window cannot be negative")
	}

	t := c.Tuning
	if t.Attempts < 0 {
		return fmt.Errorf("config error: tuning attempts cannot be negative")
	}
	switch t.Policy {
	case "", "fixed", "const", "linear_decay", "topology_scaled":
	default:
		return fmt.Errorf("config error: unknown tuning policy %q", t.Policy)
	}
	if t.Attempts > 0 {
		if t.StepSize <= 0 {
			return fmt.Errorf("config error: tuning step_size must be positive")
		}
		if t.PerturbationRange < 0 || t.AnnealingFactor < 0 || t.MinImprovement < 0 {
			return fmt.Errorf("config error: tuning ranges cannot be negative")
		}
	}

	switch c.Storage.Backend {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return fmt.Errorf("config error: sqlite backend requires sqlite_path")
		}
	default:
		return fmt.Errorf("config error: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// PopulationConfig converts the evolution section into the record the
// population snapshot carries.
func (c Config) PopulationConfig() model.PopulationConfig {
	e := c.Evolution
	return model.PopulationConfig{
		PopulationSize:         e.PopulationSize,
		CompatibilityThreshold: e.CompatibilityThreshold,
		CompatExcessCoeff:      e.CompatExcessCoeff,
		CompatDisjointCoeff:    e.CompatDisjointCoeff,
		CompatWeightCoeff:      e.CompatWeightCoeff,
		CompatNormalizeFloor:   e.CompatNormalizeFloor,
		WeightMutationRate:     e.WeightMutationRate,
		WeightReplaceRate:      e.WeightReplaceRate,
		WeightPerturbScale:     e.WeightPerturbScale,
		AddNodeRate:            e.AddNodeRate,
		AddConnectionRate:      e.AddConnectionRate,
		ToggleConnectionRate:   e.ToggleConnectionRate,
		CrossoverRate:          e.CrossoverRate,
		TournamentSize:         e.TournamentSize,
		EliteMinSpeciesSize:    e.EliteMinSpeciesSize,
		StagnationWindow:       e.StagnationWindow,
	}
}
