package morphology

import (
	"fmt"
	"math/rand"

	"phylogen/internal/genotype"
	phyio "phylogen/internal/io"
	"phylogen/internal/model"
	"phylogen/internal/scapeid"
)

// Morphology defines the sensor/actuator descriptor set a scape's
// agents are grown from.
type Morphology interface {
	Name() string
	Sensors() []model.SensorGene
	Actuators() []model.ActuatorGene
	Compatible(scape string) bool
}

func ForScape(scapeName string) (Morphology, bool) {
	switch scapeid.Normalize(scapeName) {
	case "xor":
		return XORMorphology{}, true
	case "regression-mimic":
		return RegressionMimicMorphology{}, true
	default:
		return nil, false
	}
}

// SeedPopulation grows count minimal genotypes from the morphology's
// descriptors, ids g0-0 through g0-(count-1).
func SeedPopulation(m Morphology, count int, activation string, rng *rand.Rand) ([]model.Genotype, error) {
	if m == nil {
		return nil, fmt.Errorf("morphology is required")
	}
	if count <= 0 {
		return nil, fmt.Errorf("seed count must be > 0, got %d", count)
	}
	genotypes := make([]model.Genotype, 0, count)
	for i := 0; i < count; i++ {
		g, err := genotype.ConstructSeed(fmt.Sprintf("g0-%d", i), m.Sensors(), m.Actuators(), activation, rng)
		if err != nil {
			return nil, fmt.Errorf("seed %d from %s: %w", i, m.Name(), err)
		}
		genotypes = append(genotypes, g)
	}
	return genotypes, nil
}

// EnsureScapeCompatibility confirms the scape's default morphology can
// resolve all of its components against the io registries.
func EnsureScapeCompatibility(scapeName string) error {
	scapeName = scapeid.Normalize(scapeName)
	m, ok := ForScape(scapeName)
	if !ok {
		return nil
	}
	return ValidateRegisteredComponents(scapeName, m)
}

func EnsureGenotypeIOCompatibility(scapeName string, g model.Genotype) error {
	scapeName = scapeid.Normalize(scapeName)
	for _, sensor := range g.Sensors {
		if _, err := phyio.ResolveSensor(sensor.Signal, scapeName); err != nil {
			return fmt.Errorf("genotype %s sensor %s incompatible with scape %s: %w", g.ID, sensor.Signal, scapeName, err)
		}
	}
	for _, actuator := range g.Actuators {
		if _, err := phyio.ResolveActuator(actuator.Consumer, scapeName); err != nil {
			return fmt.Errorf("genotype %s actuator %s incompatible with scape %s: %w", g.ID, actuator.Consumer, scapeName, err)
		}
	}
	return nil
}

func EnsurePopulationIOCompatibility(scapeName string, genotypes []model.Genotype) error {
	for _, g := range genotypes {
		if err := EnsureGenotypeIOCompatibility(scapeName, g); err != nil {
			return err
		}
	}
	return nil
}

func ValidateRegisteredComponents(scapeName string, m Morphology) error {
	if !m.Compatible(scapeName) {
		return fmt.Errorf("morphology %s incompatible with scape %s", m.Name(), scapeName)
	}
	for _, sensor := range m.Sensors() {
		if _, err := phyio.ResolveSensor(sensor.Signal, scapeName); err != nil {
			return fmt.Errorf("resolve sensor %s: %w", sensor.Signal, err)
		}
	}
	for _, actuator := range m.Actuators() {
		if _, err := phyio.ResolveActuator(actuator.Consumer, scapeName); err != nil {
			return fmt.Errorf("resolve actuator %s: %w", actuator.Consumer, err)
		}
	}
	return nil
}
