package morphology

import "phylogen/internal/model"

type XORMorphology struct{}

func (XORMorphology) Name() string {
	return "xor-v1"
}

func (XORMorphology) Sensors() []model.SensorGene {
	return []model.SensorGene{{ID: "xor_in", Signal: "xor_truth_table", VectorLength: 2}}
}

func (XORMorphology) Actuators() []model.ActuatorGene {
	return []model.ActuatorGene{{ID: "xor_out", Consumer: "xor_prediction", VectorLength: 1}}
}

func (XORMorphology) Compatible(scape string) bool {
	return scape == "xor"
}
