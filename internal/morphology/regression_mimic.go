package morphology

import "phylogen/internal/model"

type RegressionMimicMorphology struct{}

func (RegressionMimicMorphology) Name() string {
	return "regression-mimic-v1"
}

func (RegressionMimicMorphology) Sensors() []model.SensorGene {
	return []model.SensorGene{{ID: "mimic_in", Signal: "mimic_input", VectorLength: 1}}
}

func (RegressionMimicMorphology) Actuators() []model.ActuatorGene {
	return []model.ActuatorGene{{ID: "mimic_out", Consumer: "mimic_prediction", VectorLength: 1}}
}

func (RegressionMimicMorphology) Compatible(scape string) bool {
	return scape == "regression-mimic"
}
