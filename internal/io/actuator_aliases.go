package io

import "strings"

// Genotypes exported by the Erlang-era tooling carry actuator names in
// its camel-cased module:function style. They resolve to the canonical
// actuators so old record streams stay loadable.
const (
	XORSendOutputActuatorAliasName   = "xor_SendOutput"
	MimicSendOutputActuatorAliasName = "mimic_SendOutput"
)

var actuatorAliasToCanonical = map[string]string{
	strings.ToLower(XORSendOutputActuatorAliasName):   XORPredictionActuatorName,
	strings.ToLower(MimicSendOutputActuatorAliasName): MimicPredictionActuatorName,
}

func CanonicalActuatorName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	if canonical, ok := actuatorAliasToCanonical[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}
