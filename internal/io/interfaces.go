package io

import "context"

// Sensor produces one input vector per network cycle. Read is called
// exactly once per cycle by the sensor actor that owns the instance.
type Sensor interface {
	Name() string
	Read(ctx context.Context) ([]float64, error)
}

// VectorSensorSetter is an optional sensor capability used by scapes
// that program the next input vector between cycles.
type VectorSensorSetter interface {
	Set(values []float64)
}

// Actuator consumes one assembled output vector per network cycle.
type Actuator interface {
	Name() string
	Write(ctx context.Context, values []float64) error
}

// SnapshotActuator is an optional actuator capability used by scapes
// that inspect the most recent actuator output.
type SnapshotActuator interface {
	Last() []float64
}
