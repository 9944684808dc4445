package io

import (
	"context"
	"fmt"
	"sync"
)

const (
	XORTruthTableSensorName     = "xor_truth_table"
	XORPredictionActuatorName   = "xor_prediction"
	MimicInputSensorName        = "mimic_input"
	MimicPredictionActuatorName = "mimic_prediction"
)

// SequenceSensor replays a fixed list of input frames, one per Read,
// wrapping around when the script is exhausted. Scripted evaluation
// scapes use it to feed one case per network cycle.
type SequenceSensor struct {
	mu     sync.Mutex
	name   string
	frames [][]float64
	next   int
}

func NewSequenceSensor(name string, frames [][]float64) *SequenceSensor {
	copied := make([][]float64, len(frames))
	for i, frame := range frames {
		copied[i] = append([]float64(nil), frame...)
	}
	return &SequenceSensor{name: name, frames: copied}
}

func (s *SequenceSensor) Name() string {
	return s.name
}

func (s *SequenceSensor) Read(_ context.Context) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, fmt.Errorf("sequence sensor %s has no frames", s.name)
	}
	frame := s.frames[s.next%len(s.frames)]
	s.next++
	return append([]float64(nil), frame...), nil
}

// Rewind restarts the script from the first frame.
func (s *SequenceSensor) Rewind() {
	s.mu.Lock()
	s.next = 0
	s.mu.Unlock()
}

// VectorSensor holds one programmable input vector. Until the first Set
// it reads as zeros of the configured width.
type VectorSensor struct {
	mu     sync.RWMutex
	name   string
	values []float64
}

func NewVectorSensor(name string, width int) *VectorSensor {
	return &VectorSensor{name: name, values: make([]float64, width)}
}

func (s *VectorSensor) Name() string {
	return s.name
}

func (s *VectorSensor) Read(_ context.Context) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.values...), nil
}

func (s *VectorSensor) Set(values []float64) {
	s.mu.Lock()
	s.values = append([]float64(nil), values...)
	s.mu.Unlock()
}

// CaptureActuator records every vector written to it. Scapes read the
// per-cycle predictions back through Last and History.
type CaptureActuator struct {
	mu      sync.RWMutex
	name    string
	last    []float64
	history [][]float64
}

func NewCaptureActuator(name string) *CaptureActuator {
	return &CaptureActuator{name: name}
}

func (a *CaptureActuator) Name() string {
	return a.name
}

func (a *CaptureActuator) Write(_ context.Context, values []float64) error {
	copied := append([]float64(nil), values...)
	a.mu.Lock()
	a.last = copied
	a.history = append(a.history, copied)
	a.mu.Unlock()
	return nil
}

func (a *CaptureActuator) Last() []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]float64(nil), a.last...)
}

func (a *CaptureActuator) History() [][]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	copied := make([][]float64, len(a.history))
	for i, frame := range a.history {
		copied[i] = append([]float64(nil), frame...)
	}
	return copied
}

// XORTruthTableFrames lists the four XOR cases in canonical order. The
// scripted sensor replays them one per cycle.
func XORTruthTableFrames() [][]float64 {
	return [][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
}

func init() {
	initializeDefaultComponents()
}

func initializeDefaultComponents() {
	err := RegisterSensorWithSpec(SensorSpec{
		Name:          XORTruthTableSensorName,
		Factory:       func() Sensor { return NewSequenceSensor(XORTruthTableSensorName, XORTruthTableFrames()) },
		SchemaVersion: SupportedSchemaVersion,
		CodecVersion:  SupportedCodecVersion,
		Compatible: func(scape string) error {
			if scape != "xor" {
				return fmt.Errorf("unsupported scape: %s", scape)
			}
			return nil
		},
	})
	if err != nil {
		panic(err)
	}
	err = RegisterSensorWithSpec(SensorSpec{
		Name:          MimicInputSensorName,
		Factory:       func() Sensor { return NewVectorSensor(MimicInputSensorName, 1) },
		SchemaVersion: SupportedSchemaVersion,
		CodecVersion:  SupportedCodecVersion,
		Compatible: func(scape string) error {
			if scape != "regression-mimic" {
				return fmt.Errorf("unsupported scape: %s", scape)
			}
			return nil
		},
	})
	if err != nil {
		panic(err)
	}

	err = RegisterActuatorWithSpec(ActuatorSpec{
		Name:          XORPredictionActuatorName,
		Factory:       func() Actuator { return NewCaptureActuator(XORPredictionActuatorName) },
		SchemaVersion: SupportedSchemaVersion,
		CodecVersion:  SupportedCodecVersion,
		Compatible: func(scape string) error {
			if scape != "xor" {
				return fmt.Errorf("unsupported scape: %s", scape)
			}
			return nil
		},
	})
	if err != nil {
		panic(err)
	}
	err = RegisterActuatorWithSpec(ActuatorSpec{
		Name:          MimicPredictionActuatorName,
		Factory:       func() Actuator { return NewCaptureActuator(MimicPredictionActuatorName) },
		SchemaVersion: SupportedSchemaVersion,
		CodecVersion:  SupportedCodecVersion,
		Compatible: func(scape string) error {
			if scape != "regression-mimic" {
				return fmt.Errorf("unsupported scape: %s", scape)
			}
			return nil
		},
	})
	if err != nil {
		panic(err)
	}
}
