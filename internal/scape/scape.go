package scape

import (
	"context"
	"fmt"

	"phylogen/internal/model"
	"phylogen/internal/scapeid"
)

type Fitness float64

type Trace map[string]any

// Scape scores one genotype. Evaluate builds a fresh network per call,
// so concurrent evaluations never share runtime state.
type Scape interface {
	Name() string
	Evaluate(ctx context.Context, g model.Genotype) (Fitness, Trace, error)
}

// ModeAwareScape optionally exposes evaluation mode routing for
// gt/validation/test flows.
type ModeAwareScape interface {
	Scape
	EvaluateMode(ctx context.Context, g model.Genotype, mode string) (Fitness, Trace, error)
}

func ByName(name string) (Scape, error) {
	switch scapeid.Normalize(name) {
	case "xor":
		return XORScape{}, nil
	case "regression-mimic":
		return RegressionMimicScape{}, nil
	default:
		return nil, fmt.Errorf("unknown scape: %s", name)
	}
}

func List() []string {
	return []string{"regression-mimic", "xor"}
}
