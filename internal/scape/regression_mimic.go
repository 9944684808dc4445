package scape

import (
	"context"
	"math"

	"phylogen/internal/model"
)

// RegressionMimicScape scores how closely the network reproduces
// y = sin(x) over a fixed symmetric sample grid. Fitness is 1 - mse
// clamped at zero, so it stays usable for fitness sharing.
type RegressionMimicScape struct{}

var regressionMimicInputs = []float64{-1.5, -1.0, -0.5, -0.25, 0.25, 0.5, 1.0, 1.5}

func (RegressionMimicScape) Name() string {
	return "regression-mimic"
}

func (RegressionMimicScape) Evaluate(ctx context.Context, g model.Genotype) (Fitness, Trace, error) {
	frames := make([][]float64, len(regressionMimicInputs))
	for i, x := range regressionMimicInputs {
		frames[i] = []float64{x}
	}
	history, err := runPredictions(ctx, g, "regression-mimic", frames, 1)
	if err != nil {
		return 0, nil, err
	}

	var sse float64
	predictions := make([]float64, len(regressionMimicInputs))
	for i, x := range regressionMimicInputs {
		predictions[i] = history[i][0]
		delta := predictions[i] - math.Sin(x)
		sse += delta * delta
	}

	mse := sse / float64(len(regressionMimicInputs))
	fitness := Fitness(1.0 - mse)
	if fitness < 0 {
		fitness = 0
	}
	return fitness, Trace{"mse": mse, "predictions": predictions}, nil
}
