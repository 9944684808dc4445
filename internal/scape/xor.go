package scape

import (
	"context"
	"fmt"
	"strings"

	phyio "phylogen/internal/io"
	"phylogen/internal/model"
)

type XORScape struct{}

func (XORScape) Name() string {
	return "xor"
}

func (XORScape) Evaluate(ctx context.Context, g model.Genotype) (Fitness, Trace, error) {
	return XORScape{}.EvaluateMode(ctx, g, "gt")
}

func (XORScape) EvaluateMode(ctx context.Context, g model.Genotype, mode string) (Fitness, Trace, error) {
	cfg, err := xorConfigForMode(mode)
	if err != nil {
		return 0, nil, err
	}

	frames := make([][]float64, len(cfg.cases))
	for i, c := range cfg.cases {
		frames[i] = c.in
	}
	history, err := runPredictions(ctx, g, "xor", frames, 1)
	if err != nil {
		return 0, nil, err
	}

	var sse float64
	predictions := make([]float64, len(cfg.cases))
	for i, c := range cfg.cases {
		predictions[i] = history[i][0]
		delta := predictions[i] - c.want
		sse += delta * delta
	}

	mse := sse / float64(len(cfg.cases))
	fitness := Fitness(1.0 / (sse + 0.000001))
	return fitness, Trace{
		"mse":         mse,
		"sse":         sse,
		"predictions": predictions,
		"mode":        cfg.mode,
		"cases":       len(cfg.cases),
	}, nil
}

type xorCase struct {
	in   []float64
	want float64
}

type xorModeConfig struct {
	mode  string
	cases []xorCase
}

func xorConfigForMode(mode string) (xorModeConfig, error) {
	truth := phyio.XORTruthTableFrames()
	base := []xorCase{
		{in: truth[0], want: 0},
		{in: truth[1], want: 1},
		{in: truth[2], want: 1},
		{in: truth[3], want: 0},
	}

	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", "gt":
		return xorModeConfig{mode: "gt", cases: base}, nil
	case "validation":
		return xorModeConfig{
			mode:  "validation",
			cases: []xorCase{base[1], base[2], base[0], base[3], base[1], base[2]},
		}, nil
	case "test", "benchmark":
		return xorModeConfig{
			mode:  strings.TrimSpace(strings.ToLower(mode)),
			cases: []xorCase{base[3], base[2], base[1], base[0], base[3], base[0], base[2], base[1]},
		}, nil
	default:
		return xorModeConfig{}, fmt.Errorf("unsupported xor mode: %s", mode)
	}
}
