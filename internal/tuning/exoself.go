package tuning

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"phylogen/internal/genotype"
	"phylogen/internal/model"
)

// WeightSaturation is the default bound tuned weights are clamped to.
const WeightSaturation = 2 * math.Pi

// Exoself is a stochastic hill-climber over the weights of a fixed
// topology. Each attempt perturbs a random subset of the enabled
// connection genes of the best genotype so far (every gene with
// probability 1/sqrt(n), at least one) and keeps the candidate only
// when it improves fitness by more than MinImprovement. The spread
// shrinks by AnnealingFactor per attempt, and weights saturate at
// WeightLimit.
type Exoself struct {
	Rand              *rand.Rand
	StepSize          float64
	PerturbationRange float64
	AnnealingFactor   float64
	MinImprovement    float64
	GoalFitness       float64
	WeightLimit       float64
}

func (e *Exoself) Name() string {
	return "exoself"
}

func (e *Exoself) Tune(ctx context.Context, g model.Genotype, attempts int, fitness FitnessFn) (model.Genotype, error) {
	tuned, _, err := e.TuneWithReport(ctx, g, attempts, fitness)
	return tuned, err
}

func (e *Exoself) TuneWithReport(ctx context.Context, g model.Genotype, attempts int, fitness FitnessFn) (model.Genotype, TuneReport, error) {
	report := TuneReport{AttemptsPlanned: attempts}
	if err := ctx.Err(); err != nil {
		return model.Genotype{}, report, err
	}
	if e == nil || e.Rand == nil {
		return model.Genotype{}, report, errors.New("random source is required")
	}
	if attempts <= 0 {
		return genotype.Clone(g), report, nil
	}
	if e.StepSize <= 0 {
		return model.Genotype{}, report, errors.New("step size must be > 0")
	}
	if e.PerturbationRange < 0 {
		return model.Genotype{}, report, errors.New("perturbation range must be >= 0")
	}
	if e.AnnealingFactor < 0 {
		return model.Genotype{}, report, errors.New("annealing factor must be >= 0")
	}
	if e.MinImprovement < 0 {
		return model.Genotype{}, report, errors.New("min improvement must be >= 0")
	}
	if fitness == nil {
		return model.Genotype{}, report, errors.New("fitness function is required")
	}

	tunable := make([]int, 0, len(g.Connections))
	for i, conn := range g.Connections {
		if conn.Enabled {
			tunable = append(tunable, i)
		}
	}
	if len(tunable) == 0 {
		return genotype.Clone(g), report, nil
	}

	spreadBase := e.StepSize
	if e.PerturbationRange > 0 {
		spreadBase *= e.PerturbationRange
	}
	annealing := e.AnnealingFactor
	if annealing == 0 {
		annealing = 1
	}
	limit := e.WeightLimit
	if limit <= 0 {
		limit = WeightSaturation
	}
	probability := 1 / math.Sqrt(float64(len(tunable)))

	best := genotype.Clone(g)
	bestFitness, err := fitness(ctx, best)
	if err != nil {
		return model.Genotype{}, report, err
	}
	report.CandidateEvaluations++
	if e.GoalFitness > 0 && bestFitness >= e.GoalFitness {
		report.GoalReached = true
		best.Fitness = bestFitness
		return best, report, nil
	}

	for a := 0; a < attempts; a++ {
		if err := ctx.Err(); err != nil {
			return model.Genotype{}, report, err
		}
		report.AttemptsExecuted++

		spread := spreadBase * math.Pow(annealing, float64(a))
		candidate := e.perturb(best, tunable, probability, spread, limit)
		candidateFitness, err := fitness(ctx, candidate)
		if err != nil {
			return model.Genotype{}, report, err
		}
		report.CandidateEvaluations++

		if candidateFitness > bestFitness+e.MinImprovement {
			best = candidate
			bestFitness = candidateFitness
			report.AcceptedCandidates++
		} else {
			report.RejectedCandidates++
		}
		if e.GoalFitness > 0 && bestFitness >= e.GoalFitness {
			report.GoalReached = true
			break
		}
	}

	best.Fitness = bestFitness
	return best, report, nil
}

func (e *Exoself) perturb(base model.Genotype, tunable []int, probability, spread, limit float64) model.Genotype {
	candidate := genotype.Clone(base)
	touched := false
	for _, idx := range tunable {
		if e.Rand.Float64() >= probability {
			continue
		}
		e.nudge(&candidate.Connections[idx].Weight, spread, limit)
		touched = true
	}
	if !touched {
		idx := tunable[e.Rand.Intn(len(tunable))]
		e.nudge(&candidate.Connections[idx].Weight, spread, limit)
	}
	return candidate
}

func (e *Exoself) nudge(weight *float64, spread, limit float64) {
	*weight += (e.Rand.Float64()*2 - 1) * spread
	if *weight > limit {
		*weight = limit
	}
	if *weight < -limit {
		*weight = -limit
	}
}
