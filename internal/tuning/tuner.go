package tuning

import (
	"context"

	"phylogen/internal/model"
)

type FitnessFn func(ctx context.Context, g model.Genotype) (float64, error)

type TuneReport struct {
	AttemptsPlanned      int  `json:"attempts_planned"`
	AttemptsExecuted     int  `json:"attempts_executed"`
	CandidateEvaluations int  `json:"candidate_evaluations"`
	AcceptedCandidates   int  `json:"accepted_candidates"`
	RejectedCandidates   int  `json:"rejected_candidates"`
	GoalReached          bool `json:"goal_reached"`
}

type Tuner interface {
	Name() string
	Tune(ctx context.Context, g model.Genotype, attempts int, fitness FitnessFn) (model.Genotype, error)
}

// ReportingTuner is implemented by tuners that can account for their
// candidate traffic; the orchestrator logs the report per evaluation.
type ReportingTuner interface {
	Tuner
	TuneWithReport(ctx context.Context, g model.Genotype, attempts int, fitness FitnessFn) (model.Genotype, TuneReport, error)
}
