package evo

import (
	"context"
	"errors"

	"phylogen/internal/model"
)

// Operator is a unary genetic operator. Apply never mutates its input;
// it returns a fresh genotype or an error explaining why no mutation
// was possible.
type Operator interface {
	Name() string
	Apply(ctx context.Context, g model.Genotype) (model.Genotype, error)
}

var (
	ErrNoMutationChoice = errors.New("no mutation choice available")
	ErrNoConnections    = errors.New("genotype has no connections")
	ErrNoParents        = errors.New("two parents are required")
)
