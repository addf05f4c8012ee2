package scoring

import (
	"context"

	"github.com/obakengshepherd/risksentinel/internal/models"
)

// SignalResult is the result shape of a Signal. Present is false when the
// signal is absent (the ML Adapter when disabled or unavailable).
type SignalResult struct {
	Score   float64
	Present bool
	Detail  interface{}
}

// Signal is a scoring producer keyed on a transaction. Only MLAdapter
// implements it; rule evaluation, velocity and anomaly do not, and the
// orchestrator calls each of the four directly in evaluateSignals rather
// than through this interface.
type Signal interface {
	Name() string
	Compute(ctx context.Context, tx *models.Transaction) (SignalResult, error)
}
