package scoring

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
)

// VelocityResult is the output of the Velocity Calculator (§4.2).
type VelocityResult struct {
	Score   float64 `json:"score"`
	Count   int     `json:"txn_count"`
	Sum     float64 `json:"total_amount_zar"`
	Breach  bool    `json:"breach"`
}

// VelocityCalculator computes how a sender's recent transaction rate and
// volume compare to configured limits, using the exact weighted ratio
// formula in §4.2.
type VelocityCalculator struct {
	txRepo *repositories.TransactionRepository
	cfg    configs.VelocityConfig
}

// NewVelocityCalculator creates a new velocity calculator.
func NewVelocityCalculator(txRepo *repositories.TransactionRepository, cfg configs.VelocityConfig) *VelocityCalculator {
	return &VelocityCalculator{txRepo: txRepo, cfg: cfg}
}

// Compute runs compute_velocity(sender_id, current_txn_id) over the
// trailing window. count_ratio and amount_ratio are each capped at 1 before
// blending, so a sender can never push the composite ratio past what a
// single dominant signal would produce.
func (c *VelocityCalculator) Compute(ctx context.Context, senderID string, currentTxnID uuid.UUID) (VelocityResult, error) {
	window := time.Duration(c.cfg.WindowSeconds) * time.Second
	since := time.Now().UTC().Add(-window)

	agg, err := c.txRepo.AggregateVelocity(ctx, senderID, since, currentTxnID)
	if err != nil {
		return VelocityResult{}, err
	}

	countRatio := math.Min(float64(agg.Count)/float64(c.cfg.MaxTxnCount), 1.0)
	amountRatio := math.Min(agg.Sum/c.cfg.MaxTotalZAR, 1.0)

	score := round4(0.4*countRatio + 0.6*amountRatio)

	return VelocityResult{
		Score:  score,
		Count:  agg.Count,
		Sum:    agg.Sum,
		Breach: score >= 1.0,
	}, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
