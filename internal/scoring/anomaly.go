package scoring

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
)

// minAnomalySampleSize is the n>=3 guard below which a z-score is considered
// unreliable. This is a fixed invariant of the statistic itself, not an
// environment-tunable — unlike everything else in configs.AnomalyConfig.
const minAnomalySampleSize = 3

// AnomalyResult is the output of the Anomaly Calculator (§4.3).
type AnomalyResult struct {
	Score     float64 `json:"score"`
	ZScore    float64 `json:"z_score"`
	IsAnomaly bool    `json:"is_anomaly"`
	Reason    string  `json:"reason,omitempty"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	N         int     `json:"sample_size"`
}

// AnomalyCalculator flags a transaction amount that deviates sharply from a
// sender's own history, using the exact population z-score formula in
// §4.3.
type AnomalyCalculator struct {
	txRepo *repositories.TransactionRepository
	cfg    configs.AnomalyConfig
}

// NewAnomalyCalculator creates a new anomaly calculator.
func NewAnomalyCalculator(txRepo *repositories.TransactionRepository, cfg configs.AnomalyConfig) *AnomalyCalculator {
	return &AnomalyCalculator{txRepo: txRepo, cfg: cfg}
}

// Compute runs compute_anomaly(sender_id, current_amount, current_txn_id,
// lookback_days). Insufficient history (n<3), a degenerate distribution
// (std_dev=0), or a null mean all yield a zero score with insufficient
// history noted — never an error, since an unscoreable anomaly signal must
// not abort the rest of the pipeline.
func (c *AnomalyCalculator) Compute(ctx context.Context, senderID string, currentAmount float64, currentTxnID uuid.UUID) (AnomalyResult, error) {
	since := time.Now().UTC().AddDate(0, 0, -c.cfg.LookbackDays)

	dist, err := c.txRepo.AggregateAmountDistribution(ctx, senderID, since, currentTxnID)
	if err != nil {
		return AnomalyResult{}, err
	}

	if dist.N < minAnomalySampleSize || dist.StdDev == 0 {
		return AnomalyResult{
			Score:  0,
			Reason: "insufficient history",
			Mean:   dist.Mean,
			StdDev: dist.StdDev,
			N:      dist.N,
		}, nil
	}

	z := math.Abs(currentAmount-dist.Mean) / dist.StdDev
	score := round4(math.Min(z/c.cfg.ZScoreThreshold, 1.0))

	return AnomalyResult{
		Score:     score,
		ZScore:    z,
		IsAnomaly: z >= c.cfg.ZScoreThreshold,
		Mean:      dist.Mean,
		StdDev:    dist.StdDev,
		N:         dist.N,
	}, nil
}
