package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/obakengshepherd/risksentinel/internal/models"
)

var ErrRiskScoreNotFound = errors.New("risk score not found")

// RiskScoreRepository handles risk score database operations.
type RiskScoreRepository struct {
	db *Database
}

// NewRiskScoreRepository creates a new risk score repository.
func NewRiskScoreRepository(db *Database) *RiskScoreRepository {
	return &RiskScoreRepository{db: db}
}

// Create inserts the RiskScore row — step 5 of the Scoring Orchestrator
// (§4.5), run against the caller's transaction so it shares the single
// transactional unit with the Transaction and Alert writes.
func (r *RiskScoreRepository) Create(ctx context.Context, q Querier, score *models.RiskScore) error {
	query := `
		INSERT INTO risk_scores (
			id, transaction_id, composite_score, rule_score, velocity_score,
			anomaly_score, ml_score, risk_level, triggered_rules, explanation, scored_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`

	score.ID = uuid.New()
	score.ScoredAt = time.Now().UTC()
	explanationBytes, _ := score.Explanation.Value()

	_, err := q.Exec(ctx, query,
		score.ID, score.TransactionID, score.CompositeScore, score.RuleScore, score.VelocityScore,
		score.AnomalyScore, score.MLScore, score.RiskLevel, pq.Array(score.TriggeredRules),
		explanationBytes, score.ScoredAt,
	)
	return err
}

const selectRiskScoreColumns = `
	id, transaction_id, composite_score, rule_score, velocity_score,
	anomaly_score, ml_score, risk_level, triggered_rules, explanation, scored_at
`

// GetByTransactionID retrieves the (exactly-one) risk score for a transaction.
func (r *RiskScoreRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.RiskScore, error) {
	query := `SELECT ` + selectRiskScoreColumns + ` FROM risk_scores WHERE transaction_id = $1`

	score := &models.RiskScore{}
	var triggeredRules []string
	var explanationBytes []byte

	err := r.db.Pool.QueryRow(ctx, query, transactionID).Scan(
		&score.ID, &score.TransactionID, &score.CompositeScore, &score.RuleScore, &score.VelocityScore,
		&score.AnomalyScore, &score.MLScore, &score.RiskLevel, &triggeredRules, &explanationBytes, &score.ScoredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRiskScoreNotFound
		}
		return nil, err
	}

	score.TriggeredRules = triggeredRules
	score.Explanation.Scan(explanationBytes)
	return score, nil
}

// AvgCompositeScore is the avg_composite_score field of GET /dashboard/summary.
func (r *RiskScoreRepository) AvgCompositeScore(ctx context.Context) (float64, error) {
	var avg float64
	err := r.db.Pool.QueryRow(ctx, `SELECT COALESCE(AVG(composite_score), 0) FROM risk_scores`).Scan(&avg)
	return avg, err
}

// TopRiskiest returns the top-N transactions by composite score descending,
// for GET /dashboard/summary's top_riskiest field.
func (r *RiskScoreRepository) TopRiskiest(ctx context.Context, limit int) ([]models.RiskiestTransaction, error) {
	query := `
		SELECT transaction_id, composite_score, risk_level
		FROM risk_scores
		ORDER BY composite_score DESC, scored_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RiskiestTransaction
	for rows.Next() {
		var row models.RiskiestTransaction
		if err := rows.Scan(&row.TransactionID, &row.CompositeScore, &row.RiskLevel); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// RiskTrend buckets the last 24 hours of risk scores by hour, for
// GET /dashboard/risk-trend.
func (r *RiskScoreRepository) RiskTrend(ctx context.Context) ([]models.RiskTrendPoint, error) {
	query := `
		SELECT date_trunc('hour', scored_at) AS hour, AVG(composite_score), COUNT(*)
		FROM risk_scores
		WHERE scored_at >= NOW() - INTERVAL '24 hours'
		GROUP BY hour
		ORDER BY hour
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RiskTrendPoint
	for rows.Next() {
		var p models.RiskTrendPoint
		if err := rows.Scan(&p.Hour, &p.AvgScore, &p.TxnCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
