package scoring

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
	"github.com/obakengshepherd/risksentinel/internal/rules"
)

// Orchestrator runs the Scoring Orchestrator (§4.5): it loads active
// rules, evaluates every signal, blends them into a composite score,
// classifies risk, and persists the RiskScore/Alert/AuditLog writes within
// the caller's single transactional unit, using the exact blend weights,
// thresholds, and tie-break rule in §4.5.
type Orchestrator struct {
	ruleRepo      *repositories.FraudRuleRepository
	riskScoreRepo *repositories.RiskScoreRepository
	alertRepo     *repositories.AlertRepository
	auditRepo     *repositories.AuditRepository
	velocity      *VelocityCalculator
	anomaly       *AnomalyCalculator
	ml            *MLAdapter
	cfg           configs.RiskConfig
}

// NewOrchestrator creates a new scoring orchestrator.
func NewOrchestrator(
	ruleRepo *repositories.FraudRuleRepository,
	riskScoreRepo *repositories.RiskScoreRepository,
	alertRepo *repositories.AlertRepository,
	auditRepo *repositories.AuditRepository,
	velocity *VelocityCalculator,
	anomaly *AnomalyCalculator,
	ml *MLAdapter,
	cfg configs.RiskConfig,
) *Orchestrator {
	return &Orchestrator{
		ruleRepo:      ruleRepo,
		riskScoreRepo: riskScoreRepo,
		alertRepo:     alertRepo,
		auditRepo:     auditRepo,
		velocity:      velocity,
		anomaly:       anomaly,
		ml:            ml,
		cfg:           cfg,
	}
}

// Outcome is everything the caller needs to publish fan-out events after
// the transaction commits.
type Outcome struct {
	RiskScore *models.RiskScore
	Alert     *models.Alert
}

// signals is the raw output of step 2 before blending.
type signals struct {
	ruleScore      float64
	triggered      []string
	explanation    models.JSONB
	velocity       VelocityResult
	anomaly        AnomalyResult
	mlScore        *float64
	err            error
}

// Score runs the full pipeline against an already-staged transaction
// (txn.ID must be set) and writes RiskScore, Transaction.status=flagged
// and an Alert when the composite score classifies HIGH or CRITICAL, and
// an AuditLog for every scored transaction, all through q so they share
// the caller's transactional unit (§4.7). Any error here is a scoring failure: the
// caller must roll back, mark the transaction declined on its own
// connection, and commit that separately.
func (o *Orchestrator) Score(ctx context.Context, q repositories.Querier, txRepo *repositories.TransactionRepository, txn *models.Transaction) (*Outcome, error) {
	activeRules, err := o.ruleRepo.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}
	ruleViews := make([]rules.RuleView, 0, len(activeRules))
	for _, r := range activeRules {
		node, perr := rules.Parse(r.Condition)
		if perr != nil {
			log.Warn().Err(perr).Str("rule_code", r.Code).Msg("rules: malformed condition, rule skipped")
			continue
		}
		ruleViews = append(ruleViews, rules.RuleView{Code: r.Code, Name: r.Name, Weight: r.Weight, Condition: node})
	}

	sig := o.evaluateSignals(ctx, txRepo, txn, ruleViews)
	if sig.err != nil {
		return nil, fmt.Errorf("evaluate signals: %w", sig.err)
	}

	composite := blend(sig.ruleScore, sig.velocity.Score, sig.anomaly.Score, sig.mlScore)
	level := classify(composite, o.cfg)

	riskScore := &models.RiskScore{
		TransactionID:  txn.ID,
		CompositeScore: composite,
		RuleScore:      sig.ruleScore,
		VelocityScore:  sig.velocity.Score,
		AnomalyScore:   sig.anomaly.Score,
		MLScore:        sig.mlScore,
		RiskLevel:      level,
		TriggeredRules: sig.triggered,
		Explanation:    sig.explanation,
	}

	if err := o.riskScoreRepo.Create(ctx, q, riskScore); err != nil {
		return nil, fmt.Errorf("persist risk score: %w", err)
	}

	outcome := &Outcome{RiskScore: riskScore}

	if level == models.RiskLevelHigh || level == models.RiskLevelCritical {
		if err := txRepo.UpdateStatus(ctx, q, txn.ID, models.TransactionStatusFlagged); err != nil {
			return nil, fmt.Errorf("flag transaction: %w", err)
		}

		alert := buildAlert(txn, riskScore, sig)
		if err := o.alertRepo.Create(ctx, q, alert); err != nil {
			return nil, fmt.Errorf("persist alert: %w", err)
		}
		outcome.Alert = alert
	}

	auditLog := &models.AuditLog{
		TransactionID: &txn.ID,
		Actor:         "system",
		Action:        models.AuditActionTransactionScored,
		Details: models.JSONB{
			"composite_score": composite,
			"risk_level":      level,
			"triggered_rules": sig.triggered,
		},
	}
	if err := o.auditRepo.Create(ctx, q, auditLog); err != nil {
		return nil, fmt.Errorf("persist audit log: %w", err)
	}

	return outcome, nil
}

// evaluateSignals dispatches rule evaluation, velocity, and anomaly
// concurrently over a WaitGroup, then runs the ML adapter last since it may
// legitimately be absent.
func (o *Orchestrator) evaluateSignals(ctx context.Context, txRepo *repositories.TransactionRepository, txn *models.Transaction, activeRules []rules.RuleView) signals {
	var (
		wg       sync.WaitGroup
		velRes   VelocityResult
		velErr   error
		anomRes  AnomalyResult
		anomErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		velRes, velErr = o.velocity.Compute(ctx, txn.SenderID, txn.ID)
	}()
	go func() {
		defer wg.Done()
		anomRes, anomErr = o.anomaly.Compute(ctx, txn.SenderID, txn.AmountZAR, txn.ID)
	}()

	ruleScore, triggered, explanation := rules.Evaluate(txn, activeRules)

	wg.Wait()

	if velErr != nil {
		return signals{err: fmt.Errorf("velocity: %w", velErr)}
	}
	if anomErr != nil {
		return signals{err: fmt.Errorf("anomaly: %w", anomErr)}
	}

	var mlScore *float64
	mlResult, mlErr := o.ml.Compute(ctx, txn)
	if mlErr != nil {
		log.Warn().Err(mlErr).Msg("ml: signal failed, scoring without ml")
	} else if mlResult.Present {
		s := mlResult.Score
		mlScore = &s
	}

	return signals{
		ruleScore:   ruleScore,
		triggered:   triggered,
		explanation: explanation,
		velocity:    velRes,
		anomaly:     anomRes,
		mlScore:     mlScore,
	}
}

// blend implements §4.5 step 3's composite formula, capped at 1.0 and
// rounded to 4 decimals.
func blend(ruleScore, velocityScore, anomalyScore float64, mlScore *float64) float64 {
	var composite float64
	if mlScore != nil {
		composite = 0.30*ruleScore + 0.22*velocityScore + 0.23*anomalyScore + 0.25*(*mlScore)
	} else {
		composite = 0.35*ruleScore + 0.33*velocityScore + 0.32*anomalyScore
	}
	if composite > 1.0 {
		composite = 1.0
	}
	return round4(composite)
}

// classify implements §4.5 step 4's inclusive-lower-bound thresholds.
func classify(composite float64, cfg configs.RiskConfig) string {
	switch {
	case composite >= cfg.CriticalThreshold:
		return models.RiskLevelCritical
	case composite >= cfg.HighThreshold:
		return models.RiskLevelHigh
	case composite >= 0.4:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// buildAlert picks the alert type per §4.5 step 6's fixed priority —
// FRAUD_SUSPECTED (rule_score>0.5) beats VELOCITY_BREACH (velocity_score
// >=1.0) beats ANOMALY_DETECTED, with FRAUD_SUSPECTED pinned as the
// tie-break winner when both of the first two are true.
func buildAlert(txn *models.Transaction, score *models.RiskScore, sig signals) *models.Alert {
	triggeredCodes := "none"
	if len(score.TriggeredRules) > 0 {
		triggeredCodes = strings.Join(score.TriggeredRules, ", ")
	}

	var alertType, reason string
	switch {
	case sig.ruleScore > 0.5:
		alertType = models.AlertTypeFraudSuspected
		reason = "rule engine flagged this transaction as likely fraud"
	case sig.velocity.Breach:
		alertType = models.AlertTypeVelocityBreach
		reason = "sender exceeded the velocity threshold"
	default:
		alertType = models.AlertTypeAnomalyDetected
		reason = "transaction amount deviates sharply from sender history"
	}

	message := fmt.Sprintf(
		"%s (composite=%.4f, level=%s, triggered_rules=[%s])",
		reason, score.CompositeScore, score.RiskLevel, triggeredCodes,
	)

	return &models.Alert{
		TransactionID: txn.ID,
		Severity:      score.RiskLevel,
		AlertType:     alertType,
		Message:       message,
		Status:        models.AlertStatusOpen,
	}
}
