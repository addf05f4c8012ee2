package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
	"github.com/obakengshepherd/risksentinel/internal/rules"
)

// Backtester replays historical transactions through the current active
// rule set without touching the velocity/anomaly/ml signals or persisting
// anything, so an operator can preview the effect of a rule change before
// it goes live. Scoped to what cmd/seed --dry-run needs: a rule-only dry
// run, not a full re-score.
type Backtester struct {
	txRepo   *repositories.TransactionRepository
	ruleRepo *repositories.FraudRuleRepository
}

// NewBacktester creates a new backtester.
func NewBacktester(txRepo *repositories.TransactionRepository, ruleRepo *repositories.FraudRuleRepository) *Backtester {
	return &Backtester{txRepo: txRepo, ruleRepo: ruleRepo}
}

// BacktestRequest scopes a backtest run.
type BacktestRequest struct {
	SenderID   string
	StartDate  time.Time
	EndDate    time.Time
	SampleSize int
}

// BacktestResult summarizes a backtest run.
type BacktestResult struct {
	TotalTransactions int                `json:"total_transactions"`
	ProcessedCount    int                `json:"processed_count"`
	FailedCount       int                `json:"failed_count"`
	AverageRuleScore  float64            `json:"average_rule_score"`
	TopTriggeredRules []models.RuleCount `json:"top_triggered_rules"`
	ProcessingTimeMs  int64              `json:"processing_time_ms"`
}

// Run executes the backtest.
func (b *Backtester) Run(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	start := time.Now()

	limit := req.SampleSize
	if limit <= 0 {
		limit = 1000
	}

	transactions, err := b.txRepo.GetInRange(ctx, req.StartDate, req.EndDate, req.SenderID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}

	activeRules, err := b.ruleRepo.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}

	ruleViews := make([]rules.RuleView, 0, len(activeRules))
	for _, r := range activeRules {
		node, perr := rules.Parse(r.Condition)
		if perr != nil {
			log.Warn().Err(perr).Str("rule_code", r.Code).Msg("backtest: malformed condition, rule skipped")
			continue
		}
		ruleViews = append(ruleViews, rules.RuleView{Code: r.Code, Name: r.Name, Weight: r.Weight, Condition: node})
	}

	result := &BacktestResult{TotalTransactions: len(transactions)}
	ruleTriggers := make(map[string]int)
	var totalScore float64

	for _, tx := range transactions {
		score, triggered, _ := rules.Evaluate(tx, ruleViews)
		result.ProcessedCount++
		totalScore += score
		for _, code := range triggered {
			ruleTriggers[code]++
		}
	}

	if result.ProcessedCount > 0 {
		result.AverageRuleScore = totalScore / float64(result.ProcessedCount)
	}

	for code, count := range ruleTriggers {
		result.TopTriggeredRules = append(result.TopTriggeredRules, models.RuleCount{RuleCode: code, Count: count})
	}
	sortRuleCounts(result.TopTriggeredRules)
	if len(result.TopTriggeredRules) > 10 {
		result.TopTriggeredRules = result.TopTriggeredRules[:10]
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	log.Info().
		Int("total", result.TotalTransactions).
		Int("processed", result.ProcessedCount).
		Float64("avg_rule_score", result.AverageRuleScore).
		Int64("processing_ms", result.ProcessingTimeMs).
		Msg("backtest completed")

	return result, nil
}

// sortRuleCounts orders rule trigger counts descending with a plain
// bubble sort since the list is always capped at a handful of active
// rules.
func sortRuleCounts(counts []models.RuleCount) {
	for i := 0; i < len(counts)-1; i++ {
		for j := 0; j < len(counts)-i-1; j++ {
			if counts[j].Count < counts[j+1].Count {
				counts[j], counts[j+1] = counts[j+1], counts[j]
			}
		}
	}
}
