package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
	"github.com/obakengshepherd/risksentinel/internal/scoring"
)

// seed inserts the default fraud rule set on first run and, with
// --dry-run, replays recent transactions against the active rules through
// the backtester before anything is changed live.
func main() {
	dryRun := flag.Bool("dry-run", false, "backtest the active rule set instead of seeding")
	sampleSize := flag.Int("sample-size", 1000, "max transactions to replay in --dry-run")
	lookbackDays := flag.Int("lookback-days", 30, "days of history to replay in --dry-run")
	flag.Parse()

	_ = godotenv.Load()
	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ruleRepo := repositories.NewFraudRuleRepository(db)

	ctx := context.Background()

	if *dryRun {
		txRepo := repositories.NewTransactionRepository(db)
		backtester := scoring.NewBacktester(txRepo, ruleRepo)

		result, err := backtester.Run(ctx, scoring.BacktestRequest{
			StartDate:  time.Now().AddDate(0, 0, -*lookbackDays),
			EndDate:    time.Now(),
			SampleSize: *sampleSize,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("backtest failed")
		}

		log.Info().
			Int("total_transactions", result.TotalTransactions).
			Int("processed", result.ProcessedCount).
			Float64("average_rule_score", result.AverageRuleScore).
			Interface("top_triggered_rules", result.TopTriggeredRules).
			Int64("processing_time_ms", result.ProcessingTimeMs).
			Msg("dry run complete, no rules were changed")
		return
	}

	seedDefaultRules(ctx, ruleRepo)
}

func seedDefaultRules(ctx context.Context, ruleRepo *repositories.FraudRuleRepository) {
	existing, _, err := ruleRepo.List(ctx, 1, 1, true)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to check existing rules")
	}
	if len(existing) > 0 {
		log.Info().Msg("fraud_rules table already populated, skipping seed")
		return
	}

	seeded := 0
	for _, rule := range defaultRules {
		if err := ruleRepo.Create(ctx, rule); err != nil {
			log.Error().Err(err).Str("rule_code", rule.Code).Msg("failed to seed rule")
			continue
		}
		seeded++
	}

	log.Info().Int("seeded", seeded).Msg("default fraud rules seeded")
}

// defaultRules mirrors the South African payment-ecosystem rule set the
// original implementation shipped, transcribed as-is into the condition
// tree shape internal/rules.Parse expects.
var defaultRules = []*models.FraudRule{
	{
		Code:        "RULE_HIGH_AMOUNT",
		Name:        "High-Value Transaction",
		Description: "Single transaction exceeds ZAR 50 000 - uncommon for retail.",
		Weight:      0.25,
		Condition: models.JSONB{
			"field":     "amount_zar",
			"operator":  "gt",
			"threshold": 50000,
		},
	},
	{
		Code:        "RULE_CRITICAL_AMOUNT",
		Name:        "Critical-Value Transaction",
		Description: "Single transaction exceeds ZAR 200 000.",
		Weight:      0.45,
		Condition: models.JSONB{
			"field":     "amount_zar",
			"operator":  "gt",
			"threshold": 200000,
		},
	},
	{
		Code:        "RULE_SUSPICIOUS_MERCHANT",
		Name:        "Suspicious Merchant Category",
		Description: "Transaction to a high-risk merchant category.",
		Weight:      0.20,
		Condition: models.JSONB{
			"field":    "merchant_category",
			"operator": "in",
			"list": []interface{}{
				"cryptocurrency_exchange",
				"online_gambling",
				"adult_entertainment",
				"prepaid_cards",
				"money_transfer_unlicensed",
			},
		},
	},
	{
		Code:        "RULE_API_NO_FINGERPRINT",
		Name:        "API Channel - No Device Fingerprint",
		Description: "API transaction submitted without a device fingerprint is suspicious.",
		Weight:      0.15,
		Condition: models.JSONB{
			"and": []interface{}{
				map[string]interface{}{"field": "channel", "operator": "eq", "target": "api"},
				map[string]interface{}{"field": "device_fingerprint", "operator": "eq", "target": ""},
			},
		},
	},
	{
		Code:        "RULE_FOREIGN_IP_FLAG",
		Name:        "Foreign IP Flag",
		Description: "IP address is flagged as non-South-African by upstream enrichment.",
		Weight:      0.18,
		Condition: models.JSONB{
			"field":    "metadata.ip_country_flagged",
			"operator": "eq",
			"target":   "true",
		},
	},
	{
		Code:        "RULE_REPEAT_RECEIVER",
		Name:        "Repeat Receiver (metadata flag)",
		Description: "Upstream enrichment flagged this sender-receiver pair as repeated.",
		Weight:      0.15,
		Condition: models.JSONB{
			"field":    "metadata.repeat_receiver",
			"operator": "eq",
			"target":   "true",
		},
	},
	{
		Code:        "RULE_ZERO_AMOUNT",
		Name:        "Zero-Amount Probe",
		Description: "Transactions with ZAR 0.00 are often card-validation probes.",
		Weight:      0.30,
		Condition: models.JSONB{
			"field":     "amount_zar",
			"operator":  "lte",
			"threshold": 0,
		},
	},
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
