package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/internal/apierror"
	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/queue"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
)

// DashboardService answers GET /dashboard/summary and GET
// /dashboard/risk-trend (§6), covering the two aggregates the REST surface
// exposes, keyed off alerts and risk_scores rather than accounts.
type DashboardService struct {
	txRepo        *repositories.TransactionRepository
	riskScoreRepo *repositories.RiskScoreRepository
	alertRepo     *repositories.AlertRepository
	cache         *queue.CacheClient
}

// NewDashboardService creates a new dashboard service.
func NewDashboardService(
	txRepo *repositories.TransactionRepository,
	riskScoreRepo *repositories.RiskScoreRepository,
	alertRepo *repositories.AlertRepository,
	cache *queue.CacheClient,
) *DashboardService {
	return &DashboardService{txRepo: txRepo, riskScoreRepo: riskScoreRepo, alertRepo: alertRepo, cache: cache}
}

const dashboardSummaryCacheKey = "dashboard:summary"

// Summary builds total txns, open/critical alert counts, average composite
// score, the top-5 riskiest transactions, severity distribution over open
// alerts, and the velocity-breach alert count in the last hour. Cached
// briefly since every field here is read-heavy and tolerant of a few
// seconds of staleness.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	if s.cache != nil {
		var cached models.DashboardSummary
		if err := s.cache.Get(ctx, dashboardSummaryCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	_, total, err := s.txRepo.List(ctx, 1, 1, "", "")
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to count transactions", err)
	}

	openAlerts, err := s.alertRepo.CountOpen(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to count open alerts", err)
	}

	criticalAlerts, err := s.alertRepo.CountCritical(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to count critical alerts", err)
	}

	avgScore, err := s.riskScoreRepo.AvgCompositeScore(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to compute average composite score", err)
	}

	topRiskiest, err := s.riskScoreRepo.TopRiskiest(ctx, 5)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to load top riskiest transactions", err)
	}

	severityDist, err := s.alertRepo.SeverityDistribution(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to compute severity distribution", err)
	}

	velocityBreaches, err := s.alertRepo.CountVelocityBreachLastHour(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to count velocity breach alerts", err)
	}

	summary := &models.DashboardSummary{
		TotalTransactions:    total,
		OpenAlerts:           openAlerts,
		CriticalAlerts:       criticalAlerts,
		AvgCompositeScore:    avgScore,
		TopRiskiest:          topRiskiest,
		SeverityDistribution: severityDist,
		VelocityBreachLastHr: velocityBreaches,
	}

	if s.cache != nil {
		if _, err := s.cache.SetNX(ctx, dashboardSummaryCacheKey, summary, 10*time.Second); err != nil {
			log.Warn().Err(err).Msg("dashboard: failed to cache summary")
		}
	}

	return summary, nil
}

// RiskTrend returns the last 24 hours bucketed by hour.
func (s *DashboardService) RiskTrend(ctx context.Context) ([]models.RiskTrendPoint, error) {
	points, err := s.riskScoreRepo.RiskTrend(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to compute risk trend", err)
	}
	return points, nil
}
