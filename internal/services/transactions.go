package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/obakengshepherd/risksentinel/internal/apierror"
	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/queue"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
	"github.com/obakengshepherd/risksentinel/internal/scoring"
)

// TransactionCreate is the POST /transactions request body.
type TransactionCreate struct {
	ExternalID        string                 `json:"external_id,omitempty"`
	SenderID          string                 `json:"sender_id" binding:"required"`
	ReceiverID        string                 `json:"receiver_id" binding:"required"`
	AmountZAR         float64                `json:"amount_zar" binding:"required,gt=0"`
	Currency          string                 `json:"currency"`
	Channel           string                 `json:"channel" binding:"required,oneof=api mobile_banking pos ussd"`
	MerchantCategory  string                 `json:"merchant_category,omitempty"`
	IPAddress         string                 `json:"ip_address,omitempty"`
	DeviceFingerprint string                 `json:"device_fingerprint,omitempty"`
	Geolocation       map[string]interface{} `json:"geolocation,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// TransactionResponse is the scored response to POST /transactions.
type TransactionResponse struct {
	Transaction *models.Transaction `json:"transaction"`
	RiskScore   *models.RiskScore   `json:"risk_score"`
	Alert       *models.Alert       `json:"alert,omitempty"`
}

// TransactionService runs the Storage Contract (§4.7): stage the
// transaction, run the scoring orchestrator, and commit once, all inside a
// single pgx.Tx. Scoring runs synchronously inline with the request rather
// than through a publish-and-forget handoff to a worker pool, since §4.5
// requires the composite score and any alert to exist before the response
// is returned.
type TransactionService struct {
	db           *repositories.Database
	txRepo       *repositories.TransactionRepository
	alertRepo    *repositories.AlertRepository
	auditRepo    *repositories.AuditRepository
	orchestrator *scoring.Orchestrator
	bus          *queue.EventBus
}

// NewTransactionService creates a new transaction service.
func NewTransactionService(
	db *repositories.Database,
	txRepo *repositories.TransactionRepository,
	alertRepo *repositories.AlertRepository,
	auditRepo *repositories.AuditRepository,
	orchestrator *scoring.Orchestrator,
	bus *queue.EventBus,
) *TransactionService {
	return &TransactionService{
		db:           db,
		txRepo:       txRepo,
		alertRepo:    alertRepo,
		auditRepo:    auditRepo,
		orchestrator: orchestrator,
		bus:          bus,
	}
}

const (
	transactionRawStream    = "rs.transactions.raw"
	transactionScoredStream = "rs.transactions.scored"
	alertStream             = "rs.alerts"
)

// validateAmountPrecision rejects a ZAR amount carrying fractions of a
// cent, since float64 cannot be trusted for that comparison directly.
// Grounded on the decimal-based monetary validation used throughout
// internal/wallet/service.go in the payment-system reference repo.
func validateAmountPrecision(amountZAR float64) error {
	amount := decimal.NewFromFloat(amountZAR)
	rounded := amount.Round(2)
	if !amount.Equal(rounded) {
		return errors.New("amount_zar carries sub-cent precision")
	}
	return nil
}

// Create stages a transaction and runs it through the scoring pipeline
// inside a single transactional unit (O1: persist -> flush id -> RiskScore
// -> Alert -> AuditLog -> commit). On any orchestrator failure the unit
// rolls back and the transaction is marked declined in a separate commit so
// the row survives for audit, per §4.7. Fan-out publication only happens
// once the scoring commit has landed (O3).
func (s *TransactionService) Create(ctx context.Context, req *TransactionCreate) (*TransactionResponse, error) {
	if err := validateAmountPrecision(req.AmountZAR); err != nil {
		return nil, apierror.Wrap(apierror.KindValidation, "amount_zar must not carry more than 2 decimal places", err)
	}
	for key, limit := range map[string]float64{"lat": 90, "lng": 180} {
		if raw, ok := req.Geolocation[key]; ok {
			v, isNum := raw.(float64)
			if !isNum || v < -limit || v > limit {
				return nil, apierror.New(apierror.KindValidation, "geolocation "+key+" is out of range")
			}
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = "ZAR"
	}

	txn := &models.Transaction{
		ExternalID:        req.ExternalID,
		SenderID:          req.SenderID,
		ReceiverID:        req.ReceiverID,
		AmountZAR:         req.AmountZAR,
		Currency:          currency,
		Channel:           req.Channel,
		MerchantCategory:  req.MerchantCategory,
		IPAddress:         req.IPAddress,
		DeviceFingerprint: req.DeviceFingerprint,
		Geolocation:       models.JSONB(req.Geolocation),
		Metadata:          models.JSONB(req.Metadata),
	}

	var outcome *scoring.Outcome

	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.txRepo.CreateStaging(ctx, tx, txn); err != nil {
			if errors.Is(err, repositories.ErrDuplicateTransaction) {
				txn.ID = uuid.Nil
				return apierror.Wrap(apierror.KindConflict, "transaction with this external_id already exists", err)
			}
			txn.ID = uuid.Nil
			return apierror.Wrap(apierror.KindDatabase, "failed to stage transaction", err)
		}

		var scoreErr error
		outcome, scoreErr = s.orchestrator.Score(ctx, tx, s.txRepo, txn)
		if scoreErr != nil {
			return apierror.Wrap(apierror.KindScoring, "scoring pipeline failed", scoreErr)
		}
		return nil
	})

	if err != nil {
		s.declineAfterFailure(txn.ID)
		return nil, err
	}

	log.Info().
		Str("transaction_id", txn.ID.String()).
		Str("risk_level", outcome.RiskScore.RiskLevel).
		Float64("composite_score", outcome.RiskScore.CompositeScore).
		Msg("transaction scored")

	s.publishFanOut(txn, outcome)

	return &TransactionResponse{Transaction: txn, RiskScore: outcome.RiskScore, Alert: outcome.Alert}, nil
}

// declineAfterFailure marks a staged transaction declined on its own
// connection once the scoring unit has rolled back, per §4.7's "committed
// separately so the row survives for audit" clause. Only runs when the
// staging insert itself succeeded before the unit rolled back; txn.ID is
// the zero UUID when staging never got that far, so this is a no-op then.
func (s *TransactionService) declineAfterFailure(txnID uuid.UUID) {
	if txnID == uuid.Nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.txRepo.UpdateStatus(ctx, s.db.Pool, txnID, models.TransactionStatusDeclined); err != nil {
		log.Error().Err(err).Str("transaction_id", txnID.String()).Msg("failed to mark transaction declined after scoring failure")
	}
}

// publishFanOut emits the raw/scored/alert events (§4.6) after commit,
// best-effort and non-blocking on the caller.
func (s *TransactionService) publishFanOut(txn *models.Transaction, outcome *scoring.Outcome) {
	if s.bus == nil {
		return
	}

	s.bus.PublishAsync(transactionRawStream, &models.TransactionEvent{
		TransactionID: txn.ID.String(),
		SenderID:      txn.SenderID,
		ReceiverID:    txn.ReceiverID,
		AmountZAR:     txn.AmountZAR,
		Currency:      txn.Currency,
		Channel:       txn.Channel,
		Status:        txn.Status,
		Timestamp:     txn.CreatedAt,
	})

	s.bus.PublishAsync(transactionScoredStream, &models.ScoredEvent{
		TransactionID:  txn.ID.String(),
		CompositeScore: outcome.RiskScore.CompositeScore,
		RiskLevel:      outcome.RiskScore.RiskLevel,
		TriggeredRules: outcome.RiskScore.TriggeredRules,
		Timestamp:      outcome.RiskScore.ScoredAt,
	})

	if outcome.Alert != nil {
		s.bus.PublishAsync(alertStream, &models.AlertEvent{
			AlertID:       outcome.Alert.ID.String(),
			TransactionID: txn.ID.String(),
			Severity:      outcome.Alert.Severity,
			AlertType:     outcome.Alert.AlertType,
			Status:        outcome.Alert.Status,
			Timestamp:     outcome.Alert.CreatedAt,
		})
	}
}

// Get retrieves a transaction plus its RiskScore, alerts, and audit logs —
// GET /transactions/{id}.
func (s *TransactionService) Get(ctx context.Context, id uuid.UUID) (*models.TransactionBundle, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrTransactionNotFound) {
			return nil, apierror.Wrap(apierror.KindNotFound, "transaction not found", err)
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to load transaction", err)
	}

	bundle := &models.TransactionBundle{Transaction: txn}

	riskScoreRepo := repositories.NewRiskScoreRepository(s.db)
	if score, serr := riskScoreRepo.GetByTransactionID(ctx, id); serr == nil {
		bundle.RiskScore = score
	}

	if alerts, aerr := s.alertRepo.ByTransactionID(ctx, id); aerr == nil {
		bundle.Alerts = alerts
	}

	if logs, lerr := s.auditRepo.ByTransactionID(ctx, id); lerr == nil {
		bundle.AuditLogs = logs
	}

	return bundle, nil
}

// List retrieves transactions with pagination and optional filters — GET
// /transactions.
func (s *TransactionService) List(ctx context.Context, page, pageSize int, statusFilter, senderID string) ([]*models.Transaction, models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 25
	}

	transactions, total, err := s.txRepo.List(ctx, page, pageSize, statusFilter, senderID)
	if err != nil {
		return nil, models.Pagination{}, apierror.Wrap(apierror.KindDatabase, "failed to list transactions", err)
	}

	return transactions, models.Pagination{Page: page, PageSize: pageSize, Total: total}, nil
}
