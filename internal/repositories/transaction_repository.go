package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/obakengshepherd/risksentinel/internal/models"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction (external_id exists)")
)

// TransactionRepository handles transaction database operations.
type TransactionRepository struct {
	db *Database
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// isDuplicateKeyError reports whether err is a Postgres unique-violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateStaging inserts a pending Transaction row. It is the "persist-
// staging" step of §4.7's Storage Contract: callers run it against a
// pgx.Tx, flush to obtain the id, then run the orchestrator's writes before
// committing once.
func (r *TransactionRepository) CreateStaging(ctx context.Context, q Querier, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, external_id, sender_id, receiver_id, amount_zar, currency,
			channel, merchant_category, ip_address, device_fingerprint,
			geolocation, status, metadata, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`

	tx.ID = uuid.New()
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	if tx.Status == "" {
		tx.Status = models.TransactionStatusPending
	}

	metadataBytes, _ := tx.Metadata.Value()
	geoBytes, _ := tx.Geolocation.Value()

	_, err := q.Exec(ctx, query,
		tx.ID, tx.ExternalID, tx.SenderID, tx.ReceiverID, tx.AmountZAR, tx.Currency,
		tx.Channel, tx.MerchantCategory, tx.IPAddress, tx.DeviceFingerprint,
		geoBytes, tx.Status, metadataBytes, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

// UpdateStatus updates a transaction's status and updated_at within the
// caller's querier (pool or transaction).
func (r *TransactionRepository) UpdateStatus(ctx context.Context, q Querier, id uuid.UUID, status string) error {
	query := `UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1`
	result, err := q.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

const selectTransactionColumns = `
	id, external_id, sender_id, receiver_id, amount_zar, currency,
	channel, merchant_category, ip_address, device_fingerprint,
	geolocation, status, metadata, created_at, updated_at
`

// GetByID retrieves a transaction by ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + selectTransactionColumns + ` FROM transactions WHERE id = $1`

	tx := &models.Transaction{}
	var metadataBytes, geoBytes []byte

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&tx.ID, &tx.ExternalID, &tx.SenderID, &tx.ReceiverID, &tx.AmountZAR, &tx.Currency,
		&tx.Channel, &tx.MerchantCategory, &tx.IPAddress, &tx.DeviceFingerprint,
		&geoBytes, &tx.Status, &metadataBytes, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	tx.Metadata.Scan(metadataBytes)
	tx.Geolocation.Scan(geoBytes)
	return tx, nil
}

// List retrieves transactions with pagination, optional status and sender
// filters, ordered by created_at desc — GET /transactions.
func (r *TransactionRepository) List(ctx context.Context, page, pageSize int, statusFilter, senderID string) ([]*models.Transaction, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `
		SELECT COUNT(*) FROM transactions
		WHERE ($1 = '' OR status = $1)
		AND ($2 = '' OR sender_id = $2)
	`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, statusFilter, senderID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + selectTransactionColumns + `
		FROM transactions
		WHERE ($3 = '' OR status = $3)
		AND ($4 = '' OR sender_id = $4)
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, pageSize, offset, statusFilter, senderID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transactions, err := r.scanTransactions(rows)
	return transactions, total, err
}

// GetRecentBySender retrieves transactions for sender created on/after
// since, excluding nothing. The Velocity and Anomaly calculators do not use
// it; they call AggregateVelocity and AggregateAmountDistribution.
func (r *TransactionRepository) GetRecentBySender(ctx context.Context, senderID string, since time.Time) ([]*models.Transaction, error) {
	query := `
		SELECT ` + selectTransactionColumns + `
		FROM transactions
		WHERE sender_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query, senderID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// GetInRange retrieves up to limit transactions created within [start, end),
// optionally narrowed to a single sender — used by the backtester to replay
// historical traffic through the current rule set.
func (r *TransactionRepository) GetInRange(ctx context.Context, start, end time.Time, senderID string, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + selectTransactionColumns + `
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
		AND ($3 = '' OR sender_id = $3)
		ORDER BY created_at ASC
		LIMIT $4
	`
	rows, err := r.db.Pool.Query(ctx, query, start, end, senderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// VelocityAggregate is the count+sum pair computed over the sliding window
// in §4.2, excluding the current transaction.
type VelocityAggregate struct {
	Count int
	Sum   float64
}

// AggregateVelocity computes count and sum(amount_zar) for sender within
// [since, now), excluding excludeTxnID, narrowed to exactly what §4.2
// needs.
func (r *TransactionRepository) AggregateVelocity(ctx context.Context, senderID string, since time.Time, excludeTxnID uuid.UUID) (VelocityAggregate, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount_zar), 0)
		FROM transactions
		WHERE sender_id = $1 AND created_at >= $2 AND id != $3
	`
	var agg VelocityAggregate
	err := r.db.Pool.QueryRow(ctx, query, senderID, since, excludeTxnID).Scan(&agg.Count, &agg.Sum)
	return agg, err
}

// AmountDistribution is the mean/stddev/sample-size triple §4.3 needs.
type AmountDistribution struct {
	Mean   float64
	StdDev float64
	N      int
}

// AggregateAmountDistribution computes population mean/stddev/sample size
// of amount_zar for sender within the lookback window, excluding
// excludeTxnID, using Postgres's STDDEV_POP() aggregate directly.
func (r *TransactionRepository) AggregateAmountDistribution(ctx context.Context, senderID string, since time.Time, excludeTxnID uuid.UUID) (AmountDistribution, error) {
	query := `
		SELECT
			COALESCE(AVG(amount_zar), 0),
			COALESCE(STDDEV_POP(amount_zar), 0),
			COUNT(*)
		FROM transactions
		WHERE sender_id = $1 AND created_at >= $2 AND id != $3
	`
	var dist AmountDistribution
	err := r.db.Pool.QueryRow(ctx, query, senderID, since, excludeTxnID).Scan(&dist.Mean, &dist.StdDev, &dist.N)
	return dist, err
}

func (r *TransactionRepository) scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	for rows.Next() {
		tx := &models.Transaction{}
		var metadataBytes, geoBytes []byte

		if err := rows.Scan(
			&tx.ID, &tx.ExternalID, &tx.SenderID, &tx.ReceiverID, &tx.AmountZAR, &tx.Currency,
			&tx.Channel, &tx.MerchantCategory, &tx.IPAddress, &tx.DeviceFingerprint,
			&geoBytes, &tx.Status, &metadataBytes, &tx.CreatedAt, &tx.UpdatedAt,
		); err != nil {
			return nil, err
		}

		tx.Metadata.Scan(metadataBytes)
		tx.Geolocation.Scan(geoBytes)
		transactions = append(transactions, tx)
	}
	return transactions, nil
}
