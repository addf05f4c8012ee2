package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/obakengshepherd/risksentinel/internal/models"
)

// AuditRepository handles audit log database operations. Writes always run
// against the caller's Querier so an audit entry lands in the same
// transactional unit as the write it documents (§I3).
type AuditRepository struct {
	db *Database
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *Database) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new audit log entry — step 7 of the Scoring Orchestrator
// (§4.5) and every other actor-initiated mutation (alert updates, rule
// CRUD).
func (r *AuditRepository) Create(ctx context.Context, q Querier, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, transaction_id, actor, action, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`

	log.ID = uuid.New()
	log.CreatedAt = time.Now().UTC()
	detailsBytes, _ := log.Details.Value()

	_, err := q.Exec(ctx, query, log.ID, log.TransactionID, log.Actor, log.Action, detailsBytes, log.CreatedAt)
	return err
}

const selectAuditLogColumns = `id, transaction_id, actor, action, details, created_at`

// ByTransactionID retrieves every audit entry for a transaction, oldest
// first, for GET /transactions/{id}'s bundle response.
func (r *AuditRepository) ByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]*models.AuditLog, error) {
	query := `SELECT ` + selectAuditLogColumns + ` FROM audit_logs WHERE transaction_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.Pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAuditLogs(rows)
}

// GetRecent retrieves the most recent audit entries across all entities.
func (r *AuditRepository) GetRecent(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	query := `SELECT ` + selectAuditLogColumns + ` FROM audit_logs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAuditLogs(rows)
}

func (r *AuditRepository) scanAuditLogs(rows pgx.Rows) ([]*models.AuditLog, error) {
	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var detailsBytes []byte

		if err := rows.Scan(&log.ID, &log.TransactionID, &log.Actor, &log.Action, &detailsBytes, &log.CreatedAt); err != nil {
			return nil, err
		}
		log.Details.Scan(detailsBytes)
		logs = append(logs, log)
	}
	return logs, nil
}
