package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/obakengshepherd/risksentinel/internal/models"
)

var ErrAlertNotFound = errors.New("alert not found")

// AlertRepository handles alert database operations, following the CRUD
// and paginated-list shape of transaction_repository.go and
// audit_repository.go.
type AlertRepository struct {
	db *Database
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *Database) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an Alert row — step 6 of the Scoring Orchestrator (§4.5),
// run against the caller's transaction when the composite score classifies
// as HIGH or CRITICAL.
func (r *AlertRepository) Create(ctx context.Context, q Querier, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (
			id, transaction_id, severity, alert_type, message, status,
			assigned_to, resolved_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`

	alert.ID = uuid.New()
	now := time.Now().UTC()
	alert.CreatedAt = now
	alert.UpdatedAt = now
	if alert.Status == "" {
		alert.Status = models.AlertStatusOpen
	}

	_, err := q.Exec(ctx, query,
		alert.ID, alert.TransactionID, alert.Severity, alert.AlertType, alert.Message, alert.Status,
		alert.AssignedTo, alert.ResolvedAt, alert.CreatedAt, alert.UpdatedAt,
	)
	return err
}

const selectAlertColumns = `
	id, transaction_id, severity, alert_type, message, status,
	assigned_to, resolved_at, created_at, updated_at
`

// GetByID retrieves an alert by ID.
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	query := `SELECT ` + selectAlertColumns + ` FROM alerts WHERE id = $1`

	alert := &models.Alert{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&alert.ID, &alert.TransactionID, &alert.Severity, &alert.AlertType, &alert.Message, &alert.Status,
		&alert.AssignedTo, &alert.ResolvedAt, &alert.CreatedAt, &alert.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return alert, nil
}

// ByTransactionID retrieves every alert raised against a transaction, for
// GET /transactions/{id}'s bundle response.
func (r *AlertRepository) ByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]*models.Alert, error) {
	query := `SELECT ` + selectAlertColumns + ` FROM alerts WHERE transaction_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanAlerts(rows)
}

// List retrieves alerts with pagination and optional severity/status
// filters, ordered by created_at desc — GET /alerts. An empty statusFilter
// defaults to "open" in AlertService.List, not here.
func (r *AlertRepository) List(ctx context.Context, page, pageSize int, severityFilter, statusFilter string) ([]*models.Alert, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `
		SELECT COUNT(*) FROM alerts
		WHERE ($1 = '' OR severity = $1)
		AND ($2 = '' OR status = $2)
	`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, severityFilter, statusFilter).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + selectAlertColumns + `
		FROM alerts
		WHERE ($3 = '' OR severity = $3)
		AND ($4 = '' OR status = $4)
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, pageSize, offset, severityFilter, statusFilter)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts, err := r.scanAlerts(rows)
	return alerts, total, err
}

// Update changes an alert's status and optional assignee — PATCH
// /alerts/{id}. ResolvedAt is stamped when status transitions to resolved
// and cleared for any other status.
func (r *AlertRepository) Update(ctx context.Context, id uuid.UUID, status string, assignedTo *string) (*models.Alert, error) {
	var resolvedAt *time.Time
	if status == models.AlertStatusResolved {
		now := time.Now().UTC()
		resolvedAt = &now
	}

	query := `
		UPDATE alerts
		SET status = $2, assigned_to = $3, resolved_at = $4, updated_at = $5
		WHERE id = $1
		RETURNING ` + selectAlertColumns

	alert := &models.Alert{}
	err := r.db.Pool.QueryRow(ctx, query, id, status, assignedTo, resolvedAt, time.Now().UTC()).Scan(
		&alert.ID, &alert.TransactionID, &alert.Severity, &alert.AlertType, &alert.Message, &alert.Status,
		&alert.AssignedTo, &alert.ResolvedAt, &alert.CreatedAt, &alert.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return alert, nil
}

// CountOpen is the open_alerts field of GET /dashboard/summary.
func (r *AlertRepository) CountOpen(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE status = $1`, models.AlertStatusOpen).Scan(&count)
	return count, err
}

// CountCritical is the critical_alerts field of GET /dashboard/summary.
func (r *AlertRepository) CountCritical(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE severity = $1 AND status = $2`,
		models.RiskLevelCritical, models.AlertStatusOpen).Scan(&count)
	return count, err
}

// SeverityDistribution counts open alerts by severity, for GET
// /dashboard/summary's severity_distribution field.
func (r *AlertRepository) SeverityDistribution(ctx context.Context) (map[string]int, error) {
	query := `SELECT severity, COUNT(*) FROM alerts WHERE status = $1 GROUP BY severity`
	rows, err := r.db.Pool.Query(ctx, query, models.AlertStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		dist[severity] = count
	}
	return dist, nil
}

// CountVelocityBreachLastHour is the velocity_breach_alerts_last_hour field
// of GET /dashboard/summary.
func (r *AlertRepository) CountVelocityBreachLastHour(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*) FROM alerts
		WHERE alert_type = $1 AND created_at >= NOW() - INTERVAL '1 hour'
	`
	var count int
	err := r.db.Pool.QueryRow(ctx, query, models.AlertTypeVelocityBreach).Scan(&count)
	return count, err
}

func (r *AlertRepository) scanAlerts(rows pgx.Rows) ([]*models.Alert, error) {
	var alerts []*models.Alert
	for rows.Next() {
		alert := &models.Alert{}
		if err := rows.Scan(
			&alert.ID, &alert.TransactionID, &alert.Severity, &alert.AlertType, &alert.Message, &alert.Status,
			&alert.AssignedTo, &alert.ResolvedAt, &alert.CreatedAt, &alert.UpdatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}
