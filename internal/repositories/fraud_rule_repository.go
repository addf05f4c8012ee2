package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/obakengshepherd/risksentinel/internal/models"
)

var (
	ErrFraudRuleNotFound    = errors.New("fraud rule not found")
	ErrDuplicateFraudRuleCode = errors.New("duplicate fraud rule code")
)

// FraudRuleRepository handles fraud rule database operations.
type FraudRuleRepository struct {
	db *Database
}

// NewFraudRuleRepository creates a new fraud rule repository.
func NewFraudRuleRepository(db *Database) *FraudRuleRepository {
	return &FraudRuleRepository{db: db}
}

const selectFraudRuleColumns = `
	id, code, name, description, weight, condition, is_active, created_at, updated_at
`

// Create inserts a new rule — POST /rules. Duplicate codes are rejected as
// a conflict rather than overwritten.
func (r *FraudRuleRepository) Create(ctx context.Context, rule *models.FraudRule) error {
	query := `
		INSERT INTO fraud_rules (id, code, name, description, weight, condition, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`

	rule.ID = uuid.New()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.IsActive = true

	conditionBytes, _ := rule.Condition.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		rule.ID, rule.Code, rule.Name, rule.Description, rule.Weight, conditionBytes, rule.IsActive,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateFraudRuleCode
		}
		return err
	}
	return nil
}

// GetByID retrieves a rule by ID.
func (r *FraudRuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FraudRule, error) {
	query := `SELECT ` + selectFraudRuleColumns + ` FROM fraud_rules WHERE id = $1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, query, id))
}

// List retrieves rules with pagination, optionally including inactive
// (soft-deleted) rules — GET /rules.
func (r *FraudRuleRepository) List(ctx context.Context, page, pageSize int, includeInactive bool) ([]*models.FraudRule, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM fraud_rules WHERE ($1 OR is_active)`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, includeInactive).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + selectFraudRuleColumns + `
		FROM fraud_rules
		WHERE ($3 OR is_active)
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, pageSize, offset, includeInactive)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	rules, err := r.scanMany(rows)
	return rules, total, err
}

// GetActive returns every active rule, used by the Scoring Orchestrator's
// rule-loading step (§4.5 step 1).
func (r *FraudRuleRepository) GetActive(ctx context.Context) ([]*models.FraudRule, error) {
	query := `SELECT ` + selectFraudRuleColumns + ` FROM fraud_rules WHERE is_active = true ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// Update changes a rule's mutable fields — PUT /rules/{id}.
func (r *FraudRuleRepository) Update(ctx context.Context, id uuid.UUID, name, description string, weight float64, condition models.JSONB, isActive bool) (*models.FraudRule, error) {
	conditionBytes, _ := condition.Value()

	query := `
		UPDATE fraud_rules
		SET name = $2, description = $3, weight = $4, condition = $5, is_active = $6, updated_at = $7
		WHERE id = $1
		RETURNING ` + selectFraudRuleColumns

	return r.scanOne(r.db.Pool.QueryRow(ctx, query, id, name, description, weight, conditionBytes, isActive, time.Now().UTC()))
}

// Deactivate soft-deletes a rule by flipping is_active to false — DELETE
// /rules/{id}. Rules are never hard-deleted so historical explanations
// stay resolvable against the code that produced them.
func (r *FraudRuleRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `UPDATE fraud_rules SET is_active = false, updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrFraudRuleNotFound
	}
	return nil
}

func (r *FraudRuleRepository) scanOne(row pgx.Row) (*models.FraudRule, error) {
	rule := &models.FraudRule{}
	var conditionBytes []byte
	err := row.Scan(
		&rule.ID, &rule.Code, &rule.Name, &rule.Description, &rule.Weight, &conditionBytes, &rule.IsActive,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFraudRuleNotFound
		}
		return nil, err
	}
	rule.Condition.Scan(conditionBytes)
	return rule, nil
}

func (r *FraudRuleRepository) scanMany(rows pgx.Rows) ([]*models.FraudRule, error) {
	var rules []*models.FraudRule
	for rows.Next() {
		rule := &models.FraudRule{}
		var conditionBytes []byte
		if err := rows.Scan(
			&rule.ID, &rule.Code, &rule.Name, &rule.Description, &rule.Weight, &conditionBytes, &rule.IsActive,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.Condition.Scan(conditionBytes)
		rules = append(rules, rule)
	}
	return rules, nil
}
