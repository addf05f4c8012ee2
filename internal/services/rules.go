package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/obakengshepherd/risksentinel/internal/apierror"
	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
	"github.com/obakengshepherd/risksentinel/internal/rules"
)

// RuleService backs the /rules CRUD surface (§6), exposing fraud rules as
// editable database rows and following the CRUD-service shape established
// by AlertService.
type RuleService struct {
	db        *repositories.Database
	ruleRepo  *repositories.FraudRuleRepository
	auditRepo *repositories.AuditRepository
}

// NewRuleService creates a new rule service.
func NewRuleService(db *repositories.Database, ruleRepo *repositories.FraudRuleRepository, auditRepo *repositories.AuditRepository) *RuleService {
	return &RuleService{db: db, ruleRepo: ruleRepo, auditRepo: auditRepo}
}

// RuleCreate is the POST /rules request body.
type RuleCreate struct {
	Code        string                 `json:"code" binding:"required"`
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description"`
	Weight      float64                `json:"weight" binding:"required,gt=0"`
	Condition   map[string]interface{} `json:"condition" binding:"required"`
}

// RuleUpdate is the PUT/PATCH /rules/{id} request body.
type RuleUpdate struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Weight      *float64               `json:"weight"`
	Condition   map[string]interface{} `json:"condition"`
	IsActive    *bool                  `json:"is_active"`
}

// Create validates the condition tree parses, then persists the rule.
// Duplicate code yields 409 per §6.
func (s *RuleService) Create(ctx context.Context, req *RuleCreate) (*models.FraudRule, error) {
	if _, err := rules.Parse(models.JSONB(req.Condition)); err != nil {
		return nil, apierror.Wrap(apierror.KindValidation, "condition is not a valid rule tree", err)
	}

	rule := &models.FraudRule{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Weight:      req.Weight,
		Condition:   models.JSONB(req.Condition),
		IsActive:    true,
	}

	if err := s.ruleRepo.Create(ctx, rule); err != nil {
		if errors.Is(err, repositories.ErrDuplicateFraudRuleCode) {
			return nil, apierror.Wrap(apierror.KindConflict, "a rule with this code already exists", err)
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to create rule", err)
	}

	_ = s.auditRepo.Create(ctx, s.db.Pool, &models.AuditLog{
		Actor:  "system",
		Action: models.AuditActionRuleCreated,
		Details: models.JSONB{
			"rule_code": rule.Code,
			"weight":    rule.Weight,
		},
	})

	return rule, nil
}

// Get retrieves a rule by ID.
func (s *RuleService) Get(ctx context.Context, id uuid.UUID) (*models.FraudRule, error) {
	rule, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrFraudRuleNotFound) {
			return nil, apierror.Wrap(apierror.KindNotFound, "rule not found", err)
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to load rule", err)
	}
	return rule, nil
}

// List retrieves rules with pagination, optionally including deactivated
// ones.
func (s *RuleService) List(ctx context.Context, page, pageSize int, includeInactive bool) ([]*models.FraudRule, models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 25
	}

	list, total, err := s.ruleRepo.List(ctx, page, pageSize, includeInactive)
	if err != nil {
		return nil, models.Pagination{}, apierror.Wrap(apierror.KindDatabase, "failed to list rules", err)
	}

	return list, models.Pagination{Page: page, PageSize: pageSize, Total: total}, nil
}

// Update applies a partial update to a rule, validating a replaced
// condition tree before persisting.
func (s *RuleService) Update(ctx context.Context, id uuid.UUID, req *RuleUpdate) (*models.FraudRule, error) {
	current, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrFraudRuleNotFound) {
			return nil, apierror.Wrap(apierror.KindNotFound, "rule not found", err)
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to load rule", err)
	}

	name, description, weight, condition, isActive := current.Name, current.Description, current.Weight, current.Condition, current.IsActive

	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		description = *req.Description
	}
	if req.Weight != nil {
		weight = *req.Weight
	}
	if req.Condition != nil {
		if _, perr := rules.Parse(models.JSONB(req.Condition)); perr != nil {
			return nil, apierror.Wrap(apierror.KindValidation, "condition is not a valid rule tree", perr)
		}
		condition = models.JSONB(req.Condition)
	}
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	updated, err := s.ruleRepo.Update(ctx, id, name, description, weight, condition, isActive)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to update rule", err)
	}

	_ = s.auditRepo.Create(ctx, s.db.Pool, &models.AuditLog{
		Actor:  "system",
		Action: models.AuditActionRuleUpdated,
		Details: models.JSONB{
			"rule_code": updated.Code,
		},
	})

	return updated, nil
}

// Delete soft-deletes a rule (flips is_active=false); the row survives for
// audit and GET still returns it with is_active=false, per §6.
func (s *RuleService) Delete(ctx context.Context, id uuid.UUID) error {
	rule, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrFraudRuleNotFound) {
			return apierror.Wrap(apierror.KindNotFound, "rule not found", err)
		}
		return apierror.Wrap(apierror.KindDatabase, "failed to load rule", err)
	}

	if err := s.ruleRepo.Deactivate(ctx, id); err != nil {
		return apierror.Wrap(apierror.KindDatabase, "failed to deactivate rule", err)
	}

	_ = s.auditRepo.Create(ctx, s.db.Pool, &models.AuditLog{
		Actor:  "system",
		Action: models.AuditActionRuleDeleted,
		Details: models.JSONB{
			"rule_code": rule.Code,
		},
	})

	return nil
}
