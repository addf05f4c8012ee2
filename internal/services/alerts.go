package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/obakengshepherd/risksentinel/internal/apierror"
	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
)

// validAlertStatuses is the closed set §6 allows on PATCH /alerts/{id}.
var validAlertStatuses = map[string]bool{
	models.AlertStatusOpen:         true,
	models.AlertStatusAcknowledged: true,
	models.AlertStatusResolved:     true,
	models.AlertStatusClosed:       true,
}

// AlertService backs the /alerts REST surface, following the CRUD-service
// shape AuthService and TransactionService already establish in this
// package.
type AlertService struct {
	db        *repositories.Database
	alertRepo *repositories.AlertRepository
	auditRepo *repositories.AuditRepository
}

// NewAlertService creates a new alert service.
func NewAlertService(db *repositories.Database, alertRepo *repositories.AlertRepository, auditRepo *repositories.AuditRepository) *AlertService {
	return &AlertService{db: db, alertRepo: alertRepo, auditRepo: auditRepo}
}

// List retrieves alerts with pagination and optional severity/status
// filters — GET /alerts, defaulting to status=open per §6.
func (s *AlertService) List(ctx context.Context, page, pageSize int, severityFilter, statusFilter string) ([]*models.Alert, models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 25
	}
	if statusFilter == "" {
		statusFilter = models.AlertStatusOpen
	}

	alerts, total, err := s.alertRepo.List(ctx, page, pageSize, severityFilter, statusFilter)
	if err != nil {
		return nil, models.Pagination{}, apierror.Wrap(apierror.KindDatabase, "failed to list alerts", err)
	}

	return alerts, models.Pagination{Page: page, PageSize: pageSize, Total: total}, nil
}

// AlertUpdate is the PATCH /alerts/{id} request body.
type AlertUpdate struct {
	Status     *string `json:"status"`
	AssignedTo *string `json:"assigned_to"`
}

// Update applies a status and/or assignment change, stamping resolved_at on
// transition to resolved and always writing an ALERT_UPDATED audit log.
func (s *AlertService) Update(ctx context.Context, id uuid.UUID, req *AlertUpdate) (*models.Alert, error) {
	current, err := s.alertRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrAlertNotFound) {
			return nil, apierror.Wrap(apierror.KindNotFound, "alert not found", err)
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to load alert", err)
	}

	status := current.Status
	if req.Status != nil {
		if !validAlertStatuses[*req.Status] {
			return nil, apierror.New(apierror.KindValidation, "status must be one of open, acknowledged, resolved, closed")
		}
		status = *req.Status
	}

	assignedTo := current.AssignedTo
	if req.AssignedTo != nil {
		assignedTo = req.AssignedTo
	}

	updated, err := s.alertRepo.Update(ctx, id, status, assignedTo)
	if err != nil {
		if errors.Is(err, repositories.ErrAlertNotFound) {
			return nil, apierror.Wrap(apierror.KindNotFound, "alert not found", err)
		}
		return nil, apierror.Wrap(apierror.KindDatabase, "failed to update alert", err)
	}

	_ = s.auditRepo.Create(ctx, s.db.Pool, &models.AuditLog{
		TransactionID: &updated.TransactionID,
		Actor:         "system",
		Action:        models.AuditActionAlertUpdated,
		Details: models.JSONB{
			"alert_id":    updated.ID.String(),
			"new_status":  updated.Status,
			"assigned_to": updated.AssignedTo,
		},
	})

	return updated, nil
}
