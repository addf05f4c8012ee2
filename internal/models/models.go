// Package models holds the persistent domain types shared across the
// scoring pipeline, the REST surface, and the repositories.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is the only actor-facing account type RiskSentinel manages. Fraud
// scoring operates on opaque sender/receiver identifiers carried directly
// on the Transaction, not on a first-class Account entity.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// User roles.
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleUser    = "user"
)

// Transaction is immutable once created except for Status and UpdatedAt.
type Transaction struct {
	ID                uuid.UUID  `json:"id"`
	ExternalID        string     `json:"external_id,omitempty"`
	SenderID          string     `json:"sender_id"`
	ReceiverID        string     `json:"receiver_id"`
	AmountZAR         float64    `json:"amount_zar"`
	Currency          string     `json:"currency"`
	Channel           string     `json:"channel"`
	MerchantCategory  string     `json:"merchant_category,omitempty"`
	IPAddress         string     `json:"ip_address,omitempty"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	Geolocation       JSONB      `json:"geolocation,omitempty"`
	Status            string     `json:"status"`
	Metadata          JSONB      `json:"metadata,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TransactionStatus enum values.
const (
	TransactionStatusPending  = "pending"
	TransactionStatusApproved = "approved"
	TransactionStatusDeclined = "declined"
	TransactionStatusFlagged  = "flagged"
)

// TransactionChannel enum values.
const (
	ChannelAPI           = "api"
	ChannelMobileBanking = "mobile_banking"
	ChannelPOS           = "pos"
	ChannelUSSD          = "ussd"
)

// ChannelOrdinal is the fixed ordinal mapping required by the ML feature
// vector contract (§4.4) — order must never change once a model is trained
// against it.
var ChannelOrdinal = map[string]float64{
	ChannelAPI:           0,
	ChannelMobileBanking: 1,
	ChannelPOS:           2,
	ChannelUSSD:          3,
}

// RiskLevel enum values, also used as Alert.Severity.
const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MEDIUM"
	RiskLevelHigh     = "HIGH"
	RiskLevelCritical = "CRITICAL"
)

// RiskScore is exactly-one-per-transaction.
type RiskScore struct {
	ID             uuid.UUID `json:"id"`
	TransactionID  uuid.UUID `json:"transaction_id"`
	CompositeScore float64   `json:"composite_score"`
	RuleScore      float64   `json:"rule_score"`
	VelocityScore  float64   `json:"velocity_score"`
	AnomalyScore   float64   `json:"anomaly_score"`
	MLScore        *float64  `json:"ml_score,omitempty"`
	RiskLevel      string    `json:"risk_level"`
	TriggeredRules []string  `json:"triggered_rules"`
	Explanation    JSONB     `json:"explanation"`
	ScoredAt       time.Time `json:"scored_at"`
}

// FraudRule is mutable and CRUD-managed; soft-delete flips IsActive.
type FraudRule struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Weight      float64   `json:"weight"`
	Condition   JSONB     `json:"condition"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Alert is created only when a RiskScore's level is HIGH or CRITICAL.
type Alert struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID uuid.UUID  `json:"transaction_id"`
	Severity      string     `json:"severity"`
	AlertType     string     `json:"alert_type"`
	Message       string     `json:"message"`
	Status        string     `json:"status"`
	AssignedTo    *string    `json:"assigned_to,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AlertType enum values.
const (
	AlertTypeFraudSuspected  = "FRAUD_SUSPECTED"
	AlertTypeVelocityBreach  = "VELOCITY_BREACH"
	AlertTypeAnomalyDetected = "ANOMALY_DETECTED"
)

// AlertStatus enum values.
const (
	AlertStatusOpen         = "open"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
	AlertStatusClosed       = "closed"
)

// AuditLog is append-only and never mutated.
type AuditLog struct {
	ID            uuid.UUID  `json:"id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Actor         string     `json:"actor"`
	Action        string     `json:"action"`
	Details       JSONB      `json:"details"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AuditAction enum values.
const (
	AuditActionTransactionCreated = "TRANSACTION_CREATED"
	AuditActionTransactionScored  = "TRANSACTION_SCORED"
	AuditActionAlertUpdated       = "ALERT_UPDATED"
	AuditActionRuleCreated        = "RULE_CREATED"
	AuditActionRuleUpdated        = "RULE_UPDATED"
	AuditActionRuleDeleted        = "RULE_DELETED"
	AuditActionCDCObserved        = "CDC_OBSERVED"
	AuditActionUserRegistered     = "USER_REGISTERED"
	AuditActionUserLoginSucceeded = "USER_LOGIN"
	AuditActionUserLoginFailed    = "USER_LOGIN_FAILED"
)

// TransactionEvent is published to the message bus for the raw/scored
// topics; it intentionally carries only what a downstream consumer needs for
// partition affinity and display, not the full row.
type TransactionEvent struct {
	TransactionID string    `json:"transaction_id"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	AmountZAR     float64   `json:"amount_zar"`
	Currency      string    `json:"currency"`
	Channel       string    `json:"channel"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// ScoredEvent is published to rs.transactions.scored after a RiskScore is
// durable (O3: never precedes commit).
type ScoredEvent struct {
	TransactionID  string    `json:"transaction_id"`
	CompositeScore float64   `json:"composite_score"`
	RiskLevel      string    `json:"risk_level"`
	TriggeredRules []string  `json:"triggered_rules"`
	Timestamp      time.Time `json:"timestamp"`
}

// AlertEvent is published to rs.alerts once per alert created. Status
// changes made through AlertService.Update are not published.
type AlertEvent struct {
	AlertID       string    `json:"alert_id"`
	TransactionID string    `json:"transaction_id"`
	Severity      string    `json:"severity"`
	AlertType     string    `json:"alert_type"`
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// JSONB is a helper type for PostgreSQL jsonb columns.
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Pagination is the page/page_size/total envelope shared by every list
// endpoint.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// PaginatedResponse wraps paginated results.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// RuleCount represents a rule and its trigger count.
type RuleCount struct {
	RuleCode string `json:"rule_code"`
	Count    int    `json:"count"`
}

// DashboardSummary answers GET /dashboard/summary.
type DashboardSummary struct {
	TotalTransactions    int                  `json:"total_transactions"`
	OpenAlerts           int                  `json:"open_alerts"`
	CriticalAlerts       int                  `json:"critical_alerts"`
	AvgCompositeScore    float64              `json:"avg_composite_score"`
	TopRiskiest          []RiskiestTransaction `json:"top_riskiest"`
	SeverityDistribution map[string]int       `json:"severity_distribution"`
	VelocityBreachLastHr int                  `json:"velocity_breach_alerts_last_hour"`
}

// RiskiestTransaction is one row of the top-5 riskiest list.
type RiskiestTransaction struct {
	TransactionID  uuid.UUID `json:"transaction_id"`
	CompositeScore float64   `json:"composite_score"`
	RiskLevel      string    `json:"risk_level"`
}

// RiskTrendPoint is one hourly bucket of GET /dashboard/risk-trend.
type RiskTrendPoint struct {
	Hour     time.Time `json:"hour"`
	AvgScore float64   `json:"avg_score"`
	TxnCount int       `json:"txn_count"`
}

// TransactionBundle is the response body for GET /transactions/{id}.
type TransactionBundle struct {
	Transaction *Transaction `json:"transaction"`
	RiskScore   *RiskScore   `json:"risk_score,omitempty"`
	Alerts      []*Alert     `json:"alerts"`
	AuditLogs   []*AuditLog  `json:"audit_logs"`
}
