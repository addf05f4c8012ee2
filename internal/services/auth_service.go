package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/internal/auth"
	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password does not meet requirements")
)

// AuthService handles authentication operations. A successful registration
// and each login success, unknown-user or bad-password outcome writes an
// AuditLog entry (actor = "api:<email>"); failed registrations are not
// audited. This is the same
// audit-on-every-mutation idiom TransactionService, AlertService, and
// RuleService already follow.
type AuthService struct {
	userRepo   *repositories.UserRepository
	auditRepo  *repositories.AuditRepository
	db         *repositories.Database
	jwtManager *auth.JWTManager
}

// NewAuthService creates a new auth service
func NewAuthService(userRepo *repositories.UserRepository, auditRepo *repositories.AuditRepository, db *repositories.Database, jwtManager *auth.JWTManager) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		auditRepo:  auditRepo,
		db:         db,
		jwtManager: jwtManager,
	}
}

// audit writes a best-effort AuditLog entry for an auth event. A failure to
// write the audit row never fails the auth flow itself — it is logged and
// swallowed, matching how AlertService and RuleService treat their own
// non-transactional audit writes.
func (s *AuthService) audit(ctx context.Context, action, actor string, details models.JSONB) {
	if err := s.auditRepo.Create(ctx, s.db.Pool, &models.AuditLog{
		Actor:   actor,
		Action:  action,
		Details: details,
	}); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("auth: failed to write audit log")
	}
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents an authentication response
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expires_in"`
	User      UserResponse `json:"user"`
}

// UserResponse represents a user in responses
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt string    `json:"created_at"`
}

// Register registers a new user. Password strength is checked against the
// role the account is being created with, since admin/analyst accounts can
// rewrite fraud rule weights and resolve alerts and so carry a stricter
// policy (internal/auth/password.go).
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	// Set default role
	role := req.Role
	if role == "" {
		role = models.RoleUser
	}

	// Validate password strength for the requested role tier
	if !auth.ValidatePasswordStrength(req.Password, role) {
		return nil, ErrWeakPassword
	}

	// Hash password
	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// Create user
	user := &models.User{
		Email:        req.Email,
		PasswordHash: hashedPassword,
		Role:         role,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// Generate token
	token, err := s.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.audit(ctx, models.AuditActionUserRegistered, "api:"+user.Email, models.JSONB{
		"user_id": user.ID.String(),
		"role":    user.Role,
	})

	return &AuthResponse{
		Token:     token,
		ExpiresIn: 86400, // 24 hours in seconds
		User: UserResponse{
			ID:        user.ID,
			Email:     user.Email,
			Role:      user.Role,
			CreatedAt: user.CreatedAt.Format("2006-01-02T15:04:05Z"),
		},
	}, nil
}

// Login authenticates a user. Every attempt writes an audit entry —
// USER_LOGIN on success, USER_LOGIN_FAILED on a bad password — so a
// credential-stuffing pattern against this API shows up in the same audit
// trail the scoring pipeline writes to.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	// Find user by email
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			s.audit(ctx, models.AuditActionUserLoginFailed, "api:"+req.Email, models.JSONB{"reason": "no such user"})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	// Check password
	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		s.audit(ctx, models.AuditActionUserLoginFailed, "api:"+user.Email, models.JSONB{"reason": "bad password"})
		return nil, ErrInvalidCredentials
	}

	// Generate token
	token, err := s.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.audit(ctx, models.AuditActionUserLoginSucceeded, "api:"+user.Email, models.JSONB{
		"user_id": user.ID.String(),
		"role":    user.Role,
	})

	return &AuthResponse{
		Token:     token,
		ExpiresIn: 86400,
		User: UserResponse{
			ID:        user.ID,
			Email:     user.Email,
			Role:      user.Role,
			CreatedAt: user.CreatedAt.Format("2006-01-02T15:04:05Z"),
		},
	}, nil
}

// RefreshToken refreshes an authentication token
func (s *AuthService) RefreshToken(ctx context.Context, currentToken string) (*AuthResponse, error) {
	// Validate current token and get claims
	claims, err := s.jwtManager.ValidateToken(currentToken)
	if err != nil {
		return nil, err
	}

	// Get user to ensure they still exist
	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	// Generate new token
	newToken, err := s.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &AuthResponse{
		Token:     newToken,
		ExpiresIn: 86400,
		User: UserResponse{
			ID:        user.ID,
			Email:     user.Email,
			Role:      user.Role,
			CreatedAt: user.CreatedAt.Format("2006-01-02T15:04:05Z"),
		},
	}, nil
}

// GetUser retrieves a user by ID
func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (*UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}, nil
}
