package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/opslink/opslink/internal/audit"
	"github.com/opslink/opslink/internal/domain"
	"github.com/opslink/opslink/internal/security"
	"github.com/opslink/opslink/internal/security/auth"
)

// AuthService handles authentication and account operations.
type AuthService struct {
	users       domain.UserRepository
	agencies    domain.AgencyRepository
	tokens      *auth.TokenManager
	recorder    *audit.Recorder
	clock       domain.Clock
	logger      *slog.Logger
	environment string
}

// NewAuthService creates a new authentication service
func NewAuthService(
	users domain.UserRepository,
	agencies domain.AgencyRepository,
	tokens *auth.TokenManager,
	recorder *audit.Recorder,
	clock domain.Clock,
	logger *slog.Logger,
	environment string,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &AuthService{
		users:       users,
		agencies:    agencies,
		tokens:      tokens,
		recorder:    recorder,
		clock:       clock,
		logger:      logger,
		environment: environment,
	}
}

// LoginResult is a successful authentication response.
type LoginResult struct {
	Token     string         `json:"token"`
	ExpiresIn int            `json:"expires_in"`
	TokenType string         `json:"token_type"`
	User      *domain.User   `json:"user"`
	Agency    *domain.Agency `json:"agency,omitempty"`
}

// Login authenticates a user by username and password. Every failure mode
// reports the same generic message so the response does not reveal whether
// the username exists.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, domain.AuthRequired("invalid credentials")
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.AuthRequired("invalid credentials")
		}
		return nil, err
	}
	if !user.Active || !auth.ComparePassword(password, user.PasswordHash) {
		s.logger.Warn("login rejected", slog.String("username", username))
		return nil, domain.AuthRequired("invalid credentials")
	}

	token, err := s.tokens.GenerateToken(user)
	if err != nil {
		s.logger.Error("failed to sign token", slog.String("error", err.Error()))
		return nil, domain.Persistence("failed to issue token", err)
	}

	agency, err := s.agencies.GetByID(ctx, user.AgencyID)
	if err != nil && !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}

	if err := s.recorder.Activity(ctx, &domain.ActivityEntry{
		AgencyID: user.AgencyID,
		Type:     domain.ActivityAuth,
		Code:     domain.ActivityCodeLogin,
		UserID:   user.ID,
		Message:  fmt.Sprintf("User %s logged in", user.Username),
	}); err != nil {
		return nil, err
	}

	return &LoginResult{
		Token:     token,
		ExpiresIn: int(s.tokens.TTL().Seconds()),
		TokenType: "Bearer",
		User:      user,
		Agency:    agency,
	}, nil
}

// Me returns the caller's user record and agency.
func (s *AuthService) Me(ctx context.Context, identity *domain.Identity) (*domain.User, *domain.Agency, error) {
	if err := security.Authorize(identity); err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetByID(ctx, identity.UserID)
	if err != nil {
		return nil, nil, err
	}
	agency, err := s.agencies.GetByID(ctx, user.AgencyID)
	if err != nil {
		return nil, nil, err
	}
	return user, agency, nil
}

// ChangePassword rotates the caller's password after verifying the current
// one.
func (s *AuthService) ChangePassword(ctx context.Context, identity *domain.Identity, current, next string) error {
	if err := security.Authorize(identity); err != nil {
		return err
	}
	if len(next) < 8 {
		return domain.Validation("password must be at least 8 characters")
	}

	user, err := s.users.GetByID(ctx, identity.UserID)
	if err != nil {
		return err
	}
	if !auth.ComparePassword(current, user.PasswordHash) {
		return domain.Validation("current password is incorrect")
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return domain.Persistence("failed to hash password", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.clock.Now()
	return s.users.Update(ctx, user)
}

// BootstrapInput provisions a new agency with its first admin account.
type BootstrapInput struct {
	AgencyName       string
	AgencyCode       string
	Timezone         string
	AdminUsername    string
	AdminDisplayName string
	AdminPassword    string
}

// BootstrapResult is the provisioned agency and admin.
type BootstrapResult struct {
	Agency *domain.Agency `json:"agency"`
	User   *domain.User   `json:"user"`
}

// Bootstrap provisions an agency and its first admin user. It is a
// development convenience and refuses to run in production.
func (s *AuthService) Bootstrap(ctx context.Context, in BootstrapInput) (*BootstrapResult, error) {
	if s.environment == "production" {
		return nil, domain.PermissionDenied("bootstrap is disabled in production")
	}

	code := strings.ToUpper(strings.TrimSpace(in.AgencyCode))
	if len(code) < 2 {
		return nil, domain.Validation("agency code is required")
	}
	if strings.TrimSpace(in.AgencyName) == "" {
		return nil, domain.Validation("agency name is required")
	}
	if strings.TrimSpace(in.AdminUsername) == "" {
		return nil, domain.Validation("admin username is required")
	}
	if len(in.AdminPassword) < 6 {
		return nil, domain.Validation("password must be at least 6 characters")
	}

	if _, err := s.agencies.GetByCode(ctx, code); err == nil {
		return nil, domain.Conflict("agency code already exists")
	} else if !domain.IsKind(err, domain.KindNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	timezone := strings.TrimSpace(in.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	agency := &domain.Agency{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(in.AgencyName),
		Code:     code,
		Timezone: timezone,
		Settings: domain.AgencySettings{
			ResponsePlans: map[string][]string{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.agencies.Create(ctx, agency); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.AdminPassword)
	if err != nil {
		return nil, domain.Persistence("failed to hash password", err)
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		AgencyID:     agency.ID,
		Username:     strings.TrimSpace(in.AdminUsername),
		DisplayName:  strings.TrimSpace(in.AdminDisplayName),
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.recorder.Activity(ctx, &domain.ActivityEntry{
		AgencyID: agency.ID,
		Type:     domain.ActivitySystem,
		Code:     domain.ActivityCodeBootstrap,
		UserID:   user.ID,
		Message:  fmt.Sprintf("Agency %s bootstrapped", agency.Code),
	}); err != nil {
		return nil, err
	}

	s.logger.Info("agency bootstrapped",
		slog.String("agency_id", agency.ID),
		slog.String("code", agency.Code),
	)
	return &BootstrapResult{Agency: agency, User: user}, nil
}

// GetAgency returns an agency visible to the caller. Callers may only read
// their own agency.
func (s *AuthService) GetAgency(ctx context.Context, identity *domain.Identity, agencyID string) (*domain.Agency, error) {
	if err := security.Authorize(identity); err != nil {
		return nil, err
	}
	if agencyID != identity.AgencyID {
		return nil, domain.NotFound("agency not found")
	}
	return s.agencies.GetByID(ctx, agencyID)
}
