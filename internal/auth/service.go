package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/config"
	"go.uber.org/zap"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type Permission string

const (
	PermView    Permission = "view"
	PermOperate Permission = "operate"
	PermAdmin   Permission = "admin"
)

// Roles an operator account can have.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

type AuthService struct {
	operators      map[string]config.Operator
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	logger         *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	operators := make(map[string]config.Operator, len(cfg.Operators))
	for _, op := range cfg.Operators {
		operators[op.Username] = op
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret not set or too short, using development fallback",
			zap.String("env", cfg.JWTSecretEnv))
	}

	return &AuthService{
		operators:      operators,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), ttl),
		passwordHasher: NewPasswordHasher(),
		logger:         logger,
	}
}

// Login checks an operator's password and issues an access token.
func (a *AuthService) Login(username, password, ipAddress string) (string, time.Time, error) {
	op, ok := a.operators[username]
	if !ok {
		a.logger.Warn("Login failed",
			zap.String("username", username),
			zap.String("ip", ipAddress),
			zap.String("reason", "unknown user"))
		return "", time.Time{}, ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, op.PasswordHash)
	if err != nil {
		a.logger.Error("Stored password hash unusable",
			zap.String("username", username),
			zap.Error(err))
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !valid {
		a.logger.Warn("Login failed",
			zap.String("username", username),
			zap.String("ip", ipAddress),
			zap.String("reason", "invalid password"))
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken(op.Username, op.Role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logger.Info("Login succeeded",
		zap.String("username", username),
		zap.String("role", op.Role),
		zap.String("ip", ipAddress))
	return token, expiresAt, nil
}

// ValidateToken returns the permissions granted by a token.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return claims, RoleToPermissions(claims.Role), nil
}

// RoleToPermissions maps a role to what it may do. Unknown roles may only view.
func RoleToPermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermView, PermOperate, PermAdmin}
	case RoleOperator:
		return []Permission{PermView, PermOperate}
	default:
		return []Permission{PermView}
	}
}
