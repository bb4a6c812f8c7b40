package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"example.com/backstage/services/audit/config"
	"example.com/backstage/services/audit/internal/cache"
	"example.com/backstage/services/audit/internal/events"
	"example.com/backstage/services/audit/internal/models"
	"example.com/backstage/services/audit/internal/repository"
)

// identityCacheTTL bounds how long a cached identity can lag the database
const identityCacheTTL = 10 * time.Minute

// Authentication error classes
var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrInactiveAccount    = errors.New("account is not activated")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Claims are the JWT claims issued at login
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// tokenPayload is what a single-use key resolves to
type tokenPayload struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// AuthService handles the account shell around the audit pipeline: signup,
// login, activation, access-key rotation, and API-key identity resolution.
type AuthService struct {
	userRepo repository.UserRepository
	redis    cache.RedisClient
	tokens   *cache.TokenStore
	factory  *events.Factory
	auditor  InternalLogger
	authCfg  config.AuthConfig
}

// NewAuthService creates a new auth service
func NewAuthService(
	userRepo repository.UserRepository,
	redis cache.RedisClient,
	tokens *cache.TokenStore,
	factory *events.Factory,
	auditor InternalLogger,
	authCfg config.AuthConfig,
) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		redis:    redis,
		tokens:   tokens,
		factory:  factory,
		auditor:  auditor,
		authCfg:  authCfg,
	}
}

// Signup registers a new inactive account and returns the single-use
// activation key.
func (s *AuthService) Signup(ctx context.Context, username, email, password string) (*models.UserAccount, string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to hash password")
	}

	accessKey, err := generateAccessKey()
	if err != nil {
		return nil, "", err
	}

	user := &models.UserAccount{
		Username:       username,
		Email:          email,
		HashedPassword: string(hashed),
		AccessKey:      accessKey,
		IsActive:       false,
	}

	start := time.Now()
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, "", err
	}
	s.selfAuditRDBMS(ctx, start, "insert", "account-create", "write", "Create new user account", user)

	key, err := s.issueSingleUseKey(ctx, user)
	if err != nil {
		return nil, "", err
	}

	return user, key, nil
}

// Login verifies credentials and issues a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if !user.IsActive {
		return "", ErrInactiveAccount
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := Claims{
		Username: user.Username,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    s.authCfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.authCfg.JWTLifetime)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.authCfg.JWTSecret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return token, nil
}

// ParseToken verifies a JWT and returns its claims
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.authCfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Activate consumes a single-use key and activates the account it was
// issued for.
func (s *AuthService) Activate(ctx context.Context, key string) (*models.UserAccount, error) {
	payload, err := s.consumeSingleUseKey(ctx, key)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	user, err := s.userRepo.Activate(ctx, payload.ID)
	if err != nil {
		return nil, err
	}
	s.selfAuditRDBMS(ctx, start, "update", "account-activate", "write", "Activate user account", user)

	// A lookup before activation may have cached the account as inactive
	if cacheErr := s.redis.Delete(ctx, cache.AccountCacheKey(user.AccessKey)); cacheErr != nil {
		log.Warn().Err(cacheErr).Msg("Failed to evict cached identity")
	}

	return user, nil
}

// ResendActivation issues a fresh single-use activation key
func (s *AuthService) ResendActivation(ctx context.Context, email string) (string, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return s.issueSingleUseKey(ctx, user)
}

// ForgotAccessKey issues a single-use key that authorizes an access-key
// reset for the account.
func (s *AuthService) ForgotAccessKey(ctx context.Context, user *models.UserAccount) (string, error) {
	return s.issueSingleUseKey(ctx, user)
}

// ResetAccessKey consumes a single-use key and rotates the account's
// access key.
func (s *AuthService) ResetAccessKey(ctx context.Context, key string) (*models.UserAccount, error) {
	payload, err := s.consumeSingleUseKey(ctx, key)
	if err != nil {
		return nil, err
	}

	current, err := s.userRepo.FindByID(ctx, payload.ID)
	if err != nil {
		return nil, err
	}

	accessKey, err := generateAccessKey()
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.RotateAccessKey(ctx, payload.ID, accessKey)
	if err != nil {
		return nil, err
	}

	// Drop any cached identity still bound to the retired key
	if cacheErr := s.redis.Delete(ctx, cache.AccountCacheKey(current.AccessKey)); cacheErr != nil {
		log.Warn().Err(cacheErr).Msg("Failed to evict cached identity")
	}

	return user, nil
}

// ChangePassword verifies the current password and stores a new hash
func (s *AuthService) ChangePassword(ctx context.Context, user *models.UserAccount, currentPassword, newPassword string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}

	start := time.Now()
	if err := s.userRepo.UpdatePassword(ctx, user.ID, string(hashed)); err != nil {
		return err
	}
	s.selfAuditRDBMS(ctx, start, "update", "password-change", "write", "Change account password", user)

	return nil
}

// CurrentUser resolves the account behind verified JWT claims
func (s *AuthService) CurrentUser(ctx context.Context, claims *Claims) (*models.UserAccount, error) {
	return s.userRepo.FindByUsername(ctx, claims.Username)
}

// VerifyAccess resolves the caller identity behind an API key, consulting
// the cache before the database.
func (s *AuthService) VerifyAccess(ctx context.Context, apiKey string) (*models.UserAccount, error) {
	cacheKey := cache.AccountCacheKey(apiKey)

	if cached, err := s.redis.Get(ctx, cacheKey); err == nil {
		var user models.UserAccount
		if err := json.Unmarshal([]byte(cached), &user); err == nil {
			return &user, nil
		}
	}

	user, err := s.userRepo.FindByAccessKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(user); err == nil {
		if cacheErr := s.redis.Set(ctx, cacheKey, string(encoded), identityCacheTTL); cacheErr != nil {
			log.Warn().Err(cacheErr).Msg("Failed to cache identity")
		}
	}

	return user, nil
}

func (s *AuthService) issueSingleUseKey(ctx context.Context, user *models.UserAccount) (string, error) {
	payload, err := json.Marshal(tokenPayload{ID: user.ID, Username: user.Username})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal key payload")
	}

	key := uuid.New().String()
	start := time.Now()
	if err := s.tokens.Store(ctx, key, string(payload)); err != nil {
		return "", err
	}
	s.selfAuditCache(ctx, start, "set", "cache-insert", "write", "Set new data in cache",
		map[string]interface{}{key: user.Username})

	return key, nil
}

func (s *AuthService) consumeSingleUseKey(ctx context.Context, key string) (*tokenPayload, error) {
	start := time.Now()
	raw, err := s.tokens.Consume(ctx, key)
	if err != nil {
		return nil, err
	}
	s.selfAuditCache(ctx, start, "get", "cache-get", "read", "Get and delete single-use data from cache", nil)

	var payload tokenPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal key payload")
	}
	return &payload, nil
}

// selfAuditRDBMS emits an audit event for a relational write. Self-audit
// dispatch must never fail the user-facing operation.
func (s *AuthService) selfAuditRDBMS(ctx context.Context, start time.Time, method, name, eventType, description string, user *models.UserAccount) {
	if s.auditor == nil || s.factory == nil {
		return
	}

	event, err := s.factory.RDBMSEvent(
		durationMs(start), 1, method, name, eventType, description,
		map[string]interface{}{"username": user.Username, "is_active": user.IsActive},
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build self-audit event")
		return
	}

	if err := s.auditor.LogInternal(ctx, []models.Event{event}); err != nil {
		log.Warn().Err(err).Msg("Failed to dispatch self-audit event")
	}
}

func (s *AuthService) selfAuditCache(ctx context.Context, start time.Time, method, name, eventType, description string, cachedData map[string]interface{}) {
	if s.auditor == nil || s.factory == nil {
		return
	}

	event, err := s.factory.CacheEvent(durationMs(start), method, name, eventType, description, cachedData)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build self-audit event")
		return
	}

	if err := s.auditor.LogInternal(ctx, []models.Event{event}); err != nil {
		log.Warn().Err(err).Msg("Failed to dispatch self-audit event")
	}
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// generateAccessKey returns a 64-character hex access key
func generateAccessKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "failed to generate access key")
	}
	return hex.EncodeToString(raw), nil
}
