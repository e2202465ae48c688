package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/repository"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// LoginSessionRepository persists login sessions.
type LoginSessionRepository interface {
	Save(ctx context.Context, session *models.LoginSession) error
	Get(ctx context.Context, token string) (*models.LoginSession, error)
}

// KeyConfig configures key signing and the login-session flow.
type KeyConfig struct {
	Secret                string
	Issuer                string
	SuperuserName         string
	SuperuserPasswordHash string
	SessionTTL            time.Duration
	LoginURLBase          string
}

// KeyService issues and verifies API keys and runs the login-session state machine.
type KeyService struct {
	sessions  LoginSessionRepository
	validator *validator.Validate
	logger    *zap.Logger
	config    KeyConfig
	now       func() time.Time
}

// NewKeyService constructs a KeyService instance.
func NewKeyService(sessions LoginSessionRepository, validate *validator.Validate, logger *zap.Logger, config KeyConfig) *KeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 10 * time.Minute
	}
	return &KeyService{sessions: sessions, validator: validate, logger: logger, config: config, now: time.Now}
}

// Mint signs a new API key for the given user and permissions.
func (s *KeyService) Mint(userID int64, username string, access models.KeyAccess) (string, error) {
	issuedAt := s.now().UTC()
	claims := &models.KeyClaims{
		UserID:   userID,
		Username: username,
		Access:   access,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Issuer:   s.config.Issuer,
			Subject:  fmt.Sprintf("%d", userID),
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign key")
	}
	return signed, nil
}

// Verify parses an API key and returns its principal.
func (s *KeyService) Verify(key string) (*models.Principal, error) {
	token, err := jwt.ParseWithClaims(key, &models.KeyClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "Invalid key")
	}
	claims, ok := token.Claims.(*models.KeyClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Invalid key")
	}
	if s.config.Issuer != "" && claims.Issuer != s.config.Issuer {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Invalid key")
	}
	return claims.Principal(), nil
}

// Describe returns the public view of a principal's key.
func (s *KeyService) Describe(principal *models.Principal) dto.KeyResponse {
	return dto.KeyResponse{
		Key:      principal.KeyID,
		UserID:   principal.UserID,
		Username: principal.Username,
		Access:   principal.Access,
	}
}

// CheckSuperuser validates superuser basic-auth credentials.
func (s *KeyService) CheckSuperuser(username, password string) error {
	if s.config.SuperuserName == "" || s.config.SuperuserPasswordHash == "" || username != s.config.SuperuserName {
		return appErrors.ErrForbidden
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.config.SuperuserPasswordHash), []byte(password)); err != nil {
		return appErrors.ErrForbidden
	}
	return nil
}

// CreateSession starts a pending login session.
func (s *KeyService) CreateSession(ctx context.Context) (*dto.LoginSessionResponse, error) {
	now := s.now().UTC()
	session := &models.LoginSession{
		Token:     uuid.NewString(),
		Status:    models.LoginSessionPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create login session")
	}
	s.logger.Info("login session created", zap.String("expires_at", session.ExpiresAt.Format(time.RFC3339)))
	return s.sessionResponse(session), nil
}

// GetSession polls a session. Unknown or expired tokens are 404.
func (s *KeyService) GetSession(ctx context.Context, token string) (*dto.LoginSessionResponse, error) {
	session, err := s.loadSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.sessionResponse(session), nil
}

// CancelSession cancels a pending session.
func (s *KeyService) CancelSession(ctx context.Context, token string) error {
	session, err := s.loadSession(ctx, token)
	if err != nil {
		return err
	}
	if session.Status != models.LoginSessionPending {
		return appErrors.Clonef(appErrors.ErrConflict, "Login session is %s", session.Status)
	}
	session.Status = models.LoginSessionCancelled
	if err := s.sessions.Save(ctx, session); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel login session")
	}
	return nil
}

// CompleteSession mints a key for a pending session on behalf of the superuser.
func (s *KeyService) CompleteSession(ctx context.Context, token string, req dto.CompleteLoginSessionRequest) (*dto.LoginSessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login session payload")
	}
	session, err := s.loadSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Status != models.LoginSessionPending {
		return nil, appErrors.Clonef(appErrors.ErrConflict, "Login session is %s", session.Status)
	}
	key, err := s.Mint(req.UserID, req.Username, req.Access)
	if err != nil {
		return nil, err
	}
	session.Status = models.LoginSessionCompleted
	session.APIKey = key
	session.UserID = req.UserID
	session.Username = req.Username
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete login session")
	}
	s.logger.Info("login session completed", zap.Int64("user_id", req.UserID))
	return s.sessionResponse(session), nil
}

func (s *KeyService) loadSession(ctx context.Context, token string) (*models.LoginSession, error) {
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Login session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load login session")
	}
	if session.Expired(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Login session not found")
	}
	return session, nil
}

func (s *KeyService) sessionResponse(session *models.LoginSession) *dto.LoginSessionResponse {
	resp := &dto.LoginSessionResponse{SessionToken: session.Token, Status: session.Status}
	if session.Status == models.LoginSessionPending && s.config.LoginURLBase != "" {
		resp.LoginURL = s.config.LoginURLBase + "/" + session.Token
	}
	if session.Status == models.LoginSessionCompleted {
		resp.APIKey = session.APIKey
		resp.UserID = session.UserID
		resp.Username = session.Username
	}
	return resp
}
