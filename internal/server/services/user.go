package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/cryptox"
	"github.com/dmitrijs2005/metta/internal/dbx"
	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/server/auth"
	"github.com/dmitrijs2005/metta/internal/server/config"
	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/dmitrijs2005/metta/internal/server/pubsub"
	"github.com/dmitrijs2005/metta/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/metta/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/metta/internal/server/repositories/resettokens"
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// UserService is the identity provider: accounts, sessions and password
// resets. It resolves access tokens into identities for the entry service.
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	resetTokens                  resettokens.Repository
	publisher                    pubsub.IdentityPublisher
	mailer                       Mailer
	log                          logging.Logger
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	resetTokenValidityDuration   time.Duration
}

type UserServiceOption func(*UserService)

// WithResetTokens enables password resets backed by r.
func WithResetTokens(r resettokens.Repository) UserServiceOption {
	return func(s *UserService) { s.resetTokens = r }
}

func WithPublisher(p pubsub.IdentityPublisher) UserServiceOption {
	return func(s *UserService) { s.publisher = p }
}

func WithMailer(m Mailer) UserServiceOption {
	return func(s *UserService) { s.mailer = m }
}

func WithLogger(l logging.Logger) UserServiceOption {
	return func(s *UserService) { s.log = l }
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, opts ...UserServiceOption) *UserService {
	s := &UserService{
		db:                           db,
		repomanager:                  m,
		publisher:                    pubsub.NopPublisher{},
		log:                          logging.Nop{},
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		resetTokenValidityDuration:   cfg.ResetTokenValidityDuration,
	}
	for _, o := range opts {
		o(s)
	}
	if s.mailer == nil {
		s.mailer = NewLogMailer(s.log)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an account. A taken email yields common.ErrorAlreadyExists.
func (s *UserService) SignUp(ctx context.Context, email, password, displayName string) (*models.User, error) {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{
		Email:        normalizeEmail(email),
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
	}

	user, err = s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return user, nil
}

// SignIn checks credentials and opens a session. Unknown email and wrong
// password are indistinguishable: both yield common.ErrorUnauthorized.
func (s *UserService) SignIn(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	ok, err := cryptox.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.log.Error(ctx, "stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}
	if !ok {
		return nil, common.ErrorUnauthorized
	}

	pair, err := s.generateTokenPair(ctx, s.repomanager.RefreshTokens(s.db), user)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, pubsub.IdentityEvent{UserID: user.ID, DisplayName: user.DisplayName, SignedIn: true})
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// is revoked in the same transaction that stores the new one.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	token, err := s.repomanager.RefreshTokens(s.db).Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}

	if token.Expires.Before(time.Now()) {
		_ = s.repomanager.RefreshTokens(s.db).Delete(ctx, refreshToken)
		return nil, common.ErrRefreshTokenExpired
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	var tokenPair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.RefreshTokens(tx)
		if err := repo.Delete(ctx, refreshToken); err != nil {
			// spent by a concurrent refresh since Find
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		tokenPair, err = s.generateTokenPair(ctx, repo, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tokenPair, nil
}

// SignOut revokes refreshToken. Unknown tokens are ignored.
func (s *UserService) SignOut(ctx context.Context, refreshToken string) error {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return fmt.Errorf("error searching refresh token: %w", err)
	}

	if err := repo.Delete(ctx, refreshToken); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return fmt.Errorf("error deleting refresh token: %w", err)
	}

	s.publish(ctx, pubsub.IdentityEvent{UserID: token.UserID, SignedIn: false})
	return nil
}

// RequestPasswordReset mails a one-time reset token. Unknown emails succeed
// without doing anything, so callers cannot probe which accounts exist.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	if s.resetTokens == nil {
		return common.ErrorNotConfigured
	}

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return common.ErrorInternal
	}

	token, err := common.MakeRandHexString(32)
	if err != nil {
		return common.ErrorInternal
	}
	if err := s.resetTokens.Save(ctx, token, user.ID, s.resetTokenValidityDuration); err != nil {
		return fmt.Errorf("error saving reset token: %w", err)
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		return fmt.Errorf("error sending reset token: %w", err)
	}
	return nil
}

// ResetPassword redeems a reset token and sets a new password. All of the
// user's sessions are revoked.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if s.resetTokens == nil {
		return common.ErrorNotConfigured
	}

	userID, err := s.resetTokens.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidToken
		}
		return fmt.Errorf("error reading reset token: %w", err)
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return common.ErrorInternal
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}
		return s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("error updating password: %w", err)
	}

	s.publish(ctx, pubsub.IdentityEvent{UserID: userID, SignedIn: false})
	return nil
}

// Identify resolves an access token. Every failure wraps
// common.ErrorUnauthorized together with the underlying token error.
func (s *UserService) Identify(_ context.Context, accessToken string) (*models.Identity, error) {
	identity, err := auth.ParseToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}
	return identity, nil
}

func (s *UserService) generateTokenPair(ctx context.Context, repo refreshtokens.Repository, user *models.User) (*TokenPair, error) {
	identity := models.Identity{UserID: user.ID, DisplayName: user.DisplayName}
	accessToken, err := auth.GenerateToken(identity, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshToken, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}

	if err := repo.Create(ctx, user.ID, refreshToken, s.refreshTokenValidityDuration); err != nil {
		return nil, common.ErrorInternal
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// publish is best effort: a lost notification never fails the request.
func (s *UserService) publish(ctx context.Context, ev pubsub.IdentityEvent) {
	if err := s.publisher.PublishIdentityChanged(ctx, ev); err != nil {
		s.log.Warn(ctx, "identity event not published", "user_id", ev.UserID, "error", err)
	}
}
