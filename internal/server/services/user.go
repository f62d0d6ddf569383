// Package services contains server-side business logic. This file implements
// UserService: registration, login and the refresh-token session lifecycle
// built on top of the session store.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/dbx"
	"github.com/dmitrijs2005/authsession/internal/logging"
	"github.com/dmitrijs2005/authsession/internal/server/auth"
	"github.com/dmitrijs2005/authsession/internal/server/config"
	"github.com/dmitrijs2005/authsession/internal/server/models"
	"github.com/dmitrijs2005/authsession/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authsession/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// maxTokenAttempts bounds regeneration after a refresh-token collision.
const maxTokenAttempts = 3

const minPasswordLength = 8

// newRefreshToken is a seam for tests.
var newRefreshToken = func() (string, error) {
	return common.MakeRandHexString(32)
}

type UserService struct {
	db                          *sql.DB
	repomanager                 repomanager.RepositoryManager
	sessions                    refreshtokens.Repository
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
	log                         logging.Logger
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, sessions refreshtokens.Repository, cfg *config.Config, log logging.Logger) *UserService {
	return &UserService{
		db:                          db,
		repomanager:                 m,
		sessions:                    sessions,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
		log:                         log.With("module", "users"),
	}
}

// Register creates a user with a bcrypt password hash. Roles default to
// common.DefaultRole. The user row and its roles are written in one transaction.
func (s *UserService) Register(ctx context.Context, username, email, password string, roles []string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", common.ErrorValidation)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLength)
	}
	if len(roles) == 0 {
		roles = []string{common.DefaultRole}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{Username: username, Email: email, PasswordHash: hash}
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		if _, err := repo.Create(ctx, user); err != nil {
			return err
		}
		return repo.AddRoles(ctx, user.ID, roles)
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	user.Roles = roles
	s.log.Info(ctx, "user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login checks the password and opens a new session for deviceInfo.
// Unknown users and wrong passwords are both reported as ErrorUnauthorized.
func (s *UserService) Login(ctx context.Context, username, password string, deviceInfo *string) (*models.AuthResponse, error) {
	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, common.ErrorUnauthorized
	}

	access, err := s.generateAccessToken(user)
	if err != nil {
		return nil, common.ErrorInternal
	}

	session, err := s.openSession(ctx, user, deviceInfo)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "user logged in", "user_id", user.ID)
	return authResponse(user, access, session.Token), nil
}

// Refresh validates refreshToken, records its use and mints a new access
// token. The refresh token itself is returned unchanged.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	session, err := s.sessions.Touch(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrRefreshTokenExpired
		}
		return nil, fmt.Errorf("error touching session: %w", err)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// account is gone; the session must not outlive it
			if err := s.sessions.DeleteByToken(ctx, refreshToken); err != nil {
				s.log.Warn(ctx, "failed to drop session of deleted user", "user_id", session.UserID, "error", err)
			}
			return nil, common.ErrRefreshTokenExpired
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	access, err := s.generateAccessToken(user)
	if err != nil {
		return nil, common.ErrorInternal
	}

	return authResponse(user, access, session.Token), nil
}

// Logout ends the session identified by refreshToken. Unknown tokens are ignored.
func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.sessions.DeleteByToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	return nil
}

// LogoutAll ends every session of the user.
func (s *UserService) LogoutAll(ctx context.Context, userID int64) error {
	if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("error deleting sessions: %w", err)
	}
	s.log.Info(ctx, "all sessions revoked", "user_id", userID)
	return nil
}

// Sessions lists the live sessions of the user, most recently used first.
func (s *UserService) Sessions(ctx context.Context, userID int64) ([]*models.RefreshToken, error) {
	list, err := s.sessions.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing sessions: %w", err)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastUsedAt.After(list[j].LastUsedAt)
	})
	return list, nil
}

// RevokeSession deletes one of the user's own sessions. Sessions of other
// users are reported as not found.
func (s *UserService) RevokeSession(ctx context.Context, userID int64, token string) error {
	session, err := s.sessions.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("error loading session: %w", err)
	}
	if session.UserID != userID {
		return common.ErrorNotFound
	}
	if err := s.sessions.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	return nil
}

func (s *UserService) generateAccessToken(user *models.User) (string, error) {
	return auth.GenerateToken(user.ID, user.Username, user.Roles, s.jwtSecret, s.accessTokenValidityDuration)
}

func (s *UserService) openSession(ctx context.Context, user *models.User, deviceInfo *string) (*models.RefreshToken, error) {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := newRefreshToken()
		if err != nil {
			return nil, common.ErrorInternal
		}

		session, err := s.sessions.Create(ctx, token, user.ID, user.Username, deviceInfo)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, common.ErrDuplicateToken) {
			return nil, fmt.Errorf("error creating session: %w", err)
		}
		s.log.Warn(ctx, "refresh token collision, regenerating", "attempt", attempt)
	}
	return nil, fmt.Errorf("error creating session: %w", common.ErrDuplicateToken)
}

func authResponse(user *models.User, access, refresh string) *models.AuthResponse {
	return &models.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    common.TokenTypeBearer,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Roles:        user.Roles,
	}
}
