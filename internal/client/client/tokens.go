package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/authsession/internal/client/repositories/credentials"
)

const sessionKey = "session"

// Tokens is the credential pair kept between CLI invocations.
type Tokens struct {
	Username     string `json:"username"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type tokenStore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, t Tokens) error
	Clear(ctx context.Context) error
}

// TokenStore persists Tokens as one JSON value in the credentials table.
type TokenStore struct {
	repo credentials.Repository
}

func NewTokenStore(repo credentials.Repository) *TokenStore {
	return &TokenStore{repo: repo}
}

// Load returns zero Tokens when nothing has been saved yet.
func (s *TokenStore) Load(ctx context.Context) (Tokens, error) {
	var t Tokens

	data, err := s.repo.Get(ctx, sessionKey)
	if err != nil {
		return t, err
	}
	if data == nil {
		return t, nil
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return Tokens{}, fmt.Errorf("corrupt stored session: %w", err)
	}
	return t, nil
}

func (s *TokenStore) Save(ctx context.Context, t Tokens) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.repo.Set(ctx, sessionKey, data)
}

func (s *TokenStore) Clear(ctx context.Context) error {
	return s.repo.Delete(ctx, sessionKey)
}
