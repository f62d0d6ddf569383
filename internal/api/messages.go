package api

import "time"

type Empty struct{}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type RegisterRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
}

type RegisterResponse struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

type LoginRequest struct {
	Username   string  `json:"username"`
	Password   string  `json:"password"`
	DeviceInfo *string `json:"deviceInfo,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type AuthResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenType    string   `json:"tokenType"`
	UserID       int64    `json:"userId"`
	Username     string   `json:"username"`
	Email        string   `json:"email,omitempty"`
	Roles        []string `json:"roles"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutAllRequest struct{}

type ListSessionsRequest struct{}

// Session is one live refresh-token session of the caller.
type Session struct {
	Token      string    `json:"token"`
	DeviceInfo *string   `json:"deviceInfo,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	TTL        int64     `json:"ttl"`
}

type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

type RevokeSessionRequest struct {
	Token string `json:"token"`
}

type ExportSessionsRequest struct{}

type ExportSessionsResponse struct {
	URL string `json:"url"`
	Key string `json:"key"`
}
