package models

import "time"

// RefreshToken is one refresh-token session: a single logged-in device or
// client of a user. Only LastUsedAt changes after creation.
type RefreshToken struct {
	Token      string    `json:"token"`
	UserID     int64     `json:"userId"`
	Username   string    `json:"username"`
	DeviceInfo *string   `json:"deviceInfo,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	TTL        int64     `json:"ttl"`
}

// TTLDuration returns TTL as a time.Duration.
func (t *RefreshToken) TTLDuration() time.Duration {
	return time.Duration(t.TTL) * time.Second
}
