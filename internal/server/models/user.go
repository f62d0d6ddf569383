package models

import "time"

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash []byte
	Roles        []string
	CreatedAt    time.Time
}
