package auth

import "time"

// Account represents a user account as the auth module sees it.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
