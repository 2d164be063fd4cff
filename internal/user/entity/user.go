package entity

import "time"

// User represents an account row in the `users` table.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
