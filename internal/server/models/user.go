package models

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity is what an access token resolves to: a stable user id and an
// optional display name.
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}
