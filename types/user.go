package types

import "time"

// User represents an account in the system.
// Users are created on registration and are never mutated or deleted.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id" bson:"_id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username" bson:"username"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash" bson:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at" bson:"created_at"`
}
