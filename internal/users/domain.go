package users

import (
	"errors"
	"time"
)

// User represents a member account as seen by the admin engine. Account CRUD
// lives elsewhere in the product; this package only reads.
type User struct {
	ID        int64
	Email     string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrNotFound indicates the requested user does not exist.
var ErrNotFound = errors.New("users: not found")
