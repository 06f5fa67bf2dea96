package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// User is the subset of account data the checkout needs.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Repository provides user lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}
