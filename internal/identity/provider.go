// Package identity owns account records and answers "does this email already
// have an account". Its writes commit independently of invitation and link writes.
package identity

import (
	"context"
	"errors"

	"github.com/charlesng35/leasehub/internal/models"
)

var (
	// ErrEmailRegistered is returned by Create when the email already has an identity.
	ErrEmailRegistered = errors.New("identity: email already registered")
	// ErrNotFound is returned when no identity matches the lookup.
	ErrNotFound = errors.New("identity: not found")
	// ErrInvalidCredentials is returned by Authenticate on unknown email or wrong password.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
)

// CreateInput carries the fields needed to provision a new identity.
type CreateInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// Provider creates and looks up identities.
type Provider interface {
	Create(ctx context.Context, input CreateInput) (*models.Identity, error)
	GetByID(ctx context.Context, id string) (*models.Identity, error)
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
