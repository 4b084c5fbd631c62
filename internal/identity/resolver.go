package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/charlesng35/leasehub/internal/models"
	"github.com/charlesng35/leasehub/pkg/logger"
)

// Source names the lookup tier that produced a match.
type Source string

const (
	SourceProfiles         Source = "profiles"
	SourceIdentityProvider Source = "identity_provider"
)

// Match describes an existing account found for an email.
type Match struct {
	UserID string
	Email  string
	Source Source
}

// ProfileLookup is the first lookup tier.
type ProfileLookup interface {
	FindByEmail(ctx context.Context, email string) (*models.Profile, error)
}

// Resolver decides whether an email already has an account. The profile
// mirror is consulted first; on a miss the identity provider is asked.
type Resolver struct {
	profiles ProfileLookup
	provider Provider
	log      *zap.Logger
}

// NewResolver constructs a Resolver. profiles may be nil, in which case only
// the identity provider tier runs.
func NewResolver(profiles ProfileLookup, provider Provider) (*Resolver, error) {
	if provider == nil {
		return nil, errors.New("identity resolver: provider is required")
	}
	return &Resolver{
		profiles: profiles,
		provider: provider,
		log:      logger.WithModule("identity.resolver"),
	}, nil
}

// FindByEmail returns the account for email, or nil when neither tier has one.
// Only identity provider failures are returned as errors; a failing profile
// tier is logged and skipped.
func (r *Resolver) FindByEmail(ctx context.Context, email string) (*Match, error) {
	ctx = ensureContext(ctx)

	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}

	match, err := r.findByEmailInProfiles(ctx, email)
	if err != nil {
		r.log.Warn("profile lookup failed, falling back to identity provider",
			zap.String("email", email),
			zap.Error(err),
		)
	}
	if match != nil {
		return match, nil
	}

	return r.findByEmailInIdentityProvider(ctx, email)
}

func (r *Resolver) findByEmailInProfiles(ctx context.Context, email string) (*Match, error) {
	if r.profiles == nil {
		return nil, nil
	}

	profile, err := r.profiles.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Match{UserID: profile.ID, Email: profile.Email, Source: SourceProfiles}, nil
}

func (r *Resolver) findByEmailInIdentityProvider(ctx context.Context, email string) (*Match, error) {
	ident, err := r.provider.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity resolver: %w", err)
	}
	return &Match{UserID: ident.ID, Email: ident.Email, Source: SourceIdentityProvider}, nil
}
