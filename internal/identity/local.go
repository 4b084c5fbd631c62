package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/leasehub/internal/database"
	"github.com/charlesng35/leasehub/internal/models"
	"github.com/charlesng35/leasehub/pkg/crypto"
)

// LocalProvider stores identities in the application database with bcrypt
// password hashes.
type LocalProvider struct {
	db *gorm.DB
}

// NewLocalProvider constructs a LocalProvider.
func NewLocalProvider(db *gorm.DB) (*LocalProvider, error) {
	if db == nil {
		return nil, errors.New("identity provider: db is required")
	}
	return &LocalProvider{db: db}, nil
}

// Create provisions an identity. A concurrent registration of the same email
// surfaces as ErrEmailRegistered through the unique index on email.
func (p *LocalProvider) Create(ctx context.Context, input CreateInput) (*models.Identity, error) {
	ctx = ensureContext(ctx)

	email := models.NormalizeEmail(input.Email)
	if email == "" {
		return nil, errors.New("identity provider: email is required")
	}
	if input.Password == "" {
		return nil, errors.New("identity provider: password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("identity provider: hash password: %w", err)
	}

	ident := &models.Identity{
		Email:        email,
		Role:         strings.TrimSpace(input.Role),
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: hashed,
	}

	if err := p.db.WithContext(ctx).Create(ident).Error; err != nil {
		if database.IsUniqueConstraintError(err) {
			return nil, ErrEmailRegistered
		}
		return nil, fmt.Errorf("identity provider: create: %w", err)
	}
	return ident, nil
}

// GetByID loads an identity by id.
func (p *LocalProvider) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}

	var ident models.Identity
	err := p.db.WithContext(ctx).Take(&ident, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity provider: get by id: %w", err)
	}
	return &ident, nil
}

// FindByEmail loads an identity by normalised email.
func (p *LocalProvider) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	ctx = ensureContext(ctx)

	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}

	var ident models.Identity
	err := p.db.WithContext(ctx).Take(&ident, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity provider: find by email: %w", err)
	}
	return &ident, nil
}

// Authenticate verifies a password and returns the matching identity.
func (p *LocalProvider) Authenticate(ctx context.Context, email, password string) (*models.Identity, error) {
	ident, err := p.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyPassword(ident.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return ident, nil
}

// MissingProfiles lists identities that have no mirrored profile row.
func (p *LocalProvider) MissingProfiles(ctx context.Context, limit int) ([]models.Identity, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 100
	}

	var idents []models.Identity
	err := p.db.WithContext(ctx).
		Model(&models.Identity{}).
		Joins("LEFT JOIN profiles ON profiles.id = identities.id").
		Where("profiles.id IS NULL").
		Order("identities.created_at ASC").
		Limit(limit).
		Find(&idents).Error
	if err != nil {
		return nil, fmt.Errorf("identity provider: list missing profiles: %w", err)
	}
	return idents, nil
}
