package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/leasehub/internal/models"
)

// ProfileStore maintains the profile mirror keyed by identity id.
type ProfileStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewProfileStore constructs a ProfileStore.
func NewProfileStore(db *gorm.DB) (*ProfileStore, error) {
	if db == nil {
		return nil, errors.New("profile store: db is required")
	}
	return &ProfileStore{db: db, now: time.Now}, nil
}

// ProfileFromIdentity builds the mirrored profile for ident.
func ProfileFromIdentity(ident *models.Identity) *models.Profile {
	return &models.Profile{
		ID:        ident.ID,
		Email:     models.NormalizeEmail(ident.Email),
		FirstName: ident.FirstName,
		LastName:  ident.LastName,
		Role:      ident.Role,
	}
}

// Upsert inserts or overwrites the profile row. Repeating it is harmless.
func (s *ProfileStore) Upsert(ctx context.Context, profile *models.Profile) error {
	ctx = ensureContext(ctx)

	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return errors.New("profile store: id is required")
	}
	profile.Email = models.NormalizeEmail(profile.Email)
	profile.UpdatedAt = s.now()

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "first_name", "last_name", "role", "updated_at"}),
		}).
		Create(profile).Error
	if err != nil {
		return fmt.Errorf("profile store: upsert: %w", err)
	}
	return nil
}

// EnsureEmail sets the normalised email on the profile, creating a minimal row
// when none exists. Name and role are left untouched.
func (s *ProfileStore) EnsureEmail(ctx context.Context, id, email string) error {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	email = models.NormalizeEmail(email)
	if id == "" || email == "" {
		return errors.New("profile store: id and email are required")
	}

	profile := &models.Profile{ID: id, Email: email, UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "updated_at"}),
		}).
		Create(profile).Error
	if err != nil {
		return fmt.Errorf("profile store: ensure email: %w", err)
	}
	return nil
}

// FindByEmail returns the profile with the normalised email or ErrNotFound.
func (s *ProfileStore) FindByEmail(ctx context.Context, email string) (*models.Profile, error) {
	ctx = ensureContext(ctx)

	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}

	var profile models.Profile
	err := s.db.WithContext(ctx).Take(&profile, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile store: find by email: %w", err)
	}
	return &profile, nil
}

// Get returns the profile for id or ErrNotFound.
func (s *ProfileStore) Get(ctx context.Context, id string) (*models.Profile, error) {
	ctx = ensureContext(ctx)

	var profile models.Profile
	err := s.db.WithContext(ctx).Take(&profile, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile store: get: %w", err)
	}
	return &profile, nil
}
