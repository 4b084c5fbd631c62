package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/leasehub/internal/models"
)

// InvitationStore persists invitations of a single role kind.
type InvitationStore interface {
	Create(ctx context.Context, invitation *models.Invitation) error
	// FindByToken returns nil without error when no row carries token.
	FindByToken(ctx context.Context, token string) (*models.Invitation, error)
	// FindRedeemable returns nil without error unless an unused, pending,
	// unexpired invitation matches token and the normalised email.
	FindRedeemable(ctx context.Context, token, email string, now time.Time) (*models.Invitation, error)
	// GetByID returns nil without error when the id is unknown.
	GetByID(ctx context.Context, id string) (*models.Invitation, error)
	// MarkUsed consumes the invitation only while is_used is still false and
	// reports whether this call won.
	MarkUsed(ctx context.Context, id, userID string, at time.Time) (bool, error)
	ExtendExpiry(ctx context.Context, id string, expiresAt, at time.Time) error
	TokenExists(ctx context.Context, token string) (bool, error)
	// ListAcceptedWithoutLink returns consumed invitations whose acceptor has
	// no link to the invited property.
	ListAcceptedWithoutLink(ctx context.Context, limit int) ([]models.Invitation, error)
}

// LinkStore persists property links of a single role kind.
type LinkStore interface {
	Exists(ctx context.Context, propertyID, subjectID string) (bool, error)
	// Create inserts the link and reports false when it already existed.
	Create(ctx context.Context, propertyID, subjectID string) (bool, error)
	ListForProperty(ctx context.Context, propertyID string) ([]models.PropertyLink, error)
}

// RoleBinding ties a role kind to its invitation and link tables.
type RoleBinding struct {
	Role        models.RoleKind
	Invitations InvitationStore
	Links       LinkStore
}

// RoleBindings resolves the binding for each supported role kind.
type RoleBindings struct {
	order  []models.RoleKind
	byRole map[models.RoleKind]RoleBinding
}

// NewRoleBindings builds gorm-backed bindings for every role kind.
func NewRoleBindings(db *gorm.DB) (*RoleBindings, error) {
	if db == nil {
		return nil, errors.New("role bindings: db is required")
	}

	bindings := &RoleBindings{byRole: make(map[models.RoleKind]RoleBinding)}
	for _, role := range models.RoleKinds() {
		bindings.order = append(bindings.order, role)
		bindings.byRole[role] = RoleBinding{
			Role: role,
			Invitations: &gormInvitationStore{
				db:        db,
				role:      role,
				table:     role.InvitationTable(),
				linkTable: role.LinkTable(),
			},
			Links: &gormLinkStore{
				db:    db,
				role:  role,
				table: role.LinkTable(),
			},
		}
	}
	return bindings, nil
}

// For returns the binding for role.
func (b *RoleBindings) For(role models.RoleKind) (RoleBinding, error) {
	binding, ok := b.byRole[role]
	if !ok {
		return RoleBinding{}, fmt.Errorf("%w: %q", models.ErrUnknownRole, role)
	}
	return binding, nil
}

// All returns every binding in lookup order.
func (b *RoleBindings) All() []RoleBinding {
	out := make([]RoleBinding, 0, len(b.order))
	for _, role := range b.order {
		out = append(out, b.byRole[role])
	}
	return out
}

type gormInvitationStore struct {
	db        *gorm.DB
	role      models.RoleKind
	table     string
	linkTable string
}

func (s *gormInvitationStore) query(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ensureContext(ctx)).Table(s.table)
}

func (s *gormInvitationStore) Create(ctx context.Context, invitation *models.Invitation) error {
	if invitation == nil {
		return errors.New("invitation store: invitation is required")
	}
	if err := s.query(ctx).Create(invitation).Error; err != nil {
		return fmt.Errorf("invitation store: create in %s: %w", s.table, err)
	}
	invitation.Role = s.role
	return nil
}

func (s *gormInvitationStore) FindByToken(ctx context.Context, token string) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	return s.take(s.query(ctx).Where("link_token = ?", token))
}

func (s *gormInvitationStore) FindRedeemable(ctx context.Context, token, email string, now time.Time) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	email = models.NormalizeEmail(email)
	if token == "" || email == "" {
		return nil, nil
	}

	invitation, err := s.take(s.query(ctx).
		Where("link_token = ? AND email = ? AND is_used = ? AND status = ?",
			token, email, false, models.InvitationStatusPending))
	if err != nil || invitation == nil {
		return nil, err
	}
	// Expiry is checked in Go so sqlite's text timestamps never decide validity.
	if !invitation.Redeemable(now) {
		return nil, nil
	}
	return invitation, nil
}

func (s *gormInvitationStore) GetByID(ctx context.Context, id string) (*models.Invitation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	return s.take(s.query(ctx).Where("id = ?", id))
}

func (s *gormInvitationStore) MarkUsed(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	result := s.query(ctx).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]any{
			"is_used":             true,
			"status":              models.InvitationStatusAccepted,
			"accepted_at":         at,
			"accepted_by_user_id": userID,
			"updated_at":          at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("invitation store: mark used in %s: %w", s.table, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *gormInvitationStore) ExtendExpiry(ctx context.Context, id string, expiresAt, at time.Time) error {
	result := s.query(ctx).
		Where("id = ?", id).
		Updates(map[string]any{
			"expires_at": expiresAt,
			"updated_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("invitation store: extend expiry in %s: %w", s.table, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

func (s *gormInvitationStore) TokenExists(ctx context.Context, token string) (bool, error) {
	var count int64
	if err := s.query(ctx).Where("link_token = ?", token).Count(&count).Error; err != nil {
		return false, fmt.Errorf("invitation store: token lookup in %s: %w", s.table, err)
	}
	return count > 0, nil
}

func (s *gormInvitationStore) ListAcceptedWithoutLink(ctx context.Context, limit int) ([]models.Invitation, error) {
	if limit <= 0 {
		limit = 100
	}

	var invitations []models.Invitation
	err := s.db.WithContext(ensureContext(ctx)).
		Table(s.table+" AS inv").
		Select("inv.*").
		Joins(fmt.Sprintf("LEFT JOIN %s AS link ON link.property_id = inv.property_id AND link.subject_id = inv.accepted_by_user_id", s.linkTable)).
		Where("inv.is_used = ? AND inv.accepted_by_user_id IS NOT NULL AND link.id IS NULL", true).
		Order("inv.accepted_at ASC").
		Limit(limit).
		Find(&invitations).Error
	if err != nil {
		return nil, fmt.Errorf("invitation store: list unlinked in %s: %w", s.table, err)
	}
	for i := range invitations {
		invitations[i].Role = s.role
	}
	return invitations, nil
}

func (s *gormInvitationStore) take(query *gorm.DB) (*models.Invitation, error) {
	var invitation models.Invitation
	err := query.Take(&invitation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invitation store: load from %s: %w", s.table, err)
	}
	invitation.Role = s.role
	return &invitation, nil
}

type gormLinkStore struct {
	db    *gorm.DB
	role  models.RoleKind
	table string
}

func (s *gormLinkStore) query(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ensureContext(ctx)).Table(s.table)
}

func (s *gormLinkStore) Exists(ctx context.Context, propertyID, subjectID string) (bool, error) {
	var count int64
	err := s.query(ctx).
		Where("property_id = ? AND subject_id = ?", propertyID, subjectID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("link store: exists in %s: %w", s.table, err)
	}
	return count > 0, nil
}

func (s *gormLinkStore) Create(ctx context.Context, propertyID, subjectID string) (bool, error) {
	link := models.PropertyLink{PropertyID: propertyID, SubjectID: subjectID}
	if err := s.query(ctx).Create(&link).Error; err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("link store: create in %s: %w", s.table, err)
	}
	return true, nil
}

func (s *gormLinkStore) ListForProperty(ctx context.Context, propertyID string) ([]models.PropertyLink, error) {
	var links []models.PropertyLink
	if err := s.query(ctx).Where("property_id = ?", propertyID).Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("link store: list in %s: %w", s.table, err)
	}
	for i := range links {
		links[i].Role = s.role
	}
	return links, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
