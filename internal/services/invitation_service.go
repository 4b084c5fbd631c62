package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/leasehub/internal/identity"
	"github.com/charlesng35/leasehub/internal/models"
	"github.com/charlesng35/leasehub/pkg/crypto"
	apperrors "github.com/charlesng35/leasehub/pkg/errors"
	"github.com/charlesng35/leasehub/pkg/logger"
	"github.com/charlesng35/leasehub/pkg/mail"
	"github.com/charlesng35/leasehub/pkg/metrics"
)

const (
	defaultInvitationExpiry     = 7 * 24 * time.Hour
	defaultResendExtension      = 7 * 24 * time.Hour
	defaultInvitationTokenBytes = 32
	defaultPasswordMinLength    = 8
	maxTokenAttempts            = 5
	defaultAcceptPath           = "/invite/accept"
)

// ProfileMirror is the profile store the invitation flows write through.
type ProfileMirror interface {
	identity.ProfileLookup
	Upsert(ctx context.Context, profile *models.Profile) error
	EnsureEmail(ctx context.Context, id, email string) error
}

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationBaseURL configures the accept page used to build invitation links.
func WithInvitationBaseURL(base string) InvitationOption {
	return func(s *InvitationService) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithInvitationExpiry overrides the lifetime of newly issued invitations.
func WithInvitationExpiry(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithResendExtension overrides how far a resend pushes the expiry out.
func WithResendExtension(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.resendExtension = d
		}
	}
}

// WithInvitationTokenSize adjusts the random token length in bytes.
func WithInvitationTokenSize(size int) InvitationOption {
	return func(s *InvitationService) {
		if size > 0 {
			s.tokenBytes = size
		}
	}
}

// WithPasswordMinLength sets the minimum password length for new accounts.
func WithPasswordMinLength(n int) InvitationOption {
	return func(s *InvitationService) {
		if n > 0 {
			s.passwordMinLength = n
		}
	}
}

// WithAuditLog records invitation lifecycle events to audit.
func WithAuditLog(audit *AuditService) InvitationOption {
	return func(s *InvitationService) {
		s.audit = audit
	}
}

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InvitationService orchestrates invitation validation, redemption, resend and
// issuance. The identity provider and the invitation/link tables commit
// independently, so every flow is ordered to leave a usable identity rather
// than a consumed invitation when it stops part way.
type InvitationService struct {
	db       *gorm.DB
	bindings *RoleBindings
	provider identity.Provider
	resolver *identity.Resolver
	profiles ProfileMirror
	notifier InvitationNotifier
	audit    *AuditService
	log      *zap.Logger

	baseURL           string
	expiry            time.Duration
	resendExtension   time.Duration
	tokenBytes        int
	passwordMinLength int
	now               func() time.Time
}

// NewInvitationService constructs an InvitationService. notifier may be nil,
// in which case no emails are sent.
func NewInvitationService(db *gorm.DB, provider identity.Provider, profiles ProfileMirror, notifier InvitationNotifier, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	if provider == nil {
		return nil, errors.New("invitation service: identity provider is required")
	}
	if profiles == nil {
		return nil, errors.New("invitation service: profile mirror is required")
	}

	bindings, err := NewRoleBindings(db)
	if err != nil {
		return nil, err
	}
	resolver, err := identity.NewResolver(profiles, provider)
	if err != nil {
		return nil, err
	}

	service := &InvitationService{
		db:                db,
		bindings:          bindings,
		provider:          provider,
		resolver:          resolver,
		profiles:          profiles,
		notifier:          notifier,
		log:               logger.WithModule("invitations"),
		expiry:            defaultInvitationExpiry,
		resendExtension:   defaultResendExtension,
		tokenBytes:        defaultInvitationTokenBytes,
		passwordMinLength: defaultPasswordMinLength,
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// TokenValidation is the outcome of ValidateToken.
type TokenValidation struct {
	Valid        bool            `json:"valid"`
	PropertyID   string          `json:"propertyId,omitempty"`
	Role         models.RoleKind `json:"role,omitempty"`
	Email        string          `json:"email,omitempty"`
	InvitationID string          `json:"invitationId,omitempty"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
}

// CreateInvitedUserInput carries the new-account redemption request.
type CreateInvitedUserInput struct {
	Token      string
	Email      string
	PropertyID string
	Role       models.RoleKind
	FirstName  string
	LastName   string
	Password   string
}

// LinkExistingUserInput carries the existing-account redemption request.
// UserID is optional; without it the account is resolved by email.
type LinkExistingUserInput struct {
	Token      string
	Email      string
	PropertyID string
	Role       models.RoleKind
	UserID     string
}

// RedemptionResult describes a successful redemption.
type RedemptionResult struct {
	UserID       string          `json:"userId"`
	UserLinked   bool            `json:"userLinked"`
	CreatedUser  bool            `json:"createdUser"`
	InvitationID string          `json:"invitationId"`
	PropertyID   string          `json:"propertyId"`
	Role         models.RoleKind `json:"role"`
}

// ResendInput identifies the invitation to resend. RequestedBy, when set,
// must own the invitation's property.
type ResendInput struct {
	InvitationID string
	Role         models.RoleKind
	RequestedBy  string
}

// ResendResult reports the extended invitation and the delivery outcome.
type ResendResult struct {
	Invitation *models.Invitation `json:"invitation"`
	EmailSent  bool               `json:"emailSent"`
	EmailError string             `json:"emailError,omitempty"`
}

// IssueInput describes a new invitation.
type IssueInput struct {
	PropertyID string
	Email      string
	Role       models.RoleKind
	IssuedBy   string
}

// IssueResult reports the created invitation, its link and the delivery outcome.
type IssueResult struct {
	Invitation *models.Invitation `json:"invitation"`
	Link       string             `json:"link"`
	EmailSent  bool               `json:"emailSent"`
	EmailError string             `json:"emailError,omitempty"`
}

// InvitationLink is the shareable link for an invitation.
type InvitationLink struct {
	Invitation *models.Invitation `json:"invitation"`
	Link       string             `json:"link"`
}

// ValidateToken reports whether token and email identify a redeemable
// invitation. Tables are searched in role order and the first match wins.
// Only storage failures return an error.
func (s *InvitationService) ValidateToken(ctx context.Context, token, email string) (*TokenValidation, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	email = models.NormalizeEmail(email)
	if token == "" || email == "" {
		return &TokenValidation{Valid: false}, nil
	}

	now := s.clock()
	for _, binding := range s.bindings.All() {
		invitation, err := binding.Invitations.FindRedeemable(ctx, token, email, now)
		if err != nil {
			return nil, fmt.Errorf("invitation service: validate token: %w", err)
		}
		if invitation == nil {
			continue
		}
		expiresAt := invitation.ExpiresAt
		return &TokenValidation{
			Valid:        true,
			PropertyID:   invitation.PropertyID,
			Role:         binding.Role,
			Email:        invitation.Email,
			InvitationID: invitation.ID,
			ExpiresAt:    &expiresAt,
		}, nil
	}

	return &TokenValidation{Valid: false}, nil
}

// CreateInvitedUser redeems an invitation by creating a new account, then
// consumes the invitation and links the account to the property.
func (s *InvitationService) CreateInvitedUser(ctx context.Context, input CreateInvitedUserInput) (result *RedemptionResult, err error) {
	ctx = ensureContext(ctx)
	defer func() {
		observeRedemption("createInvitedUser", err)
		s.auditRedemption(ctx, AuditInvitationCreateUser, input.Role, input.PropertyID, result, err)
	}()

	if err := s.validateCreateInput(input); err != nil {
		return nil, err
	}
	binding, err := s.bindings.For(input.Role)
	if err != nil {
		return nil, apperrors.NewBadRequest("role must be tenant or service_provider")
	}

	invitation, err := s.loadForRedemption(ctx, binding, input.Token, input.Email, input.PropertyID)
	if err != nil {
		return nil, err
	}

	existing, err := s.resolver.FindByEmail(ctx, invitation.Email)
	if err != nil {
		return nil, fmt.Errorf("invitation service: resolve account: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyRegistered
	}

	ident, err := s.provider.Create(ctx, identity.CreateInput{
		Email:     invitation.Email,
		Password:  input.Password,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Role:      string(binding.Role),
	})
	if errors.Is(err, identity.ErrEmailRegistered) {
		return nil, ErrAlreadyRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: create identity: %w", err)
	}

	if err := s.profiles.Upsert(ctx, identity.ProfileFromIdentity(ident)); err != nil {
		s.log.Warn("profile upsert failed; reconciler will repair",
			zap.String("user_id", ident.ID),
			zap.Error(err),
		)
	}

	if err := s.consume(ctx, binding, invitation, ident.ID); err != nil {
		if errors.Is(err, ErrInvitationAlreadyUsed) {
			s.log.Warn("invitation consumed concurrently; new identity left unlinked",
				zap.String("invitation_id", invitation.ID),
				zap.String("user_id", ident.ID),
			)
		}
		return nil, err
	}

	linked := true
	if _, err := binding.Links.Create(ctx, invitation.PropertyID, ident.ID); err != nil {
		linked = false
		s.log.Error("property link failed after invitation was consumed; reconciler will complete it",
			zap.String("invitation_id", invitation.ID),
			zap.String("property_id", invitation.PropertyID),
			zap.String("user_id", ident.ID),
			zap.String("role", string(binding.Role)),
			zap.Error(err),
		)
	}

	return &RedemptionResult{
		UserID:       ident.ID,
		UserLinked:   linked,
		CreatedUser:  true,
		InvitationID: invitation.ID,
		PropertyID:   invitation.PropertyID,
		Role:         binding.Role,
	}, nil
}

// LinkExistingUser redeems an invitation for an account that already exists.
// Repeating it for an existing (property, user) link does not add a second row.
func (s *InvitationService) LinkExistingUser(ctx context.Context, input LinkExistingUserInput) (result *RedemptionResult, err error) {
	ctx = ensureContext(ctx)
	defer func() {
		observeRedemption("linkExistingUser", err)
		s.auditRedemption(ctx, AuditInvitationLinkUser, input.Role, input.PropertyID, result, err)
	}()

	if err := s.validateLinkInput(input); err != nil {
		return nil, err
	}
	binding, err := s.bindings.For(input.Role)
	if err != nil {
		return nil, apperrors.NewBadRequest("role must be tenant or service_provider")
	}

	userID, accountEmail, err := s.resolveAccount(ctx, input)
	if err != nil {
		return nil, err
	}

	invitation, err := s.loadForRedemption(ctx, binding, input.Token, input.Email, input.PropertyID)
	if err != nil {
		return nil, err
	}

	if !models.EmailsMatch(accountEmail, invitation.Email) {
		return nil, ErrEmailMismatch
	}

	exists, err := binding.Links.Exists(ctx, invitation.PropertyID, userID)
	if err != nil {
		return nil, fmt.Errorf("invitation service: check link: %w", err)
	}
	if !exists {
		if _, err := binding.Links.Create(ctx, invitation.PropertyID, userID); err != nil {
			return nil, fmt.Errorf("invitation service: create link: %w", err)
		}
	}

	if err := s.profiles.EnsureEmail(ctx, userID, invitation.Email); err != nil {
		s.log.Warn("profile email repair failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	if err := s.consume(ctx, binding, invitation, userID); err != nil {
		return nil, err
	}

	return &RedemptionResult{
		UserID:       userID,
		UserLinked:   true,
		CreatedUser:  false,
		InvitationID: invitation.ID,
		PropertyID:   invitation.PropertyID,
		Role:         binding.Role,
	}, nil
}

// Resend pushes the expiry out and emails pending invitations again. The
// used flag and status are never touched. A failed email is reported in the
// result and does not undo the extension.
func (s *InvitationService) Resend(ctx context.Context, input ResendInput) (*ResendResult, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.InvitationID) == "" {
		return nil, apperrors.NewBadRequest("invitation_id is required")
	}
	binding, err := s.bindings.For(input.Role)
	if err != nil {
		return nil, apperrors.NewBadRequest("invitation_type must be tenant or service_provider")
	}

	invitation, err := binding.Invitations.GetByID(ctx, input.InvitationID)
	if err != nil {
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}
	if invitation == nil {
		return nil, ErrInvitationNotFound
	}

	var property *models.Property
	if strings.TrimSpace(input.RequestedBy) != "" {
		property, err = s.authorizeProperty(ctx, invitation.PropertyID, input.RequestedBy)
	} else {
		property, err = s.findProperty(ctx, invitation.PropertyID)
	}
	if err != nil {
		return nil, err
	}

	now := s.clock()
	expiresAt := now.Add(s.resendExtension)
	if err := binding.Invitations.ExtendExpiry(ctx, invitation.ID, expiresAt, now); err != nil {
		if errors.Is(err, ErrInvitationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("invitation service: extend expiry: %w", err)
	}
	invitation.ExpiresAt = expiresAt
	invitation.UpdatedAt = now

	result := &ResendResult{Invitation: invitation}
	consumed := invitation.IsUsed || invitation.Status != models.InvitationStatusPending
	if consumed {
		s.log.Info("resend extended a consumed invitation without emailing",
			zap.String("invitation_id", invitation.ID),
		)
	} else {
		result.EmailSent, result.EmailError = s.notify(ctx, invitation, property)
	}

	s.recordAudit(ctx, AuditEntry{
		ActorID:    input.RequestedBy,
		Action:     AuditInvitationResend,
		Resource:   invitationResource(binding.Role, invitation.ID),
		PropertyID: invitation.PropertyID,
		Result:     AuditResultSuccess,
		Metadata: map[string]any{
			"email_sent": result.EmailSent,
			"expires_at": expiresAt,
			"consumed":   consumed,
		},
	})
	return result, nil
}

// Issue creates a pending invitation for a property the issuer owns and
// emails the link. Delivery failure is reported, not returned as an error.
func (s *InvitationService) Issue(ctx context.Context, input IssueInput) (*IssueResult, error) {
	ctx = ensureContext(ctx)

	email := models.NormalizeEmail(input.Email)
	propertyID := strings.TrimSpace(input.PropertyID)
	switch {
	case email == "":
		return nil, apperrors.NewBadRequest("email is required")
	case propertyID == "":
		return nil, apperrors.NewBadRequest("property id is required")
	case strings.TrimSpace(input.IssuedBy) == "":
		return nil, apperrors.ErrUnauthorized
	}
	binding, err := s.bindings.For(input.Role)
	if err != nil {
		return nil, apperrors.NewBadRequest("role must be tenant or service_provider")
	}

	property, err := s.authorizeProperty(ctx, propertyID, input.IssuedBy)
	if err != nil {
		return nil, err
	}

	token, err := s.uniqueToken(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	issuedBy := strings.TrimSpace(input.IssuedBy)
	invitation := &models.Invitation{
		Email:      email,
		PropertyID: property.ID,
		LinkToken:  token,
		Status:     models.InvitationStatusPending,
		InvitedBy:  &issuedBy,
		ExpiresAt:  now.Add(s.expiry),
	}
	if err := binding.Invitations.Create(ctx, invitation); err != nil {
		return nil, fmt.Errorf("invitation service: create invitation: %w", err)
	}
	metrics.InvitationsIssued.WithLabelValues(string(binding.Role)).Inc()

	result := &IssueResult{Invitation: invitation, Link: s.invitationLink(invitation)}
	result.EmailSent, result.EmailError = s.notify(ctx, invitation, property)
	s.recordAudit(ctx, AuditEntry{
		ActorID:    issuedBy,
		Action:     AuditInvitationIssue,
		Resource:   invitationResource(binding.Role, invitation.ID),
		PropertyID: invitation.PropertyID,
		Result:     AuditResultSuccess,
		Metadata:   map[string]any{"email": invitation.Email, "email_sent": result.EmailSent},
	})
	return result, nil
}

// Link returns the shareable link for an invitation so the issuer can pass it
// on when email delivery fails.
func (s *InvitationService) Link(ctx context.Context, invitationID string, role models.RoleKind, requestedBy string) (*InvitationLink, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(invitationID) == "" {
		return nil, apperrors.NewBadRequest("invitation id is required")
	}
	if strings.TrimSpace(requestedBy) == "" {
		return nil, apperrors.ErrUnauthorized
	}
	binding, err := s.bindings.For(role)
	if err != nil {
		return nil, apperrors.NewBadRequest("type must be tenant or service_provider")
	}

	invitation, err := binding.Invitations.GetByID(ctx, invitationID)
	if err != nil {
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}
	if invitation == nil {
		return nil, ErrInvitationNotFound
	}
	if _, err := s.authorizeProperty(ctx, invitation.PropertyID, requestedBy); err != nil {
		return nil, err
	}

	return &InvitationLink{Invitation: invitation, Link: s.invitationLink(invitation)}, nil
}

// ActivityInput scopes an audit query to one property.
type ActivityInput struct {
	PropertyID  string
	RequestedBy string
	Action      string
	Since       *time.Time
	Limit       int
}

// Activity lists recent invitation audit records for a property the caller
// owns, newest first. It returns an empty list when auditing is off.
func (s *InvitationService) Activity(ctx context.Context, input ActivityInput) ([]models.AuditLog, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.RequestedBy) == "" {
		return nil, apperrors.ErrUnauthorized
	}
	property, err := s.authorizeProperty(ctx, strings.TrimSpace(input.PropertyID), input.RequestedBy)
	if err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []models.AuditLog{}, nil
	}

	logs, err := s.audit.List(ctx, AuditFilters{
		PropertyID: property.ID,
		Action:     strings.TrimSpace(input.Action),
		Since:      input.Since,
		Limit:      input.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("invitation service: list activity: %w", err)
	}
	return logs, nil
}

// ReconcileLinks creates the missing property link for every consumed
// invitation whose acceptor is not linked yet, up to limit rows per role.
func (s *InvitationService) ReconcileLinks(ctx context.Context, limit int) (int, error) {
	ctx = ensureContext(ctx)

	var (
		repaired int
		errs     error
	)
	for _, binding := range s.bindings.All() {
		pending, err := binding.Invitations.ListAcceptedWithoutLink(ctx, limit)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, invitation := range pending {
			if invitation.AcceptedByUserID == nil {
				continue
			}
			created, err := binding.Links.Create(ctx, invitation.PropertyID, *invitation.AcceptedByUserID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("invitation %s: %w", invitation.ID, err))
				continue
			}
			if created {
				repaired++
				metrics.ReconcileRepairs.WithLabelValues("property_link").Inc()
				s.recordAudit(ctx, AuditEntry{
					ActorID:    *invitation.AcceptedByUserID,
					Action:     AuditInvitationLinkRepairs,
					Resource:   invitationResource(binding.Role, invitation.ID),
					PropertyID: invitation.PropertyID,
					Result:     AuditResultSuccess,
				})
				s.log.Info("reconciled missing property link",
					zap.String("invitation_id", invitation.ID),
					zap.String("property_id", invitation.PropertyID),
					zap.String("user_id", *invitation.AcceptedByUserID),
					zap.String("role", string(binding.Role)),
				)
			}
		}
	}
	return repaired, errs
}

// loadForRedemption fetches the invitation behind token in the role's table
// and checks it against the redeeming email and property.
func (s *InvitationService) loadForRedemption(ctx context.Context, binding RoleBinding, token, email, propertyID string) (*models.Invitation, error) {
	invitation, err := binding.Invitations.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}
	if invitation == nil {
		return nil, ErrInvitationInvalidOrExpired
	}
	if !models.EmailsMatch(invitation.Email, email) {
		return nil, ErrInvitationInvalidOrExpired
	}
	if propertyID = strings.TrimSpace(propertyID); propertyID != "" && propertyID != invitation.PropertyID {
		return nil, ErrInvitationInvalidOrExpired
	}
	if invitation.IsUsed || invitation.Status != models.InvitationStatusPending {
		return nil, ErrInvitationAlreadyUsed
	}
	if invitation.Expired(s.clock()) {
		return nil, ErrInvitationInvalidOrExpired
	}
	return invitation, nil
}

func (s *InvitationService) consume(ctx context.Context, binding RoleBinding, invitation *models.Invitation, userID string) error {
	now := s.clock()
	won, err := binding.Invitations.MarkUsed(ctx, invitation.ID, userID, now)
	if err != nil {
		return fmt.Errorf("invitation service: consume invitation: %w", err)
	}
	if !won {
		return ErrInvitationAlreadyUsed
	}
	invitation.IsUsed = true
	invitation.Status = models.InvitationStatusAccepted
	invitation.AcceptedAt = &now
	invitation.AcceptedByUserID = &userID
	return nil
}

func (s *InvitationService) resolveAccount(ctx context.Context, input LinkExistingUserInput) (string, string, error) {
	if userID := strings.TrimSpace(input.UserID); userID != "" {
		ident, err := s.provider.GetByID(ctx, userID)
		if errors.Is(err, identity.ErrNotFound) {
			return "", "", ErrNoAccount
		}
		if err != nil {
			return "", "", fmt.Errorf("invitation service: load account: %w", err)
		}
		return ident.ID, ident.Email, nil
	}

	match, err := s.resolver.FindByEmail(ctx, input.Email)
	if err != nil {
		return "", "", fmt.Errorf("invitation service: resolve account: %w", err)
	}
	if match == nil {
		return "", "", ErrNoAccount
	}
	return match.UserID, match.Email, nil
}

// authorizeProperty loads the property and requires requestedBy to own it.
func (s *InvitationService) authorizeProperty(ctx context.Context, propertyID, requestedBy string) (*models.Property, error) {
	property, err := s.findProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, ErrPropertyNotFound
	}
	if property.OwnerID != strings.TrimSpace(requestedBy) {
		return nil, ErrNotPropertyOwner
	}
	return property, nil
}

func (s *InvitationService) findProperty(ctx context.Context, propertyID string) (*models.Property, error) {
	var property models.Property
	err := s.db.WithContext(ctx).Take(&property, "id = ?", propertyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: load property: %w", err)
	}
	return &property, nil
}

// uniqueToken draws tokens until one is unused across every role table.
func (s *InvitationService) uniqueToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := crypto.GenerateToken(s.tokenBytes)
		if err != nil {
			return "", fmt.Errorf("invitation service: generate token: %w", err)
		}

		taken := false
		for _, binding := range s.bindings.All() {
			exists, err := binding.Invitations.TokenExists(ctx, token)
			if err != nil {
				return "", fmt.Errorf("invitation service: check token: %w", err)
			}
			if exists {
				taken = true
				break
			}
		}
		if !taken {
			return token, nil
		}
	}
	return "", errors.New("invitation service: could not generate a unique token")
}

func (s *InvitationService) notify(ctx context.Context, invitation *models.Invitation, property *models.Property) (bool, string) {
	if s.notifier == nil {
		metrics.InvitationNotifications.WithLabelValues("disabled").Inc()
		return false, ""
	}

	notice := InvitationNotice{
		Email:      invitation.Email,
		Role:       invitation.Role,
		PropertyID: invitation.PropertyID,
		Link:       s.invitationLink(invitation),
		ExpiresAt:  invitation.ExpiresAt,
	}
	if property != nil {
		notice.PropertyName = property.Name
	}

	err := s.notifier.NotifyInvitation(ctx, notice)
	switch {
	case err == nil:
		metrics.InvitationNotifications.WithLabelValues("sent").Inc()
		return true, ""
	case errors.Is(err, mail.ErrSMTPDisabled):
		metrics.InvitationNotifications.WithLabelValues("disabled").Inc()
		return false, ""
	default:
		metrics.InvitationNotifications.WithLabelValues("failed").Inc()
		s.log.Warn("invitation email delivery failed",
			zap.String("invitation_id", invitation.ID),
			zap.String("email", invitation.Email),
			zap.Error(err),
		)
		return false, ErrEmailDeliveryFailed.Message
	}
}

func (s *InvitationService) invitationLink(invitation *models.Invitation) string {
	params := url.Values{}
	params.Set("token", invitation.LinkToken)
	params.Set("email", invitation.Email)
	if invitation.Role != "" {
		params.Set("type", string(invitation.Role))
	}

	base := s.baseURL
	if base == "" {
		base = defaultAcceptPath
	}
	separator := "?"
	if strings.Contains(base, "?") {
		separator = "&"
	}
	return base + separator + params.Encode()
}

func (s *InvitationService) validateCreateInput(input CreateInvitedUserInput) error {
	if err := validateRedemptionBasics(input.Token, input.Email, input.PropertyID); err != nil {
		return err
	}
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return apperrors.NewBadRequest("first and last name are required")
	}
	if len(input.Password) < s.passwordMinLength {
		return apperrors.NewBadRequest(fmt.Sprintf("password must be at least %d characters", s.passwordMinLength))
	}
	return nil
}

func (s *InvitationService) validateLinkInput(input LinkExistingUserInput) error {
	return validateRedemptionBasics(input.Token, input.Email, input.PropertyID)
}

func validateRedemptionBasics(token, email, propertyID string) error {
	switch {
	case strings.TrimSpace(token) == "":
		return apperrors.NewBadRequest("token is required")
	case models.NormalizeEmail(email) == "":
		return apperrors.NewBadRequest("email is required")
	case strings.TrimSpace(propertyID) == "":
		return apperrors.NewBadRequest("propertyId is required")
	}
	return nil
}

func (s *InvitationService) clock() time.Time {
	return s.now().UTC()
}

func (s *InvitationService) recordAudit(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn("audit log write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

// auditRedemption records a redemption attempt. Malformed requests are not
// recorded.
func (s *InvitationService) auditRedemption(ctx context.Context, action string, role models.RoleKind, propertyID string, result *RedemptionResult, err error) {
	if err != nil {
		appErr := apperrors.FromError(err)
		if appErr.Code == apperrors.ErrBadRequest.Code {
			return
		}
		s.recordAudit(ctx, AuditEntry{
			Action:     action,
			Resource:   string(role) + "_invitation",
			PropertyID: strings.TrimSpace(propertyID),
			Result:     appErr.Code,
		})
		return
	}
	if result == nil {
		return
	}
	s.recordAudit(ctx, AuditEntry{
		ActorID:    result.UserID,
		Action:     action,
		Resource:   invitationResource(result.Role, result.InvitationID),
		PropertyID: result.PropertyID,
		Result:     AuditResultSuccess,
		Metadata:   map[string]any{"user_linked": result.UserLinked, "created_user": result.CreatedUser},
	})
}

func invitationResource(role models.RoleKind, id string) string {
	return fmt.Sprintf("%s_invitation:%s", role, id)
}

func observeRedemption(action string, err error) {
	result := "success"
	if err != nil {
		result = apperrors.FromError(err).Code
	}
	metrics.InvitationRedemptions.WithLabelValues(action, result).Inc()
}
