package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/leasehub/internal/database"
	"github.com/charlesng35/leasehub/internal/database/testutil"
	"github.com/charlesng35/leasehub/internal/identity"
	"github.com/charlesng35/leasehub/internal/models"
	apperrors "github.com/charlesng35/leasehub/pkg/errors"
	"github.com/charlesng35/leasehub/pkg/mail"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []InvitationNotice
	err     error
}

func (n *recordingNotifier) NotifyInvitation(_ context.Context, notice InvitationNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type failingMirror struct {
	*identity.ProfileStore
}

func (failingMirror) Upsert(context.Context, *models.Profile) error {
	return errors.New("profiles unavailable")
}

func (failingMirror) EnsureEmail(context.Context, string, string) error {
	return errors.New("profiles unavailable")
}

// racingProvider hides existing identities from lookups so the provider's own
// duplicate check is the one that fires.
type racingProvider struct {
	*identity.LocalProvider
}

func (racingProvider) FindByEmail(context.Context, string) (*models.Identity, error) {
	return nil, identity.ErrNotFound
}

type invitationFixture struct {
	db       *gorm.DB
	svc      *InvitationService
	provider *identity.LocalProvider
	profiles *identity.ProfileStore
	notifier *recordingNotifier
	owner    *models.Identity
	property *models.Property
	now      time.Time
}

func newInvitationFixture(t *testing.T, opts ...InvitationOption) *invitationFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider, err := identity.NewLocalProvider(db)
	require.NoError(t, err)
	profiles, err := identity.NewProfileStore(db)
	require.NoError(t, err)

	fx := &invitationFixture{
		db:       db,
		provider: provider,
		profiles: profiles,
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	base := []InvitationOption{
		WithInvitationClock(func() time.Time { return fx.now }),
		WithInvitationBaseURL("https://app.example.com/invite/accept"),
	}
	fx.svc = fx.newService(t, provider, profiles, append(base, opts...)...)

	fx.owner, err = provider.Create(context.Background(), identity.CreateInput{
		Email:     "owner@example.com",
		Password:  "owner-password",
		FirstName: "Olive",
		LastName:  "Owner",
		Role:      models.IdentityRoleOwner,
	})
	require.NoError(t, err)

	fx.property = &models.Property{OwnerID: fx.owner.ID, Name: "Harbour View"}
	require.NoError(t, db.Create(fx.property).Error)

	return fx
}

func (fx *invitationFixture) newService(t *testing.T, provider identity.Provider, mirror ProfileMirror, opts ...InvitationOption) *InvitationService {
	t.Helper()
	svc, err := NewInvitationService(fx.db, provider, mirror, fx.notifier, opts...)
	require.NoError(t, err)
	return svc
}

func (fx *invitationFixture) issue(t *testing.T, email string, role models.RoleKind) *IssueResult {
	t.Helper()
	res, err := fx.svc.Issue(context.Background(), IssueInput{
		PropertyID: fx.property.ID,
		Email:      email,
		Role:       role,
		IssuedBy:   fx.owner.ID,
	})
	require.NoError(t, err)
	return res
}

func (fx *invitationFixture) createInput(res *IssueResult, email string) CreateInvitedUserInput {
	return CreateInvitedUserInput{
		Token:      res.Invitation.LinkToken,
		Email:      email,
		PropertyID: res.Invitation.PropertyID,
		Role:       res.Invitation.Role,
		FirstName:  "Tess",
		LastName:   "Tenant",
		Password:   "password123",
	}
}

func (fx *invitationFixture) linkInput(res *IssueResult, email string) LinkExistingUserInput {
	return LinkExistingUserInput{
		Token:      res.Invitation.LinkToken,
		Email:      email,
		PropertyID: res.Invitation.PropertyID,
		Role:       res.Invitation.Role,
	}
}

func (fx *invitationFixture) linkCount(t *testing.T, role models.RoleKind, propertyID, subjectID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, fx.db.Table(role.LinkTable()).
		Where("property_id = ? AND subject_id = ?", propertyID, subjectID).
		Count(&count).Error)
	return count
}

func (fx *invitationFixture) reload(t *testing.T, inv *models.Invitation) *models.Invitation {
	t.Helper()
	binding, err := fx.svc.bindings.For(inv.Role)
	require.NoError(t, err)
	stored, err := binding.Invitations.GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	return stored
}

func (fx *invitationFixture) existingAccount(t *testing.T, email string) *models.Identity {
	t.Helper()
	ident, err := fx.provider.Create(context.Background(), identity.CreateInput{
		Email:     email,
		Password:  "existing-password",
		FirstName: "Ex",
		LastName:  "Isting",
		Role:      string(models.RoleTenant),
	})
	require.NoError(t, err)
	return ident
}

func TestInvitationScenarioIssueValidateCreateRepeat(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()

	issued := fx.issue(t, "tenant@example.com", models.RoleTenant)

	// (a) validate
	validation, err := fx.svc.ValidateToken(ctx, issued.Invitation.LinkToken, "tenant@example.com")
	require.NoError(t, err)
	require.True(t, validation.Valid)
	require.Equal(t, models.RoleTenant, validation.Role)
	require.Equal(t, fx.property.ID, validation.PropertyID)
	require.Equal(t, issued.Invitation.ID, validation.InvitationID)

	// (b) create account
	result, err := fx.svc.CreateInvitedUser(ctx, fx.createInput(issued, "tenant@example.com"))
	require.NoError(t, err)
	require.True(t, result.UserLinked)
	require.True(t, result.CreatedUser)
	require.NotEmpty(t, result.UserID)

	var identities int64
	require.NoError(t, fx.db.Model(&models.Identity{}).Where("email = ?", "tenant@example.com").Count(&identities).Error)
	require.EqualValues(t, 1, identities)
	require.EqualValues(t, 1, fx.linkCount(t, models.RoleTenant, fx.property.ID, result.UserID))

	stored := fx.reload(t, issued.Invitation)
	require.True(t, stored.IsUsed)
	require.Equal(t, models.InvitationStatusAccepted, stored.Status)
	require.NotNil(t, stored.AcceptedByUserID)
	require.Equal(t, result.UserID, *stored.AcceptedByUserID)
	require.NotNil(t, stored.AcceptedAt)

	profile, err := fx.profiles.Get(ctx, result.UserID)
	require.NoError(t, err)
	require.Equal(t, "tenant@example.com", profile.Email)
	require.Equal(t, "Tess", profile.FirstName)

	// (c) same token again
	_, err = fx.svc.CreateInvitedUser(ctx, fx.createInput(issued, "tenant@example.com"))
	require.ErrorIs(t, err, ErrInvitationAlreadyUsed)

	// (d) fresh invitation to the same email
	fresh := fx.issue(t, "tenant@example.com", models.RoleTenant)
	_, err = fx.svc.CreateInvitedUser(ctx, fx.createInput(fresh, "tenant@example.com"))
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	appErr := apperrors.FromError(err)
	require.Equal(t, true, appErr.Details["userExists"])
	require.Equal(t, true, appErr.Details["requiresLinking"])

	require.NoError(t, fx.db.Model(&models.Identity{}).Where("email = ?", "tenant@example.com").Count(&identities).Error)
	require.EqualValues(t, 1, identities)
	require.False(t, fx.reload(t, fresh.Invitation).IsUsed)
}

func TestValidateTokenRejectsExpiredUsedAndMismatched(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()

	issued := fx.issue(t, "sam@example.com", models.RoleServiceProvider)
	token := issued.Invitation.LinkToken

	validation, err := fx.svc.ValidateToken(ctx, token, "  SAM@Example.com ")
	require.NoError(t, err)
	require.True(t, validation.Valid)
	require.Equal(t, models.RoleServiceProvider, validation.Role)

	validation, err = fx.svc.ValidateToken(ctx, token, "someone@example.com")
	require.NoError(t, err)
	require.False(t, validation.Valid)

	validation, err = fx.svc.ValidateToken(ctx, "unknown-token", "sam@example.com")
	require.NoError(t, err)
	require.False(t, validation.Valid)

	validation, err = fx.svc.ValidateToken(ctx, "", "")
	require.NoError(t, err)
	require.False(t, validation.Valid)

	fx.now = issued.Invitation.ExpiresAt
	validation, err = fx.svc.ValidateToken(ctx, token, "sam@example.com")
	require.NoError(t, err)
	require.False(t, validation.Valid, "expiry instant is no longer valid")

	fx.now = issued.Invitation.ExpiresAt.Add(-time.Minute)
	fx.existingAccount(t, "sam@example.com")
	_, err = fx.svc.LinkExistingUser(ctx, fx.linkInput(issued, "sam@example.com"))
	require.NoError(t, err)

	validation, err = fx.svc.ValidateToken(ctx, token, "sam@example.com")
	require.NoError(t, err)
	require.False(t, validation.Valid)
}

func TestCreateInvitedUserRejectsExpiredInvitation(t *testing.T) {
	fx := newInvitationFixture(t)

	issued := fx.issue(t, "late@example.com", models.RoleTenant)
	fx.now = fx.now.Add(8 * 24 * time.Hour)

	_, err := fx.svc.CreateInvitedUser(context.Background(), fx.createInput(issued, "late@example.com"))
	require.ErrorIs(t, err, ErrInvitationInvalidOrExpired)

	var identities int64
	require.NoError(t, fx.db.Model(&models.Identity{}).Where("email = ?", "late@example.com").Count(&identities).Error)
	require.Zero(t, identities)
}

func TestCreateInvitedUserValidatesInput(t *testing.T) {
	fx := newInvitationFixture(t, WithPasswordMinLength(10))
	issued := fx.issue(t, "tenant@example.com", models.RoleTenant)

	input := fx.createInput(issued, "tenant@example.com")
	input.Password = "short"
	_, err := fx.svc.CreateInvitedUser(context.Background(), input)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
	require.Contains(t, apperrors.FromError(err).Message, "at least 10")

	input = fx.createInput(issued, "tenant@example.com")
	input.FirstName = "  "
	_, err = fx.svc.CreateInvitedUser(context.Background(), input)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	input = fx.createInput(issued, "tenant@example.com")
	input.Role = "landlord"
	_, err = fx.svc.CreateInvitedUser(context.Background(), input)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	input = fx.createInput(issued, "tenant@example.com")
	input.Role = models.RoleServiceProvider
	_, err = fx.svc.CreateInvitedUser(context.Background(), input)
	require.ErrorIs(t, err, ErrInvitationInvalidOrExpired, "token lives in the tenant table only")

	input = fx.createInput(issued, "tenant@example.com")
	input.PropertyID = "another-property"
	_, err = fx.svc.CreateInvitedUser(context.Background(), input)
	require.ErrorIs(t, err, ErrInvitationInvalidOrExpired)

	input = fx.createInput(issued, "intruder@example.com")
	_, err = fx.svc.CreateInvitedUser(context.Background(), input)
	require.ErrorIs(t, err, ErrInvitationInvalidOrExpired)
}

func TestCreateInvitedUserMapsProviderDuplicateToAlreadyRegistered(t *testing.T) {
	fx := newInvitationFixture(t)
	issued := fx.issue(t, "race@example.com", models.RoleTenant)
	fx.existingAccount(t, "race@example.com")

	// The resolver finds nothing in either tier, so only the provider's own
	// unique check stops the duplicate.
	require.NoError(t, fx.db.Where("email = ?", "race@example.com").Delete(&models.Profile{}).Error)
	svc := fx.newService(t, racingProvider{fx.provider}, fx.profiles, WithInvitationClock(func() time.Time { return fx.now }))

	_, err := svc.CreateInvitedUser(context.Background(), fx.createInput(issued, "race@example.com"))
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	require.False(t, fx.reload(t, issued.Invitation).IsUsed)
}

func TestCreateInvitedUserToleratesProfileFailure(t *testing.T) {
	fx := newInvitationFixture(t)
	issued := fx.issue(t, "soft@example.com", models.RoleTenant)

	svc := fx.newService(t, fx.provider, failingMirror{fx.profiles}, WithInvitationClock(func() time.Time { return fx.now }))
	result, err := svc.CreateInvitedUser(context.Background(), fx.createInput(issued, "soft@example.com"))
	require.NoError(t, err)
	require.True(t, result.UserLinked)

	_, err = fx.profiles.Get(context.Background(), result.UserID)
	require.ErrorIs(t, err, identity.ErrNotFound)

	repairer, err := identity.NewProfileRepairer(fx.provider, fx.profiles)
	require.NoError(t, err)
	repaired, err := repairer.RepairMissingProfiles(context.Background(), 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, repaired, 1)

	profile, err := fx.profiles.Get(context.Background(), result.UserID)
	require.NoError(t, err)
	require.Equal(t, "soft@example.com", profile.Email)
}

func TestCreateInvitedUserLinkFailureIsReconciled(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	issued := fx.issue(t, "partial@example.com", models.RoleTenant)

	require.NoError(t, fx.db.Migrator().DropTable(models.RoleTenant.LinkTable()))

	result, err := fx.svc.CreateInvitedUser(ctx, fx.createInput(issued, "partial@example.com"))
	require.NoError(t, err)
	require.False(t, result.UserLinked)
	require.True(t, fx.reload(t, issued.Invitation).IsUsed)

	require.NoError(t, database.Migrate(fx.db))

	repaired, err := fx.svc.ReconcileLinks(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, 1, repaired)
	require.EqualValues(t, 1, fx.linkCount(t, models.RoleTenant, fx.property.ID, result.UserID))

	repaired, err = fx.svc.ReconcileLinks(ctx, 50)
	require.NoError(t, err)
	require.Zero(t, repaired)
}

func TestLinkExistingUserLinksOnceAcrossInvitations(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	account := fx.existingAccount(t, "bob@x.com")

	first := fx.issue(t, "bob@x.com", models.RoleTenant)
	result, err := fx.svc.LinkExistingUser(ctx, fx.linkInput(first, "Bob@X.com "))
	require.NoError(t, err)
	require.Equal(t, account.ID, result.UserID)
	require.True(t, result.UserLinked)
	require.False(t, result.CreatedUser)

	second := fx.issue(t, "BOB@x.com", models.RoleTenant)
	input := fx.linkInput(second, "bob@x.com")
	input.UserID = account.ID
	result, err = fx.svc.LinkExistingUser(ctx, input)
	require.NoError(t, err)
	require.True(t, result.UserLinked)

	require.EqualValues(t, 1, fx.linkCount(t, models.RoleTenant, fx.property.ID, account.ID))
	require.True(t, fx.reload(t, first.Invitation).IsUsed)
	require.True(t, fx.reload(t, second.Invitation).IsUsed)

	profile, err := fx.profiles.Get(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, "bob@x.com", profile.Email)
}

func TestLinkExistingUserSameTokenTwice(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	fx.existingAccount(t, "twice@example.com")
	issued := fx.issue(t, "twice@example.com", models.RoleServiceProvider)

	_, err := fx.svc.LinkExistingUser(ctx, fx.linkInput(issued, "twice@example.com"))
	require.NoError(t, err)

	_, err = fx.svc.LinkExistingUser(ctx, fx.linkInput(issued, "twice@example.com"))
	require.ErrorIs(t, err, ErrInvitationAlreadyUsed)

	_, err = fx.svc.CreateInvitedUser(ctx, fx.createInput(issued, "twice@example.com"))
	require.ErrorIs(t, err, ErrInvitationAlreadyUsed)
}

func TestCreateThenLinkWithSameToken(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	issued := fx.issue(t, "order@example.com", models.RoleTenant)

	_, err := fx.svc.CreateInvitedUser(ctx, fx.createInput(issued, "order@example.com"))
	require.NoError(t, err)

	_, err = fx.svc.LinkExistingUser(ctx, fx.linkInput(issued, "order@example.com"))
	require.ErrorIs(t, err, ErrInvitationAlreadyUsed)
}

func TestLinkExistingUserConcurrentRedemptionSucceedsOnce(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	account := fx.existingAccount(t, "race@example.com")
	issued := fx.issue(t, "race@example.com", models.RoleTenant)

	const attempts = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		used      int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.LinkExistingUser(ctx, fx.linkInput(issued, "race@example.com"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInvitationAlreadyUsed):
				used++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, used)
	require.EqualValues(t, 1, fx.linkCount(t, models.RoleTenant, fx.property.ID, account.ID))
}

func TestLinkExistingUserErrors(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	issued := fx.issue(t, "invitee@example.com", models.RoleTenant)

	_, err := fx.svc.LinkExistingUser(ctx, fx.linkInput(issued, "invitee@example.com"))
	require.ErrorIs(t, err, ErrNoAccount)
	require.Equal(t, true, apperrors.FromError(err).Details["requiresSignup"])

	other := fx.existingAccount(t, "other@example.com")
	input := fx.linkInput(issued, "invitee@example.com")
	input.UserID = other.ID
	_, err = fx.svc.LinkExistingUser(ctx, input)
	require.ErrorIs(t, err, ErrEmailMismatch)

	input.UserID = "7c0c1a8e-0000-4000-8000-000000000000"
	_, err = fx.svc.LinkExistingUser(ctx, input)
	require.ErrorIs(t, err, ErrNoAccount)

	fx.existingAccount(t, "invitee@example.com")
	input = fx.linkInput(issued, "invitee@example.com")
	input.Token = "forged"
	_, err = fx.svc.LinkExistingUser(ctx, input)
	require.ErrorIs(t, err, ErrInvitationInvalidOrExpired)

	require.False(t, fx.reload(t, issued.Invitation).IsUsed)
	require.EqualValues(t, 0, fx.linkCount(t, models.RoleTenant, fx.property.ID, other.ID))
}

func TestResendExtendsExpiryWithoutTouchingUsage(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()

	pending := fx.issue(t, "pending@example.com", models.RoleTenant)
	require.Equal(t, 1, fx.notifier.count())

	fx.now = fx.now.Add(6 * 24 * time.Hour)
	res, err := fx.svc.Resend(ctx, ResendInput{InvitationID: pending.Invitation.ID, Role: models.RoleTenant, RequestedBy: fx.owner.ID})
	require.NoError(t, err)
	require.True(t, res.EmailSent)
	require.Empty(t, res.EmailError)
	require.True(t, res.Invitation.ExpiresAt.Equal(fx.now.Add(7*24*time.Hour)))
	require.Equal(t, 2, fx.notifier.count())

	stored := fx.reload(t, pending.Invitation)
	require.False(t, stored.IsUsed)
	require.Equal(t, models.InvitationStatusPending, stored.Status)
	require.True(t, stored.ExpiresAt.After(pending.Invitation.ExpiresAt))

	fx.now = fx.now.Add(3 * 24 * time.Hour)
	validation, err := fx.svc.ValidateToken(ctx, pending.Invitation.LinkToken, "pending@example.com")
	require.NoError(t, err)
	require.True(t, validation.Valid, "resend keeps the token alive past the original expiry")
}

func TestResendDoesNotReviveUsedInvitation(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()

	used := fx.issue(t, "used@example.com", models.RoleTenant)
	_, err := fx.svc.CreateInvitedUser(ctx, fx.createInput(used, "used@example.com"))
	require.NoError(t, err)
	sentBefore := fx.notifier.count()

	res, err := fx.svc.Resend(ctx, ResendInput{InvitationID: used.Invitation.ID, Role: models.RoleTenant})
	require.NoError(t, err)
	require.False(t, res.EmailSent)
	require.Equal(t, sentBefore, fx.notifier.count())

	stored := fx.reload(t, used.Invitation)
	require.True(t, stored.IsUsed)
	require.Equal(t, models.InvitationStatusAccepted, stored.Status)

	validation, err := fx.svc.ValidateToken(ctx, used.Invitation.LinkToken, "used@example.com")
	require.NoError(t, err)
	require.False(t, validation.Valid)

	_, err = fx.svc.LinkExistingUser(ctx, fx.linkInput(used, "used@example.com"))
	require.ErrorIs(t, err, ErrInvitationAlreadyUsed)
}

func TestResendReportsNotifierFailure(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	issued := fx.issue(t, "bounce@example.com", models.RoleServiceProvider)

	fx.notifier.err = errors.New("smtp: 554 rejected")
	fx.now = fx.now.Add(time.Hour)
	res, err := fx.svc.Resend(ctx, ResendInput{InvitationID: issued.Invitation.ID, Role: models.RoleServiceProvider, RequestedBy: fx.owner.ID})
	require.NoError(t, err)
	require.False(t, res.EmailSent)
	require.Equal(t, ErrEmailDeliveryFailed.Message, res.EmailError)

	stored := fx.reload(t, issued.Invitation)
	require.True(t, stored.ExpiresAt.Equal(fx.now.Add(7*24*time.Hour)), "extension survives the failed email")

	fx.notifier.err = mail.ErrSMTPDisabled
	res, err = fx.svc.Resend(ctx, ResendInput{InvitationID: issued.Invitation.ID, Role: models.RoleServiceProvider})
	require.NoError(t, err)
	require.False(t, res.EmailSent)
	require.Empty(t, res.EmailError)
}

func TestResendErrors(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	issued := fx.issue(t, "x@example.com", models.RoleTenant)

	_, err := fx.svc.Resend(ctx, ResendInput{InvitationID: issued.Invitation.ID, Role: models.RoleServiceProvider})
	require.ErrorIs(t, err, ErrInvitationNotFound)

	_, err = fx.svc.Resend(ctx, ResendInput{InvitationID: issued.Invitation.ID, Role: "nope"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = fx.svc.Resend(ctx, ResendInput{Role: models.RoleTenant})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	stranger := fx.existingAccount(t, "stranger@example.com")
	_, err = fx.svc.Resend(ctx, ResendInput{InvitationID: issued.Invitation.ID, Role: models.RoleTenant, RequestedBy: stranger.ID})
	require.ErrorIs(t, err, ErrNotPropertyOwner)
}

func TestIssueCreatesLinkAndNotifies(t *testing.T) {
	fx := newInvitationFixture(t)

	issued := fx.issue(t, "  New.Tenant@Example.com ", models.RoleTenant)
	require.Equal(t, "new.tenant@example.com", issued.Invitation.Email)
	require.Equal(t, models.InvitationStatusPending, issued.Invitation.Status)
	require.True(t, issued.Invitation.ExpiresAt.Equal(fx.now.Add(7*24*time.Hour)))
	require.True(t, issued.EmailSent)
	require.Len(t, issued.Invitation.LinkToken, 43)

	link, err := url.Parse(issued.Link)
	require.NoError(t, err)
	require.Equal(t, "app.example.com", link.Host)
	require.Equal(t, issued.Invitation.LinkToken, link.Query().Get("token"))
	require.Equal(t, "new.tenant@example.com", link.Query().Get("email"))
	require.Equal(t, "tenant", link.Query().Get("type"))

	require.Equal(t, 1, fx.notifier.count())
	notice := fx.notifier.notices[0]
	require.Equal(t, "Harbour View", notice.PropertyName)
	require.Equal(t, issued.Link, notice.Link)
	require.Equal(t, models.RoleTenant, notice.Role)

	second := fx.issue(t, "new.tenant@example.com", models.RoleServiceProvider)
	require.NotEqual(t, issued.Invitation.LinkToken, second.Invitation.LinkToken)
}

func TestIssueSurvivesNotifierFailure(t *testing.T) {
	fx := newInvitationFixture(t)
	fx.notifier.err = errors.New("relay down")

	issued := fx.issue(t, "offline@example.com", models.RoleTenant)
	require.False(t, issued.EmailSent)
	require.NotEmpty(t, issued.EmailError)

	validation, err := fx.svc.ValidateToken(context.Background(), issued.Invitation.LinkToken, "offline@example.com")
	require.NoError(t, err)
	require.True(t, validation.Valid)
}

func TestIssueRequiresOwnership(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	stranger := fx.existingAccount(t, "stranger@example.com")

	_, err := fx.svc.Issue(ctx, IssueInput{PropertyID: fx.property.ID, Email: "a@example.com", Role: models.RoleTenant, IssuedBy: stranger.ID})
	require.ErrorIs(t, err, ErrNotPropertyOwner)

	_, err = fx.svc.Issue(ctx, IssueInput{PropertyID: "missing", Email: "a@example.com", Role: models.RoleTenant, IssuedBy: fx.owner.ID})
	require.ErrorIs(t, err, ErrPropertyNotFound)

	_, err = fx.svc.Issue(ctx, IssueInput{PropertyID: fx.property.ID, Email: "a@example.com", Role: models.RoleTenant})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = fx.svc.Issue(ctx, IssueInput{PropertyID: fx.property.ID, Role: models.RoleTenant, IssuedBy: fx.owner.ID})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestLinkReturnsShareableLink(t *testing.T) {
	fx := newInvitationFixture(t, WithInvitationBaseURL(""))
	ctx := context.Background()
	issued := fx.issue(t, "share@example.com", models.RoleServiceProvider)

	link, err := fx.svc.Link(ctx, issued.Invitation.ID, models.RoleServiceProvider, fx.owner.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link.Link, "/invite/accept?"))
	require.Contains(t, link.Link, "token="+issued.Invitation.LinkToken)
	require.Equal(t, issued.Invitation.ID, link.Invitation.ID)

	stranger := fx.existingAccount(t, "stranger@example.com")
	_, err = fx.svc.Link(ctx, issued.Invitation.ID, models.RoleServiceProvider, stranger.ID)
	require.ErrorIs(t, err, ErrNotPropertyOwner)

	_, err = fx.svc.Link(ctx, issued.Invitation.ID, models.RoleTenant, fx.owner.ID)
	require.ErrorIs(t, err, ErrInvitationNotFound)
}

func TestUniqueTokenRetriesOnCollision(t *testing.T) {
	fx := newInvitationFixture(t, WithInvitationTokenSize(1))
	ctx := context.Background()

	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		issued := fx.issue(t, "collide@example.com", models.RoleKinds()[i%2])
		_, dup := seen[issued.Invitation.LinkToken]
		require.False(t, dup, "token %q issued twice", issued.Invitation.LinkToken)
		seen[issued.Invitation.LinkToken] = struct{}{}
	}

	exists, err := fx.svc.bindings.All()[0].Invitations.TokenExists(ctx, "never-issued")
	require.NoError(t, err)
	require.False(t, exists)
}

// withAudit rebuilds the fixture service with an audit log on the fixture database.
func (fx *invitationFixture) withAudit(t *testing.T) *AuditService {
	t.Helper()
	audit, err := NewAuditService(fx.db)
	require.NoError(t, err)
	fx.svc = fx.newService(t, fx.provider, fx.profiles,
		WithInvitationClock(func() time.Time { return fx.now }),
		WithInvitationBaseURL("https://app.example.com/invite/accept"),
		WithAuditLog(audit),
	)
	return audit
}

func TestInvitationFlowsWriteAuditTrail(t *testing.T) {
	fx := newInvitationFixture(t)
	audit := fx.withAudit(t)
	ctx := context.Background()

	issued := fx.issue(t, "tenant@example.com", models.RoleTenant)
	_, err := fx.svc.Resend(ctx, ResendInput{InvitationID: issued.Invitation.ID, Role: models.RoleTenant, RequestedBy: fx.owner.ID})
	require.NoError(t, err)

	result, err := fx.svc.CreateInvitedUser(ctx, fx.createInput(issued, "tenant@example.com"))
	require.NoError(t, err)

	_, err = fx.svc.CreateInvitedUser(ctx, fx.createInput(issued, "tenant@example.com"))
	require.ErrorIs(t, err, ErrInvitationAlreadyUsed)

	// Malformed requests leave no trace.
	_, err = fx.svc.CreateInvitedUser(ctx, CreateInvitedUserInput{Role: models.RoleTenant})
	require.Error(t, err)

	logs, err := audit.List(ctx, AuditFilters{PropertyID: fx.property.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 4)

	byAction := map[string][]models.AuditLog{}
	for _, entry := range logs {
		byAction[entry.Action] = append(byAction[entry.Action], entry)
	}
	require.Len(t, byAction[AuditInvitationIssue], 1)
	require.Equal(t, fx.owner.ID, *byAction[AuditInvitationIssue][0].ActorID)
	require.Len(t, byAction[AuditInvitationResend], 1)

	redemptions := byAction[AuditInvitationCreateUser]
	require.Len(t, redemptions, 2)
	results := []string{redemptions[0].Result, redemptions[1].Result}
	require.ElementsMatch(t, []string{AuditResultSuccess, ErrInvitationAlreadyUsed.Code}, results)
	for _, entry := range redemptions {
		if entry.Result == AuditResultSuccess {
			require.Equal(t, result.UserID, *entry.ActorID)
			require.Equal(t, "tenant_invitation:"+issued.Invitation.ID, entry.Resource)
		}
	}
}

func TestActivityWithoutAuditLogIsEmpty(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	fx.issue(t, "tenant@example.com", models.RoleTenant)

	logs, err := fx.svc.Activity(ctx, ActivityInput{PropertyID: fx.property.ID, RequestedBy: fx.owner.ID})
	require.NoError(t, err)
	require.Empty(t, logs)

	_, err = fx.svc.Activity(ctx, ActivityInput{PropertyID: fx.property.ID, RequestedBy: "someone-else"})
	require.ErrorIs(t, err, ErrNotPropertyOwner)

	_, err = fx.svc.Activity(ctx, ActivityInput{PropertyID: "missing", RequestedBy: fx.owner.ID})
	require.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestResendOfUsedInvitationIsAudited(t *testing.T) {
	fx := newInvitationFixture(t)
	audit := fx.withAudit(t)
	ctx := context.Background()

	used := fx.issue(t, "used@example.com", models.RoleTenant)
	_, err := fx.svc.CreateInvitedUser(ctx, fx.createInput(used, "used@example.com"))
	require.NoError(t, err)

	res, err := fx.svc.Resend(ctx, ResendInput{InvitationID: used.Invitation.ID, Role: models.RoleTenant, RequestedBy: fx.owner.ID})
	require.NoError(t, err)
	require.False(t, res.EmailSent)

	logs, err := audit.List(ctx, AuditFilters{Action: AuditInvitationResend})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, fx.owner.ID, *logs[0].ActorID)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Metadata, &metadata))
	require.Equal(t, false, metadata["email_sent"])
	require.Equal(t, true, metadata["consumed"])
	require.NotEmpty(t, metadata["expires_at"])
}

func TestCreateInvitedUserConcurrentRedemptionCreatesOneAccount(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	issued := fx.issue(t, "rush@example.com", models.RoleTenant)

	const attempts = 6
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		winners    []string
		registered int
		used       int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fx.svc.CreateInvitedUser(ctx, fx.createInput(issued, "rush@example.com"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, res.UserID)
			case errors.Is(err, ErrAlreadyRegistered):
				registered++
			case errors.Is(err, ErrInvitationAlreadyUsed):
				used++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Equal(t, attempts-1, registered+used)

	var identities int64
	require.NoError(t, fx.db.Model(&models.Identity{}).Where("email = ?", "rush@example.com").Count(&identities).Error)
	require.EqualValues(t, 1, identities)
	require.EqualValues(t, 1, fx.linkCount(t, models.RoleTenant, fx.property.ID, winners[0]))

	stored := fx.reload(t, issued.Invitation)
	require.True(t, stored.IsUsed)
	require.Equal(t, winners[0], *stored.AcceptedByUserID)
}

func TestCreateAndLinkRacingOnOneToken(t *testing.T) {
	fx := newInvitationFixture(t)
	ctx := context.Background()
	issued := fx.issue(t, "split@example.com", models.RoleTenant)

	const perFlow = 3
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyRegistered),
			errors.Is(err, ErrInvitationAlreadyUsed),
			errors.Is(err, ErrNoAccount):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	for i := 0; i < perFlow; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := fx.svc.CreateInvitedUser(ctx, fx.createInput(issued, "split@example.com"))
			record(err)
		}()
		go func() {
			defer wg.Done()
			_, err := fx.svc.LinkExistingUser(ctx, fx.linkInput(issued, "split@example.com"))
			record(err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)

	var account models.Identity
	require.NoError(t, fx.db.Where("email = ?", "split@example.com").Take(&account).Error)

	stored := fx.reload(t, issued.Invitation)
	require.True(t, stored.IsUsed)
	require.Equal(t, account.ID, *stored.AcceptedByUserID)
	require.EqualValues(t, 1, fx.linkCount(t, models.RoleTenant, fx.property.ID, account.ID))
}
