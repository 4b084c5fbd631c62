package services

import (
	"net/http"

	"github.com/charlesng35/leasehub/internal/database"
	apperrors "github.com/charlesng35/leasehub/pkg/errors"
)

var (
	// ErrInvitationInvalidOrExpired covers unknown tokens, email or property
	// mismatches and expired invitations. The invitee needs a new invitation.
	ErrInvitationInvalidOrExpired = apperrors.NewKind(apperrors.KindInvitation, "INVALID_OR_EXPIRED",
		"This invitation link is invalid or has expired. Ask the property owner for a new invitation.", http.StatusGone)
	// ErrInvitationAlreadyUsed indicates the invitation was consumed already.
	ErrInvitationAlreadyUsed = apperrors.NewKind(apperrors.KindInvitation, "INVITATION_ALREADY_USED",
		"This invitation has already been used.", http.StatusConflict)
	// ErrAlreadyRegistered tells the caller to switch to the linking flow.
	ErrAlreadyRegistered = apperrors.NewKind(apperrors.KindIdentityConflict, "ALREADY_REGISTERED",
		"An account with this email already exists. Sign in to accept the invitation.", http.StatusConflict).
		WithDetails(map[string]any{"userExists": true, "requiresLinking": true})
	// ErrNoAccount tells the caller to switch to the account creation flow.
	ErrNoAccount = apperrors.NewKind(apperrors.KindNotFound, "NO_ACCOUNT",
		"No account exists for this email. Create an account to accept the invitation.", http.StatusNotFound).
		WithDetails(map[string]any{"requiresSignup": true})
	// ErrEmailMismatch indicates the resolved account belongs to another email.
	ErrEmailMismatch = apperrors.NewKind(apperrors.KindNotFound, "EMAIL_MISMATCH",
		"The signed-in account does not match the invited email address.", http.StatusForbidden)
	// ErrInvitationNotFound is returned by issuer operations addressing an invitation by id.
	ErrInvitationNotFound = apperrors.NewKind(apperrors.KindNotFound, "INVITATION_NOT_FOUND",
		"Invitation not found", http.StatusNotFound)
	// ErrPropertyNotFound is returned when the property does not exist.
	ErrPropertyNotFound = apperrors.NewKind(apperrors.KindNotFound, "PROPERTY_NOT_FOUND",
		"Property not found", http.StatusNotFound)
	// ErrNotPropertyOwner is returned when the caller does not own the property.
	ErrNotPropertyOwner = apperrors.NewKind(apperrors.KindAuth, "NOT_PROPERTY_OWNER",
		"Only the property owner can manage its invitations", http.StatusForbidden)
	// ErrEmailDeliveryFailed is reported alongside a successful result when the
	// notifier fails. It never fails the parent operation.
	ErrEmailDeliveryFailed = apperrors.NewKind(apperrors.KindDownstream, "EMAIL_DELIVERY_FAILED",
		"The invitation email could not be delivered. Share the invitation link manually.", http.StatusBadGateway)
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	return database.IsUniqueConstraintError(err)
}
