package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// InvitationStatus tracks the lifecycle of an invitation. Accepted is terminal.
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
)

// Invitation is a single-use, expiring token binding an email, a role and a
// property. Rows live in one table per role kind; Role is filled in on read.
type Invitation struct {
	BaseModel

	Email            string           `gorm:"not null;index" json:"email"`
	PropertyID       string           `gorm:"type:uuid;not null;index" json:"property_id"`
	LinkToken        string           `gorm:"not null;uniqueIndex" json:"-"`
	Status           InvitationStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	IsUsed           bool             `gorm:"not null;default:false" json:"is_used"`
	InvitedBy        *string          `gorm:"type:uuid" json:"invited_by,omitempty"`
	ExpiresAt        time.Time        `gorm:"not null;index" json:"expires_at"`
	AcceptedAt       *time.Time       `json:"accepted_at,omitempty"`
	AcceptedByUserID *string          `gorm:"type:uuid;index" json:"accepted_by_user_id,omitempty"`

	Role RoleKind `gorm:"-" json:"role"`
}

// BeforeSave normalises the email and enforces required columns.
func (i *Invitation) BeforeSave(tx *gorm.DB) error {
	i.Email = NormalizeEmail(i.Email)
	if i.Email == "" {
		return errors.New("invitation: email is required")
	}
	i.PropertyID = strings.TrimSpace(i.PropertyID)
	if i.PropertyID == "" {
		return errors.New("invitation: property_id is required")
	}
	if strings.TrimSpace(i.LinkToken) == "" {
		return errors.New("invitation: link_token is required")
	}
	if i.Status == "" {
		i.Status = InvitationStatusPending
	}
	return nil
}

// Redeemable reports whether the invitation can still be consumed at now.
func (i *Invitation) Redeemable(now time.Time) bool {
	return !i.IsUsed && i.Status == InvitationStatusPending && now.Before(i.ExpiresAt)
}

// Expired reports whether the invitation expiry has passed at now.
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// TenantInvitation is the migration shape of the tenant invitation table.
// Queries use Invitation with an explicit table name.
type TenantInvitation struct {
	Invitation
}

func (TenantInvitation) TableName() string { return "tenant_invitations" }

// ServiceProviderInvitation is the migration shape of the service provider invitation table.
type ServiceProviderInvitation struct {
	Invitation
}

func (ServiceProviderInvitation) TableName() string { return "service_provider_invitations" }
