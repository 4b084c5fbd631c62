package app

import (
	"time"

	"github.com/charlesng35/leasehub/internal/services"
)

// ServiceOptions converts InvitationConfig into InvitationService options.
// Zero values keep the service defaults.
func (c InvitationConfig) ServiceOptions(clock func() time.Time) []services.InvitationOption {
	opts := []services.InvitationOption{
		services.WithInvitationBaseURL(c.BaseURL),
		services.WithInvitationExpiry(c.Expiry),
		services.WithResendExtension(c.ResendExtension),
		services.WithInvitationTokenSize(c.TokenBytes),
		services.WithPasswordMinLength(c.PasswordMinLength),
	}
	if clock != nil {
		opts = append(opts, services.WithInvitationClock(clock))
	}
	return opts
}
