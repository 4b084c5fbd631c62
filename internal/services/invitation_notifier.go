package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/charlesng35/leasehub/internal/models"
	"github.com/charlesng35/leasehub/pkg/mail"
)

var invitationHTML = template.Must(template.New("invitation").Parse(
	`<p>Hello,</p><p>You have been invited to join <strong>{{.Property}}</strong> as a {{.Role}} on {{.App}}.</p>` +
		`<p><a href="{{.Link}}">Accept your invitation</a></p>` +
		`<p>The link expires on {{.Expires}}. If you did not expect this email, you can ignore it.</p>`))

// InvitationNotice carries what an invitee needs to accept an invitation.
type InvitationNotice struct {
	Email        string
	Role         models.RoleKind
	PropertyID   string
	PropertyName string
	Link         string
	ExpiresAt    time.Time
}

// InvitationNotifier delivers invitation notices. Implementations may return
// mail.ErrSMTPDisabled to signal delivery is switched off.
type InvitationNotifier interface {
	NotifyInvitation(ctx context.Context, notice InvitationNotice) error
}

// MailInvitationNotifier sends invitation notices through a mail.Mailer.
type MailInvitationNotifier struct {
	mailer  mail.Mailer
	appName string
}

// NewMailInvitationNotifier constructs a notifier using mailer.
func NewMailInvitationNotifier(mailer mail.Mailer, appName string) (*MailInvitationNotifier, error) {
	if mailer == nil {
		return nil, errors.New("invitation notifier: mailer is required")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		appName = "LeaseHub"
	}
	return &MailInvitationNotifier{mailer: mailer, appName: appName}, nil
}

// NotifyInvitation emails the invitation link to the invitee.
func (n *MailInvitationNotifier) NotifyInvitation(ctx context.Context, notice InvitationNotice) error {
	htmlBody, err := n.htmlBody(notice)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("You're invited to join %s on %s", propertyLabel(notice), n.appName)
	return n.mailer.Send(ctx, mail.Message{
		To:       []string{notice.Email},
		Subject:  subject,
		Body:     n.textBody(notice),
		HTMLBody: htmlBody,
	})
}

func (n *MailInvitationNotifier) textBody(notice InvitationNotice) string {
	return fmt.Sprintf("Hello,\n\nYou have been invited to join %s as a %s on %s. Use the following link to accept your invitation:\n%s\n\nThe link expires on %s. If you did not expect this email, you can ignore it.\n",
		propertyLabel(notice), roleLabel(notice.Role), n.appName, notice.Link, notice.ExpiresAt.UTC().Format("2 January 2006"))
}

func (n *MailInvitationNotifier) htmlBody(notice InvitationNotice) (string, error) {
	var buf bytes.Buffer
	err := invitationHTML.Execute(&buf, struct {
		Property string
		Role     string
		App      string
		Link     string
		Expires  string
	}{
		Property: propertyLabel(notice),
		Role:     roleLabel(notice.Role),
		App:      n.appName,
		Link:     notice.Link,
		Expires:  notice.ExpiresAt.UTC().Format("2 January 2006"),
	})
	if err != nil {
		return "", fmt.Errorf("invitation notifier: render html: %w", err)
	}
	return buf.String(), nil
}

func propertyLabel(notice InvitationNotice) string {
	if name := strings.TrimSpace(notice.PropertyName); name != "" {
		return name
	}
	return "a property"
}

func roleLabel(role models.RoleKind) string {
	if role == models.RoleServiceProvider {
		return "service provider"
	}
	return "tenant"
}
