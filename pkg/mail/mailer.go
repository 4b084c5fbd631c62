package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	simplemail "github.com/xhit/go-simple-mail/v2"
)

// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// Message represents an outbound email. HTMLBody is sent as an alternative part when set.
type Message struct {
	From     string
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Encryption modes accepted by SMTPSettings.
const (
	EncryptionNone     = "none"
	EncryptionSSLTLS   = "ssl"
	EncryptionSTARTTLS = "starttls"
)

// SMTPSettings capture the runtime configuration required by the SMTP mailer.
type SMTPSettings struct {
	Enabled            bool
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	Encryption         string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

type (
	connectFunc func(server *simplemail.SMTPServer) (*simplemail.SMTPClient, error)
	sendFunc    func(email *simplemail.Email, client *simplemail.SMTPClient) error
)

type smtpMailer struct {
	cfg       SMTPSettings
	connectFn connectFunc
	sendFn    sendFunc
}

// NewSMTPMailer validates cfg and returns a Mailer backed by go-simple-mail.
// A disabled configuration yields a mailer whose Send returns ErrSMTPDisabled.
func NewSMTPMailer(cfg SMTPSettings) (Mailer, error) {
	if err := validateSMTPConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.Encryption) == "" {
		cfg.Encryption = EncryptionSTARTTLS
	}
	return &smtpMailer{
		cfg:       cfg,
		connectFn: defaultConnect,
		sendFn:    defaultSend,
	}, nil
}

func (m *smtpMailer) Send(ctx context.Context, msg Message) error {
	if !m.cfg.Enabled {
		return ErrSMTPDisabled
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	recipients := uniqueAddresses(msg.To)
	if len(recipients) == 0 {
		return errors.New("smtp: at least one recipient is required")
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = m.cfg.From
	}
	if from == "" {
		return errors.New("smtp: sender address is required")
	}
	if _, err := netmail.ParseAddress(from); err != nil {
		return fmt.Errorf("smtp: invalid from address: %w", err)
	}
	for _, rcpt := range recipients {
		if _, err := netmail.ParseAddress(rcpt); err != nil {
			return fmt.Errorf("smtp: invalid recipient address %q: %w", rcpt, err)
		}
	}

	email := buildEmail(from, recipients, msg)
	if email.Error != nil {
		return fmt.Errorf("smtp: build message: %w", email.Error)
	}

	client, err := m.connectFn(m.server())
	if err != nil {
		return fmt.Errorf("smtp: connect %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	if client != nil {
		defer client.Close()
	}

	if err := m.sendFn(email, client); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return nil
}

func (m *smtpMailer) server() *simplemail.SMTPServer {
	server := simplemail.NewSMTPClient()
	server.Host = m.cfg.Host
	server.Port = m.cfg.Port
	server.Username = m.cfg.Username
	server.Password = m.cfg.Password
	server.Encryption = encryptionFor(m.cfg.Encryption)
	server.TLSConfig = &tls.Config{
		ServerName:         m.cfg.Host,
		InsecureSkipVerify: m.cfg.InsecureSkipVerify, //nolint:gosec // opt-in for local relays
	}
	server.ConnectTimeout = m.cfg.Timeout
	server.SendTimeout = m.cfg.Timeout
	server.KeepAlive = false
	return server
}

func buildEmail(from string, to []string, msg Message) *simplemail.Email {
	email := simplemail.NewMSG()
	email.SetFrom(from).AddTo(to...).SetSubject(escapeHeader(msg.Subject))

	switch {
	case msg.Body != "" && msg.HTMLBody != "":
		email.SetBody(simplemail.TextPlain, msg.Body)
		email.AddAlternative(simplemail.TextHTML, msg.HTMLBody)
	case msg.HTMLBody != "":
		email.SetBody(simplemail.TextHTML, msg.HTMLBody)
	default:
		email.SetBody(simplemail.TextPlain, msg.Body)
	}
	return email
}

func encryptionFor(mode string) simplemail.Encryption {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case EncryptionNone:
		return simplemail.EncryptionNone
	case EncryptionSSLTLS, "tls":
		return simplemail.EncryptionSSLTLS
	default:
		return simplemail.EncryptionSTARTTLS
	}
}

func defaultConnect(server *simplemail.SMTPServer) (*simplemail.SMTPClient, error) {
	return server.Connect()
}

func defaultSend(email *simplemail.Email, client *simplemail.SMTPClient) error {
	return email.Send(client)
}

func validateSMTPConfig(cfg SMTPSettings) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return errors.New("smtp: host is required when enabled")
	}
	if cfg.Port == 0 {
		return errors.New("smtp: port is required when enabled")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Encryption)) {
	case "", EncryptionNone, EncryptionSSLTLS, "tls", EncryptionSTARTTLS:
	default:
		return fmt.Errorf("smtp: unsupported encryption %q", cfg.Encryption)
	}
	return nil
}

func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, addr)
	}
	return result
}

func escapeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return value
}
