package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/leasehub/internal/api"
	"github.com/charlesng35/leasehub/internal/app"
	iauth "github.com/charlesng35/leasehub/internal/auth"
	sharedtestutil "github.com/charlesng35/leasehub/internal/database/testutil"
	"github.com/charlesng35/leasehub/internal/handlers"
	"github.com/charlesng35/leasehub/internal/identity"
	"github.com/charlesng35/leasehub/internal/middleware"
	"github.com/charlesng35/leasehub/internal/models"
	"github.com/charlesng35/leasehub/internal/services"
	"github.com/charlesng35/leasehub/pkg/response"
)

// DefaultPassword satisfies the password policy used by the test environment.
const DefaultPassword = "Sup3r-Secret-Passw0rd"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T           *testing.T
	DB          *gorm.DB
	Router      *gin.Engine
	JWT         *iauth.JWTService
	Identities  *identity.LocalProvider
	Profiles    *identity.ProfileStore
	Invitations *services.InvitationService
	Audit       *services.AuditService
	Notifier    *RecordingNotifier

	mu  sync.Mutex
	now time.Time
}

// Option tweaks the environment before the router is built.
type Option func(*envConfig)

type envConfig struct {
	cfg    *app.Config
	checks []handlers.HealthCheck
}

// WithRateLimit throttles the public invitation endpoint.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(c *envConfig) {
		c.cfg.Server.RateLimit = app.RateLimitConfig{Requests: requests, Window: window}
	}
}

// WithHealthChecks registers extra health probes.
func WithHealthChecks(checks ...handlers.HealthCheck) Option {
	return func(c *envConfig) {
		c.checks = append(c.checks, checks...)
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	conf := &envConfig{cfg: &app.Config{
		Server: app.ServerConfig{Port: 8000},
		Auth: app.AuthConfig{JWT: app.JWTSettings{
			Secret: "test-suite-super-secret-key-32-bytes!!",
			Issuer: "test-suite",
			TTL:    time.Hour,
		}},
		Invitations: app.InvitationConfig{
			BaseURL:           "https://app.example.com/invite/accept",
			Expiry:            7 * 24 * time.Hour,
			ResendExtension:   7 * 24 * time.Hour,
			PasswordMinLength: 8,
		},
	}}
	for _, opt := range opts {
		opt(conf)
	}

	env := &Env{
		T:        t,
		DB:       db,
		Notifier: &RecordingNotifier{},
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	jwtSvc, err := iauth.NewJWTService(conf.cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)
	env.JWT = jwtSvc

	env.Identities, err = identity.NewLocalProvider(db)
	require.NoError(t, err)
	env.Profiles, err = identity.NewProfileStore(db)
	require.NoError(t, err)

	env.Audit, err = services.NewAuditService(db)
	require.NoError(t, err)

	invitationOpts := append(conf.cfg.Invitations.ServiceOptions(env.Now), services.WithAuditLog(env.Audit))
	env.Invitations, err = services.NewInvitationService(db, env.Identities, env.Profiles, env.Notifier, invitationOpts...)
	require.NoError(t, err)

	logins, err := iauth.NewLoginService(env.Identities, jwtSvc)
	require.NoError(t, err)

	rateStore := middleware.NewMemoryRateStore(time.Minute)
	t.Cleanup(rateStore.Close)

	router, err := api.NewRouter(conf.cfg, api.Dependencies{
		JWT:          jwtSvc,
		Logins:       logins,
		Invitations:  env.Invitations,
		RateStore:    rateStore,
		HealthChecks: conf.checks,
	})
	require.NoError(t, err)
	env.Router = router

	return env
}

// Now is the clock the invitation service runs on.
func (e *Env) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// Advance moves the invitation clock forward.
func (e *Env) Advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

// CreateIdentity registers an account with DefaultPassword.
func (e *Env) CreateIdentity(email, role string) *models.Identity {
	e.T.Helper()

	ident, err := e.Identities.Create(context.Background(), identity.CreateInput{
		Email:     email,
		Password:  DefaultPassword,
		FirstName: "Test",
		LastName:  "User",
		Role:      role,
	})
	require.NoError(e.T, err)
	return ident
}

// CreateOwner registers a property owner and a property they own.
func (e *Env) CreateOwner(email string) (*models.Identity, *models.Property) {
	e.T.Helper()

	owner := e.CreateIdentity(email, models.IdentityRoleOwner)
	property := &models.Property{OwnerID: owner.ID, Name: "Maple Court", Address: "1 Maple Court"}
	require.NoError(e.T, e.DB.Create(property).Error)
	return owner, property
}

// TokenFor mints an access token for ident without going through login.
func (e *Env) TokenFor(ident *models.Identity) string {
	e.T.Helper()

	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: ident.ID,
		Email:  ident.Email,
		Role:   ident.Role,
	})
	require.NoError(e.T, err)
	return token
}

// IssuedInvitation captures what an invitee receives.
type IssuedInvitation struct {
	ID    string
	Token string
	Link  string
}

// Issue creates an invitation through the API and extracts its token from the link.
func (e *Env) Issue(ownerToken, propertyID, email string, role models.RoleKind) IssuedInvitation {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/properties/"+propertyID+"/invitations",
		map[string]string{"email": email, "role": string(role)}, ownerToken)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var result struct {
		Invitation struct {
			ID string `json:"id"`
		} `json:"invitation"`
		Link string `json:"link"`
	}
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)

	parsed, err := url.Parse(result.Link)
	require.NoError(e.T, err)
	token := parsed.Query().Get("token")
	require.NotEmpty(e.T, token)

	return IssuedInvitation{ID: result.Invitation.ID, Token: token, Link: result.Link}
}

// Action posts to the invitation actions endpoint.
func (e *Env) Action(body map[string]any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.Request(http.MethodPost, "/api/invitations/actions", body, token)
}

// LinkCount returns how many links the role's table holds for a property and user.
func (e *Env) LinkCount(role models.RoleKind, propertyID, userID string) int64 {
	e.T.Helper()

	table := models.PropertyTenant{}.TableName()
	if role == models.RoleServiceProvider {
		table = models.PropertyServiceProvider{}.TableName()
	}
	var count int64
	require.NoError(e.T, e.DB.Table(table).
		Where("property_id = ? AND subject_id = ?", propertyID, userID).
		Count(&count).Error)
	return count
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// ErrorCode returns the error code of a failed response.
func ErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success, w.Body.String())
	require.NotNil(t, resp.Error, w.Body.String())
	return resp.Error.Code
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// RecordingNotifier captures invitation notices instead of sending email.
type RecordingNotifier struct {
	mu      sync.Mutex
	notices []services.InvitationNotice
	err     error
}

// NotifyInvitation records notice and returns the configured error.
func (n *RecordingNotifier) NotifyInvitation(_ context.Context, notice services.InvitationNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

// FailWith makes later deliveries return err.
func (n *RecordingNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notices returns the recorded notices.
func (n *RecordingNotifier) Notices() []services.InvitationNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]services.InvitationNotice(nil), n.notices...)
}
