package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/leasehub/internal/app"
	iauth "github.com/charlesng35/leasehub/internal/auth"
	"github.com/charlesng35/leasehub/internal/database/testutil"
	"github.com/charlesng35/leasehub/internal/identity"
	"github.com/charlesng35/leasehub/internal/middleware"
	"github.com/charlesng35/leasehub/internal/services"
)

type nopNotifier struct{}

func (nopNotifier) NotifyInvitation(_ context.Context, _ services.InvitationNotice) error { return nil }

func newTestDependencies(t *testing.T) Dependencies {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-secret", Issuer: "test", AccessTokenTTL: 15 * time.Minute})
	require.NoError(t, err)

	provider, err := identity.NewLocalProvider(db)
	require.NoError(t, err)
	profiles, err := identity.NewProfileStore(db)
	require.NoError(t, err)

	invitations, err := services.NewInvitationService(db, provider, profiles, nopNotifier{})
	require.NoError(t, err)
	logins, err := iauth.NewLoginService(provider, jwtSvc)
	require.NoError(t, err)

	return Dependencies{JWT: jwtSvc, Logins: logins, Invitations: invitations}
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Origin", "https://app.example.com")
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := &app.Config{Server: app.ServerConfig{CORSOrigins: []string{"https://app.example.com"}}}
	router, err := NewRouter(cfg, newTestDependencies(t))
	require.NoError(t, err)

	w := serve(router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/api/auth/me").Code)
	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/api/invitations/abc/link?type=tenant").Code)
	require.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/api/properties/abc/invitations").Code)

	w = serve(router, http.MethodGet, "/api/unknown")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, err := NewRouter(&app.Config{}, newTestDependencies(t))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health").Code)

	w := serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "leasehub_api_latency_seconds"))
}

func TestRouter_ThrottlesInvitationActions(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := middleware.NewMemoryRateStore(time.Minute)
	t.Cleanup(store.Close)

	deps := newTestDependencies(t)
	deps.RateStore = store
	cfg := &app.Config{Server: app.ServerConfig{RateLimit: app.RateLimitConfig{Requests: 1, Window: time.Minute}}}
	router, err := NewRouter(cfg, deps)
	require.NoError(t, err)

	require.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/api/invitations/actions").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodPost, "/api/invitations/actions").Code)
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	deps := newTestDependencies(t)

	_, err := NewRouter(nil, deps)
	require.ErrorContains(t, err, "config")

	missingJWT := deps
	missingJWT.JWT = nil
	_, err = NewRouter(&app.Config{}, missingJWT)
	require.ErrorContains(t, err, "jwt")

	missingInvitations := deps
	missingInvitations.Invitations = nil
	_, err = NewRouter(&app.Config{}, missingInvitations)
	require.ErrorContains(t, err, "invitation")
}
