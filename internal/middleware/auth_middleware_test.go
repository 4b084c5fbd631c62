package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/leasehub/internal/auth"
	"github.com/charlesng35/leasehub/pkg/response"
)

func newTestJWT(t *testing.T) *iauth.JWTService {
	t.Helper()
	svc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "secret",
		Issuer:         "test-suite",
		AccessTokenTTL: time.Minute,
	})
	require.NoError(t, err)
	return svc
}

func serve(r http.Handler, method, path, authz string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := newTestJWT(t)

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-123", Email: "u@example.com"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/secure", Auth(jwtSvc), func(c *gin.Context) {
		claims := c.MustGet(CtxClaimsKey).(*iauth.Claims)
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(CtxUserIDKey), "email": claims.Email})
	})

	w := serve(r, http.MethodGet, "/secure", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "UNAUTHORIZED", payload.Error.Code)

	w = serve(r, http.MethodGet, "/secure", "Bearer not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	w = serve(r, http.MethodGet, "/secure", "Basic abc")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/secure", "bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "user-123", body["user_id"])
	require.Equal(t, "u@example.com", body["email"])
}

func TestOptionalAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := newTestJWT(t)

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-9"})
	require.NoError(t, err)

	r := gin.New()
	r.POST("/actions", OptionalAuth(jwtSvc), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserIDKey))
	})

	w := serve(r, http.MethodPost, "/actions", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Body.String())

	w = serve(r, http.MethodPost, "/actions", "Bearer "+token)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-9", w.Body.String())

	w = serve(r, http.MethodPost, "/actions", "Bearer expired-or-forged")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
