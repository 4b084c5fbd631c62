package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charlesng35/leasehub/internal/identity"
	"github.com/charlesng35/leasehub/internal/models"
	apperrors "github.com/charlesng35/leasehub/pkg/errors"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = apperrors.NewKind(apperrors.KindAuth, "INVALID_CREDENTIALS",
	"Invalid email or password", http.StatusUnauthorized)

// Authenticator verifies an email and password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*models.Identity, error)
}

// LoginResult is returned to a client that signed in.
type LoginResult struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// LoginService exchanges credentials for an access token.
type LoginService struct {
	authenticator Authenticator
	tokens        *JWTService
}

// NewLoginService constructs a LoginService.
func NewLoginService(authenticator Authenticator, tokens *JWTService) (*LoginService, error) {
	if authenticator == nil {
		return nil, errors.New("login: authenticator is required")
	}
	if tokens == nil {
		return nil, errors.New("login: jwt service is required")
	}
	return &LoginService{authenticator: authenticator, tokens: tokens}, nil
}

// Login authenticates the credentials and issues an access token.
func (s *LoginService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperrors.NewBadRequest("email and password are required")
	}

	ident, err := s.authenticator.Authenticate(ctx, email, password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("login: authenticate: %w", err)
	}

	token, err := s.tokens.GenerateAccessToken(AccessTokenInput{
		UserID: ident.ID,
		Email:  ident.Email,
		Role:   ident.Role,
	})
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
		UserID:      ident.ID,
		Email:       ident.Email,
		Role:        ident.Role,
	}, nil
}
