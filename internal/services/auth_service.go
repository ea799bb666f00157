package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"cloudloader/internal/config"
)

const tokenIssuer = "cloudloader"

// ErrInvalidCredentials is returned for any rejected operator credential.
var ErrInvalidCredentials = errors.New("invalid credentials")

// OperatorPrincipal identifies an authenticated operator.
type OperatorPrincipal struct {
	Subject string
	Method  string
}

// AuthService checks operator credentials and issues session tokens
type AuthService struct {
	passwordHash []byte
	apiToken     string
	jwtSecret    []byte
	ttl          time.Duration
	now          func() time.Time
}

// NewAuthService creates the operator auth service from admin config.
func NewAuthService(cfg config.AdminConfig) *AuthService {
	return &AuthService{
		passwordHash: []byte(cfg.PasswordHash),
		apiToken:     cfg.APIToken,
		jwtSecret:    []byte(cfg.JWTSecret),
		ttl:          cfg.TokenTTL,
		now:          time.Now,
	}
}

// Enabled reports whether any operator credential is configured.
func (s *AuthService) Enabled() bool {
	return len(s.passwordHash) > 0 || s.apiToken != ""
}

// Login exchanges the operator password for a signed token.
func (s *AuthService) Login(ctx context.Context, password string) (string, time.Time, error) {
	if len(s.passwordHash) == 0 || len(s.jwtSecret) == 0 {
		return "", time.Time{}, ErrLoginDisabled
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidPassword
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   "operator",
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Authenticate accepts either the static API token or a session token.
func (s *AuthService) Authenticate(ctx context.Context, credential string) (*OperatorPrincipal, error) {
	if credential == "" {
		return nil, ErrInvalidCredentials
	}
	if s.apiToken != "" && subtle.ConstantTimeCompare([]byte(credential), []byte(s.apiToken)) == 1 {
		return &OperatorPrincipal{Subject: "operator", Method: "api_token"}, nil
	}
	if len(s.jwtSecret) == 0 {
		return nil, ErrInvalidCredentials
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return &OperatorPrincipal{Subject: claims.Subject, Method: "jwt"}, nil
}

// HashPassword returns a bcrypt hash suitable for security.admin.password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
