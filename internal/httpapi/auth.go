package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"caseclosed/backend/internal/domain"
)

const (
	RoleOperator = "operator"
	tokenIssuer  = "caseclosed"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInvalidToken       = errors.New("invalid or expired token")
)

// AuthManager guards the operator routes (simulation control and manual order
// transitions). One operator account is configured from the environment and
// its password is held only as a bcrypt hash.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	username string
	password string
	parser   *jwtlib.Parser
}

type operatorClaims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

func NewAuthManager(secret string, tokenTTL time.Duration, username string, password string) *AuthManager {
	if secret == "" {
		secret = "caseclosed-dev-secret"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	username = normalizeUsername(username)
	if username == "" {
		username = RoleOperator
	}
	if !isBcryptHash(password) {
		if hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost); err == nil {
			password = string(hashed)
		}
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		username: username,
		password: password,
		parser: jwtlib.NewParser(
			jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
			jwtlib.WithIssuer(tokenIssuer),
			jwtlib.WithExpirationRequired(),
		),
	}
}

func (a *AuthManager) Login(req domain.LoginRequest) (domain.LoginResponse, error) {
	if !a.checkCredentials(req.Username, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(a.username, RoleOperator, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("sign operator token: %w", err)
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        RoleOperator,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken accepts only HS256 tokens issued by this service for the
// operator role.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims operatorClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, a.keyFunc); err != nil {
		return domain.Actor{}, errInvalidToken
	}
	if claims.Subject == "" || claims.Role != RoleOperator {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) keyFunc(*jwtlib.Token) (interface{}, error) {
	return a.secret, nil
}

func (a *AuthManager) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(normalizeUsername(username)), []byte(a.username)) == 1
	if strings.TrimSpace(password) == "" || !isBcryptHash(a.password) {
		return false
	}
	// always run bcrypt so a wrong username costs the same as a wrong password
	passOK := bcrypt.CompareHashAndPassword([]byte(a.password), []byte(password)) == nil
	return userOK && passOK
}

func (a *AuthManager) sign(subject, role string, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := operatorClaims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func isBcryptHash(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
