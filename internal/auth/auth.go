package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds the operator credentials and token settings, populated
// from the application configuration
type Config struct {
	Enabled  bool
	Username string
	// Password is the operator password, either plaintext or an
	// existing bcrypt hash
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
}

// Authenticator validates operator credentials and issues API tokens
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *tokenIssuer
}

// NewAuthenticator creates an authenticator. An empty JWTSecret gets a
// random per-process secret, so issued tokens do not survive a restart.
func NewAuthenticator(cfg Config) *Authenticator {
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if cfg.Enabled && cfg.Password != "" {
		if isBcryptHash(cfg.Password) {
			passwordHash = []byte(cfg.Password)
		} else if hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost); err == nil {
			passwordHash = hash
		}
	}

	secret := cfg.JWTSecret
	if secret == "" {
		randomBytes := make([]byte, 32)
		rand.Read(randomBytes)
		secret = hex.EncodeToString(randomBytes)
	}
	expiry := cfg.JWTExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	return &Authenticator{
		enabled:      cfg.Enabled,
		username:     username,
		passwordHash: passwordHash,
		tokens:       newTokenIssuer([]byte(secret), expiry),
	}
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && strings.HasPrefix(s, "$2")
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a signed token with
// its unix expiry
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.tokens.issue(username)
	if err != nil {
		return "", 0, err
	}
	return token, expiresAt.Unix(), nil
}

// ValidateToken checks a token and returns its claims
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.validate(token)
}
