package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// Environment variables read by NewAuthenticatorFromEnv.
const (
	EnvAuthEnabled = "FUSION_AUTH_ENABLED"
	EnvAuthToken   = "FUSION_AUTH_TOKEN"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled determines if write endpoints and Arrow sessions require a token
	Enabled bool
	// Token is the secret token that clients must provide
	Token string
}

// Authenticator checks client tokens for the HTTP API and Arrow sessions.
type Authenticator struct {
	config AuthConfig
	mu     sync.RWMutex
}

// NewAuthenticator creates a new Authenticator. When auth is enabled without a
// token, a random one is generated and can be read with GetToken.
func NewAuthenticator(config AuthConfig) *Authenticator {
	if config.Enabled && config.Token == "" {
		config.Token = GenerateToken()
	}
	return &Authenticator{
		config: config,
	}
}

// NewAuthenticatorFromEnv overlays FUSION_AUTH_ENABLED and FUSION_AUTH_TOKEN on base.
func NewAuthenticatorFromEnv(base AuthConfig) *Authenticator {
	if v, ok := os.LookupEnv(EnvAuthEnabled); ok {
		base.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvAuthToken); v != "" {
		base.Token = v
	}
	return NewAuthenticator(base)
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// GetToken returns the current auth token (for displaying to admin).
func (a *Authenticator) GetToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Token
}

// ValidateToken checks the provided token in constant time.
func (a *Authenticator) ValidateToken(providedToken string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.config.Enabled {
		return nil
	}
	if providedToken == "" {
		return ErrAuthRequired
	}
	if subtle.ConstantTimeCompare([]byte(a.config.Token), []byte(providedToken)) != 1 {
		return ErrAuthTokenMismatch
	}
	return nil
}

// Middleware rejects requests without a valid "Authorization: Bearer" token.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if err := a.ValidateToken(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// GenerateToken generates a cryptographically secure random token.
func GenerateToken() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(bytes)
}

// AuthMessage is the first frame an Arrow client sends when auth is enabled.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthResponse is sent back to the client after an auth attempt.
type AuthResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
