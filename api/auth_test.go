package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatorDisabled(t *testing.T) {
	a := NewAuthenticator(AuthConfig{})
	assert.False(t, a.IsEnabled())
	assert.Empty(t, a.GetToken())
	assert.NoError(t, a.ValidateToken(""))
	assert.NoError(t, a.ValidateToken("anything"))
}

func TestAuthenticatorGeneratesToken(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Enabled: true})
	token := a.GetToken()
	require.Len(t, token, 64)

	assert.NoError(t, a.ValidateToken(token))
	assert.ErrorIs(t, a.ValidateToken(""), ErrAuthRequired)
	assert.ErrorIs(t, a.ValidateToken(token+"x"), ErrAuthTokenMismatch)
	assert.NotEqual(t, token, GenerateToken())
}

func TestAuthenticatorFromEnv(t *testing.T) {
	t.Setenv(EnvAuthEnabled, "true")
	t.Setenv(EnvAuthToken, "secret")

	a := NewAuthenticatorFromEnv(AuthConfig{})
	assert.True(t, a.IsEnabled())
	assert.Equal(t, "secret", a.GetToken())

	t.Setenv(EnvAuthEnabled, "0")
	assert.False(t, NewAuthenticatorFromEnv(AuthConfig{Enabled: true}).IsEnabled())
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewAuthenticator(AuthConfig{Enabled: true, Token: "secret"})

	r := gin.New()
	r.GET("/", a.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
