package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func authEngine(keys []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/protected", APIKeyAuth(keys), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return engine
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name       string
		keys       []string
		authHeader string
		apiKey     string
		wantStatus int
	}{
		{"no keys configured, open access", nil, "", "", http.StatusOK},
		{"valid bearer token", []string{"sk-1"}, "Bearer sk-1", "", http.StatusOK},
		{"valid x-api-key", []string{"sk-1"}, "", "sk-1", http.StatusOK},
		{"second configured key accepted", []string{"sk-1", "sk-2"}, "Bearer sk-2", "", http.StatusOK},
		{"wrong key rejected", []string{"sk-1"}, "Bearer nope", "", http.StatusUnauthorized},
		{"missing key rejected", []string{"sk-1"}, "", "", http.StatusUnauthorized},
		{"bearer prefix required", []string{"sk-1"}, "sk-1", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := authEngine(tt.keys)
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.apiKey != "" {
				req.Header.Set("x-api-key", tt.apiKey)
			}
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/v1/chat/completions", normalizePath("/chat/completions"))
	assert.Equal(t, "/v1/models", normalizePath("/models"))
	assert.Equal(t, "/healthz", normalizePath("/healthz"))

	long := "/" + strings.Repeat("x", 80)
	assert.LessOrEqual(t, len(normalizePath(long)), 53)
}
