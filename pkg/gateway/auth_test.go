package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthHandler(t *testing.T) {
	t.Run("disabled accepts everything", func(t *testing.T) {
		auth := NewAuthHandler("")
		assert.False(t, auth.Enabled())
		assert.True(t, auth.Authenticate(httptest.NewRequest("POST", "/rpc", nil)))
	})

	auth := NewAuthHandler("s3cret")

	tests := []struct {
		name   string
		header string
		value  string
		want   bool
	}{
		{"bearer", "Authorization", "Bearer s3cret", true},
		{"bearer lowercase scheme", "Authorization", "bearer s3cret", true},
		{"api key header", APIKeyHeader, "s3cret", true},
		{"wrong bearer", "Authorization", "Bearer nope", false},
		{"basic scheme", "Authorization", "Basic s3cret", false},
		{"wrong api key", APIKeyHeader, "s3cre", false},
		{"missing", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/rpc", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, auth.Authenticate(r))
		})
	}
}
