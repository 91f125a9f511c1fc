package sys

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLocalhost(t *testing.T) {
	testCases := []struct {
		url      string
		expected bool
	}{
		{"redis://localhost:6379", true},
		{"http://127.0.0.1:3000", true},
		{"http://0.0.0.0:8000", true},
		{"[::1]:8080", true},
		{"127.0.0.1", true},
		{"redis://cache.internal:6379", false},
		{"https://192.168.1.1", false},
		{"", false},
	}
	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsLocalhost(tc.url))
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:52000"
	assert.Equal(t, "10.0.0.1", ClientIP(r, false))

	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "10.0.0.1", ClientIP(r, false))
	assert.Equal(t, "1.2.3.4", ClientIP(r, true))

	r.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "10.0.0.1", ClientIP(r, true))

	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientIP(r, false))
}
