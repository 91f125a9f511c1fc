package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestGenerateOTLPBearerToken(t *testing.T) {
	token, err := GenerateOTLPBearerToken("test-shared-secret", "test-token")
	assert.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 2)
	assert.True(t, strings.HasPrefix(token, "test-token."))

	again, _ := GenerateOTLPBearerToken("test-shared-secret", "test-token")
	assert.Equal(t, token, again)
	other, _ := GenerateOTLPBearerToken("other-secret", "test-token")
	assert.NotEqual(t, token, other)
}

func TestNew(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	shutdown, err := New(context.Background(), server.URL, "token", "test-service")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := otel.Tracer("test").Start(context.Background(), "test-span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	shutdown()
}

func TestNewWithInvalidURL(t *testing.T) {
	shutdown, err := New(context.Background(), "://invalid-url", "", "test-service")
	assert.Error(t, err)
	assert.Nil(t, shutdown)
	assert.Contains(t, err.Error(), "error parsing otlpServerURL")
}
