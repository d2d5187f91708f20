package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keybroker/internal/infrastructure"
)

// TestNewApplication builds the full container against a placeholder
// DSN (database/sql does not dial until first use) and checks the
// routes that need no live backends.
func TestNewApplication(t *testing.T) {
	t.Setenv("KEYBROKER_KEYGEN_ACCOUNT_ID", "acct-1")
	t.Setenv("KEYBROKER_KEYGEN_PRODUCT_TOKEN", "prod-token")
	t.Setenv("KEYBROKER_KEYGEN_POLICY_ID", "policy-1")
	t.Setenv("KEYBROKER_KEYGEN_SECRET", "derivation-secret")
	t.Setenv("KEYBROKER_DATABASE_DSN", "postgres://localhost:5432/tenants")
	t.Setenv("KEYBROKER_LOGGING_OUTPUT", "stdout")
	infrastructure.ResetLoggerForTesting()

	application, err := NewApplication()
	require.NoError(t, err)
	require.NotNil(t, application.Router)
	require.NotNil(t, application.Server)
	assert.Equal(t, ":8080", application.Server.Addr)

	t.Run("liveness endpoint", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz/live", nil)
		rec := httptest.NewRecorder()
		application.Router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		application.Router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nope", nil)
		rec := httptest.NewRecorder()
		application.Router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	require.NoError(t, application.Store.Close())
}
