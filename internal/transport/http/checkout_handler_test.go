package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keybroker/internal/keygen"
	"keybroker/internal/services"
)

// stubCheckoutService returns a canned response and records the
// request it was handed.
type stubCheckoutService struct {
	resp *services.CheckoutResponse
	got  *services.CheckoutRequest
}

func (s *stubCheckoutService) Checkout(ctx context.Context, req services.CheckoutRequest) *services.CheckoutResponse {
	s.got = &req
	return s.resp
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCheckoutHandler_Success(t *testing.T) {
	stub := &stubCheckoutService{resp: &services.CheckoutResponse{
		License: &keygen.License{ID: "lic-1", Key: "abc123"},
		Code:    services.CodeOK,
	}}
	handler := NewCheckoutHandler(stub, testLogger())

	body := bytes.NewBufferString(`{"email_address":"alice@example.com","device_id":"device-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var resp services.CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, services.CodeOK, resp.Code)
	require.NotNil(t, resp.License)
	assert.Equal(t, "lic-1", resp.License.ID)

	require.NotNil(t, stub.got)
	assert.Equal(t, "alice@example.com", stub.got.EmailAddress)
	assert.Equal(t, "device-1", stub.got.DeviceID)
}

func TestCheckoutHandler_DenialStillHTTP200(t *testing.T) {
	stub := &stubCheckoutService{resp: &services.CheckoutResponse{
		Code: services.CodeAccessDenied,
	}}
	handler := NewCheckoutHandler(stub, testLogger())

	body := bytes.NewBufferString(`{"email_address":"mallory@stranger.test","device_id":"device-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp services.CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, services.CodeAccessDenied, resp.Code)
	assert.Nil(t, resp.License)
}

func TestCheckoutHandler_MissingFieldsFlowThroughService(t *testing.T) {
	stub := &stubCheckoutService{resp: &services.CheckoutResponse{
		Code: services.CodeEmailAddressMissing,
	}}
	handler := NewCheckoutHandler(stub, testLogger())

	body := bytes.NewBufferString(`{"device_id":"device-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp services.CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, services.CodeEmailAddressMissing, resp.Code)
	require.NotNil(t, stub.got)
	assert.Empty(t, stub.got.EmailAddress)
}

func TestCheckoutHandler_MalformedBody(t *testing.T) {
	stub := &stubCheckoutService{}
	handler := NewCheckoutHandler(stub, testLogger())

	body := bytes.NewBufferString(`{"email_address": `)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, stub.got, "service must not run for an undecodable body")

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Invalid Request", problem["title"])
}
