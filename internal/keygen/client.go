// Package keygen is the client for the upstream licensing service.
// All three operations are single synchronous REST calls authenticated
// with a bearer product token; request and response bodies use the
// service's data/errors envelope with relationship objects linking
// licenses to policies and machines to licenses.
package keygen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "keybroker/internal/errors"
)

// License is a transient read of an upstream license record
type License struct {
	ID     string     `json:"id"`
	Key    string     `json:"key"`
	Expiry *time.Time `json:"expiry"`
}

// Machine is an activation record binding one fingerprint to one license
type Machine struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
	LicenseID   string `json:"license_id"`
}

// ValidationCode is the upstream-defined reason for a validation
// outcome. The set handled by checkout is closed; anything the service
// adds later collapses into CodeOther and fails safe.
type ValidationCode string

const (
	CodeValid      ValidationCode = "VALID"
	CodeNoMachine  ValidationCode = "NO_MACHINE"
	CodeNoMachines ValidationCode = "NO_MACHINES"
	CodeNotFound   ValidationCode = "NOT_FOUND"
	CodeOther      ValidationCode = "OTHER"
)

// ParseValidationCode maps an upstream meta.code string onto the
// closed enum. Unrecognized codes (EXPIRED, SUSPENDED, BANNED,
// TOO_MANY_MACHINES, ...) map to CodeOther so new upstream codes deny
// instead of falling through unnoticed.
func ParseValidationCode(raw string) ValidationCode {
	switch ValidationCode(raw) {
	case CodeValid, CodeNoMachine, CodeNoMachines, CodeNotFound:
		return ValidationCode(raw)
	default:
		return CodeOther
	}
}

// ValidationOutcome is the result of a validate-key call, consumed
// immediately by the checkout pipeline.
type ValidationOutcome struct {
	Code    ValidationCode
	RawCode string
	Valid   bool
	License *License
}

// Client calls the upstream licensing API. It never retries; a
// checkout makes at most one validate, one create and one activate
// call.
type Client struct {
	baseURL    string
	accountID  string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a licensing API client
func NewClient(baseURL, accountID, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		accountID:  accountID,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "keygen_client")),
	}
}

// envelope is the upstream data/errors response wrapper
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Meta   *validationMeta `json:"meta"`
	Errors []upstreamError `json:"errors"`
}

type validationMeta struct {
	Code  string `json:"code"`
	Valid bool   `json:"valid"`
}

type upstreamError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// resourceObject is the upstream JSON:API-style resource shape
type resourceObject struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Key         string     `json:"key"`
		Expiry      *time.Time `json:"expiry"`
		Fingerprint string     `json:"fingerprint"`
	} `json:"attributes"`
}

// CreateLicense creates a new license named after the email's display
// label with the derived key, attached to the given policy. The call
// is not idempotent: two calls create two distinct remote licenses
// carrying the same key value.
func (c *Client) CreateLicense(ctx context.Context, name, key, policyID string) (*License, error) {
	c.logger.InfoContext(ctx, "creating license",
		slog.String("key", key),
		slog.String("name", name))

	body := map[string]any{
		"data": map[string]any{
			"type": "license",
			"attributes": map[string]any{
				"name": name,
				"key":  key,
			},
			"relationships": map[string]any{
				"policy": map[string]any{
					"data": map[string]any{"type": "policy", "id": policyID},
				},
			},
		},
	}

	env, err := c.post(ctx, fmt.Sprintf("%s/accounts/%s/licenses", c.baseURL, c.accountID), body)
	if err != nil {
		return nil, err
	}

	var res resourceObject
	if env.Data == nil || json.Unmarshal(env.Data, &res) != nil {
		return nil, fmt.Errorf("malformed license payload: %w", apperrors.ErrUpstreamFailure)
	}

	license := &License{ID: res.ID, Key: res.Attributes.Key, Expiry: res.Attributes.Expiry}

	c.logger.InfoContext(ctx, "created license",
		slog.String("license_id", license.ID),
		slog.String("key", key),
		slog.String("name", name))

	return license, nil
}

// ActivateMachine associates a derived device fingerprint with an
// existing license.
func (c *Client) ActivateMachine(ctx context.Context, licenseID, fingerprint string) (*Machine, error) {
	c.logger.InfoContext(ctx, "activating machine",
		slog.String("license_id", licenseID),
		slog.String("fingerprint", fingerprint))

	body := map[string]any{
		"data": map[string]any{
			"type": "machine",
			"attributes": map[string]any{
				"fingerprint": fingerprint,
			},
			"relationships": map[string]any{
				"license": map[string]any{
					"data": map[string]any{"type": "license", "id": licenseID},
				},
			},
		},
	}

	env, err := c.post(ctx, fmt.Sprintf("%s/accounts/%s/machines", c.baseURL, c.accountID), body)
	if err != nil {
		return nil, err
	}

	var res resourceObject
	if env.Data == nil || json.Unmarshal(env.Data, &res) != nil {
		return nil, fmt.Errorf("malformed machine payload: %w", apperrors.ErrUpstreamFailure)
	}

	machine := &Machine{ID: res.ID, Fingerprint: res.Attributes.Fingerprint, LicenseID: licenseID}

	c.logger.InfoContext(ctx, "activated machine",
		slog.String("machine_id", machine.ID),
		slog.String("license_id", licenseID),
		slog.String("fingerprint", fingerprint))

	return machine, nil
}

// ValidateLicense asks upstream whether a license with this key,
// scoped to this fingerprint, is currently valid. A missing data
// object is a legitimate outcome (NOT_FOUND carries no license).
func (c *Client) ValidateLicense(ctx context.Context, key, fingerprint string) (*ValidationOutcome, error) {
	c.logger.InfoContext(ctx, "validating license",
		slog.String("key", key),
		slog.String("fingerprint", fingerprint))

	body := map[string]any{
		"meta": map[string]any{
			"scope": map[string]any{"fingerprint": fingerprint},
			"key":   key,
		},
	}

	env, err := c.post(ctx, fmt.Sprintf("%s/accounts/%s/licenses/actions/validate-key", c.baseURL, c.accountID), body)
	if err != nil {
		return nil, err
	}

	if env.Meta == nil {
		return nil, fmt.Errorf("malformed validation payload: %w", apperrors.ErrUpstreamFailure)
	}

	outcome := &ValidationOutcome{
		Code:    ParseValidationCode(env.Meta.Code),
		RawCode: env.Meta.Code,
		Valid:   env.Meta.Valid,
	}

	if env.Data != nil && string(env.Data) != "null" {
		var res resourceObject
		if err := json.Unmarshal(env.Data, &res); err != nil {
			return nil, fmt.Errorf("malformed validation payload: %w", apperrors.ErrUpstreamFailure)
		}
		outcome.License = &License{ID: res.ID, Key: res.Attributes.Key, Expiry: res.Attributes.Expiry}
	}

	licenseID := ""
	if outcome.License != nil {
		licenseID = outcome.License.ID
	}
	c.logger.InfoContext(ctx, "validated license",
		slog.Bool("valid", outcome.Valid),
		slog.String("code", outcome.RawCode),
		slog.String("license_id", licenseID),
		slog.String("key", key),
		slog.String("fingerprint", fingerprint))

	return outcome, nil
}

// post issues one authenticated call and decodes the envelope. An
// upstream error list, a transport error, and an undecodable body are
// all reported as the same upstream failure.
func (c *Client) post(ctx context.Context, url string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "upstream request failed",
			slog.String("url", url),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("transport error: %w", apperrors.ErrUpstreamFailure)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.logger.ErrorContext(ctx, "upstream response undecodable",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("malformed response: %w", apperrors.ErrUpstreamFailure)
	}

	if len(env.Errors) > 0 {
		c.logger.ErrorContext(ctx, "upstream returned errors",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
			slog.Any("errors", env.Errors))
		return nil, fmt.Errorf("upstream error %q: %w", env.Errors[0].Title, apperrors.ErrUpstreamFailure)
	}

	return &env, nil
}
