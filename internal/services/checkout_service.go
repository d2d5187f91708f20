// Package services holds the checkout decision procedure: the mapping
// from a validation outcome to at most one create and one activate
// call against the upstream licensing service.
package services

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"keybroker/internal/identity"
	"keybroker/internal/infrastructure"
	"keybroker/internal/keygen"
	"keybroker/internal/tenant"
)

// Response codes surfaced to the caller. Every checkout terminates in
// exactly one of these; failures are never transport-level errors.
const (
	CodeOK                      = "OK"
	CodeEmailAddressMissing     = "EMAIL_ADDRESS_MISSING"
	CodeDeviceIDMissing         = "DEVICE_ID_MISSING"
	CodeEmailAddressInvalid     = "EMAIL_ADDRESS_INVALID"
	CodeAccessDenied            = "ACCESS_DENIED"
	CodeLicenseValidationFailed = "LICENSE_VALIDATION_FAILED"
	CodeLicenseCheckoutFailed   = "LICENSE_CHECKOUT_FAILED"
)

// CheckoutRequest is the inbound license request payload
type CheckoutRequest struct {
	EmailAddress string `json:"email_address"`
	DeviceID     string `json:"device_id"`
}

// CheckoutResponse is the structured outcome returned to the caller.
// License is nil on every non-OK code.
type CheckoutResponse struct {
	License *keygen.License `json:"license"`
	Code    string          `json:"code"`
}

// LicensingClient is the upstream capability consumed by the checkout
// pipeline. *keygen.Client satisfies it; tests substitute a mock.
type LicensingClient interface {
	CreateLicense(ctx context.Context, name, key, policyID string) (*keygen.License, error)
	ActivateMachine(ctx context.Context, licenseID, fingerprint string) (*keygen.Machine, error)
	ValidateLicense(ctx context.Context, key, fingerprint string) (*keygen.ValidationOutcome, error)
}

// CheckoutService brokers device-scoped license checkout
type CheckoutService interface {
	Checkout(ctx context.Context, req CheckoutRequest) *CheckoutResponse
}

// checkoutService implements CheckoutService. It is stateless; each
// request re-derives identifiers and re-runs the full decision from a
// fresh validate call, so no locking is needed across requests.
type checkoutService struct {
	tenants  tenant.Store
	client   LicensingClient
	deriver  *identity.Deriver
	policyID string
	logger   *slog.Logger
	metrics  *infrastructure.CheckoutMetrics
}

// NewCheckoutService creates the checkout pipeline with its injected
// capabilities. metrics may be nil, in which case outcomes are not
// counted.
func NewCheckoutService(
	tenants tenant.Store,
	client LicensingClient,
	deriver *identity.Deriver,
	policyID string,
	logger *slog.Logger,
	metrics *infrastructure.CheckoutMetrics,
) CheckoutService {
	if logger == nil {
		logger = slog.Default()
	}
	return &checkoutService{
		tenants:  tenants,
		client:   client,
		deriver:  deriver,
		policyID: policyID,
		logger:   logger.With(slog.String("service", "checkout")),
		metrics:  metrics,
	}
}

// Checkout runs the sequential pipeline: input gate, tenant
// resolution, identifier derivation, one validate call, then the
// decision table. At most one create and one activate call follow,
// and nothing is retried.
func (s *checkoutService) Checkout(ctx context.Context, req CheckoutRequest) *CheckoutResponse {
	tracer := otel.Tracer("checkout-service")
	ctx, span := tracer.Start(ctx, "checkout_service.checkout",
		trace.WithAttributes(attribute.String("component", "checkout_service")),
	)
	defer span.End()

	resp := s.checkout(ctx, req)

	span.SetAttributes(
		attribute.String("checkout.code", resp.Code),
		attribute.Bool("checkout.granted", resp.License != nil),
	)
	s.countRequest(ctx, resp.Code)

	return resp
}

func (s *checkoutService) checkout(ctx context.Context, req CheckoutRequest) *CheckoutResponse {
	// Missing-input gates never touch the tenant store or upstream.
	if req.EmailAddress == "" {
		return &CheckoutResponse{Code: CodeEmailAddressMissing}
	}
	if req.DeviceID == "" {
		return &CheckoutResponse{Code: CodeDeviceIDMissing}
	}

	addr, err := identity.ParseEmail(req.EmailAddress)
	if err != nil {
		return &CheckoutResponse{Code: CodeEmailAddressInvalid}
	}

	current, err := s.tenants.FindByDomain(ctx, addr.Domain)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			s.logger.WarnContext(ctx, "tenant does not exist",
				slog.String("domain", addr.Domain))
		} else {
			// Store failures deny rather than surface a transport
			// error; the caller cannot distinguish them from an
			// unknown domain and is not meant to.
			s.logger.ErrorContext(ctx, "tenant lookup failed",
				slog.String("domain", addr.Domain),
				slog.String("error", err.Error()))
		}
		return &CheckoutResponse{Code: CodeAccessDenied}
	}

	s.logger.InfoContext(ctx, "current tenant",
		slog.String("tenant_id", current.ID),
		slog.String("domain", current.Domain))

	// The derived values double as upstream license key and machine
	// fingerprint; raw email and device id stop here.
	key := s.deriver.Derive(req.EmailAddress)
	fingerprint := s.deriver.Derive(req.DeviceID)

	outcome, err := s.client.ValidateLicense(ctx, key, fingerprint)
	s.countUpstream(ctx, "validate", err)
	if err != nil {
		return &CheckoutResponse{Code: CodeLicenseValidationFailed}
	}

	license := s.resolveOutcome(ctx, outcome, addr, key, fingerprint)
	if license == nil {
		return &CheckoutResponse{Code: CodeLicenseCheckoutFailed}
	}

	return &CheckoutResponse{License: license, Code: CodeOK}
}

// resolveOutcome is the decision table. It returns the granted license
// or nil for every deny path.
func (s *checkoutService) resolveOutcome(ctx context.Context, outcome *keygen.ValidationOutcome, addr identity.EmailAddress, key, fingerprint string) *keygen.License {
	switch outcome.Code {
	case keygen.CodeValid:
		// Already checked out and this device is activated.
		s.logger.InfoContext(ctx, "license is checked out and valid",
			slog.String("key", key),
			slog.String("fingerprint", fingerprint))
		return outcome.License

	case keygen.CodeNoMachine, keygen.CodeNoMachines:
		// Checked out but no activated device yet; activate this one.
		s.logger.InfoContext(ctx, "license activation required",
			slog.String("key", key),
			slog.String("fingerprint", fingerprint))
		if outcome.License == nil {
			return nil
		}
		_, err := s.client.ActivateMachine(ctx, outcome.License.ID, fingerprint)
		s.countUpstream(ctx, "activate", err)
		if err != nil {
			return nil
		}
		return outcome.License

	case keygen.CodeNotFound:
		// No license for this key; checkout a new one and activate
		// the device. Two concurrent requests can both land here and
		// create two licenses with the same derived key; de-dup is
		// upstream's responsibility.
		s.logger.InfoContext(ctx, "license checkout required",
			slog.String("key", key),
			slog.String("fingerprint", fingerprint))
		license, err := s.client.CreateLicense(ctx, addr.DisplayName(), key, s.policyID)
		s.countUpstream(ctx, "create", err)
		if err != nil {
			return nil
		}
		_, err = s.client.ActivateMachine(ctx, license.ID, fingerprint)
		s.countUpstream(ctx, "activate", err)
		if err != nil {
			return nil
		}
		return license

	default:
		// Expired, suspended, banned, over machine limits, or a code
		// this build does not know about. All deny.
		s.logger.InfoContext(ctx, "license is not valid",
			slog.String("key", key),
			slog.String("fingerprint", fingerprint),
			slog.String("code", outcome.RawCode))
		return nil
	}
}

func (s *checkoutService) countRequest(ctx context.Context, code string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Requests.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (s *checkoutService) countUpstream(ctx context.Context, operation string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.Upstream.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}
