package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "keybroker/internal/errors"
	"keybroker/internal/infrastructure"
	"keybroker/internal/middleware"
	"keybroker/internal/services"
)

// CheckoutHandler serves the license checkout endpoint.
type CheckoutHandler struct {
	service services.CheckoutService
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(service services.CheckoutService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "checkout")),
	}
}

// Routes returns a chi router for the checkout endpoints.
func (h *CheckoutHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Checkout)
	return r
}

// Checkout handles POST /api/license-requests. Outcomes of the
// checkout pipeline, including denials, are reported as HTTP 200 with
// a code in the body; only an undecodable payload produces a problem
// response.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("checkout-handler")
	start := time.Now()

	ctx, span := tracer.Start(ctx, "checkout_handler.checkout",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license-requests"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	var req services.CheckoutRequest
	if err := render.Decode(r, &req); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", "request_decode"))

		h.logger.WarnContext(ctx, "failed to decode checkout request",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)))

		problem := apperrors.NewInvalidRequestProblem(
			"request body must be a JSON object with email_address and device_id",
			r.URL.Path+"#"+reqID,
		).WithExtension("trace_id", infrastructure.TraceIDFromContext(ctx))

		render.Render(w, r, problem)
		return
	}

	resp := h.service.Checkout(ctx, req)
	latency := time.Since(start)

	span.SetAttributes(
		attribute.String("checkout.code", resp.Code),
		attribute.Bool("checkout.granted", resp.License != nil),
		attribute.Int64("request.latency_ms", latency.Milliseconds()),
	)

	h.logger.InfoContext(ctx, "checkout request completed",
		slog.String("request_id", reqID),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
		slog.String("code", resp.Code),
		slog.Bool("granted", resp.License != nil),
		slog.Duration("latency", latency))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}
