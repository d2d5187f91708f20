// Package errors defines the error taxonomy shared by the checkout
// pipeline and the HTTP layer: sentinel errors for each failure class
// and RFC 7807 problem responses for transport-level failures.
//
// Checkout outcomes themselves are never transport errors; the handler
// renders them as 200 responses with a structured code. ProblemDetails
// is reserved for the paths where the request never reached the
// pipeline (panics, rate limiting, malformed JSON).
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// Sentinel errors for the checkout pipeline
var (
	// ErrInvalidInput marks a request whose email address cannot be
	// decomposed into a usable local part and domain.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAccessDenied marks an email domain with no matching tenant.
	ErrAccessDenied = errors.New("access denied")

	// ErrUpstreamFailure marks any failed call to the licensing
	// service: explicit error list, transport error, or malformed
	// payload. All three are treated uniformly.
	ErrUpstreamFailure = errors.New("upstream licensing call failed")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// NewInvalidRequestProblem reports a request that could not be decoded
func NewInvalidRequestProblem(detail, instance string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusBadRequest,
		"/errors/invalid-request",
		"Invalid Request",
		detail,
		instance,
	)
}

// NewInternalProblem reports an unexpected server-side failure
func NewInternalProblem(instance string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusInternalServerError,
		"/errors/internal-server-error",
		"Internal Server Error",
		"An unexpected error occurred",
		instance,
	)
}
