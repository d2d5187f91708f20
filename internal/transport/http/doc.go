// Package http contains the chi HTTP handlers for the checkout API.
// Handlers decode with go-chi/render, delegate to the service layer,
// and answer checkout requests with a flat HTTP 200 envelope so
// clients need only inspect the body's code field.
package http
