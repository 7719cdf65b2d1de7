// Package api is the dispatcher's HTTP surface. Errors are RFC 7807 problem
// details.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/dispatch"
)

const problemTypeBase = "https://geolink.dev/errors/"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses must use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID is the X-Request-ID of the failing request.
	TraceID string `json:"trace_id,omitempty"`

	// Code is the dispatcher rejection code, if the problem is one.
	Code string `json:"code,omitempty"`
	// RetryableWithFreshNonce tells a client whether re-signing the same call
	// over a new nonce can succeed.
	RetryableWithFreshNonce *bool `json:"retryable_with_fresh_nonce,omitempty"`
	NonceBurned             bool  `json:"nonce_burned,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	if p.Code != "" {
		return fmt.Sprintf("%s: %s", p.Code, p.Detail)
	}
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("%s%d", problemTypeBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     fmt.Sprintf("%s%d", problemTypeBase, status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(RequestIDHeader),
	})
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteDispatchError maps a dispatcher rejection onto a problem detail.
// Errors that are not dispatch errors are treated as internal.
func WriteDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		de = &dispatch.Error{Code: dispatch.CodeInternal, Err: err}
	}
	if de.Code == dispatch.CodeInternal {
		slog.ErrorContext(r.Context(), "dispatch internal error", "error", err, "request_id", w.Header().Get(RequestIDHeader))
	}

	status := StatusFor(de.Code)
	retryable := dispatch.RetryableWithFreshNonce(de.Code)
	problem := &ProblemDetail{
		Type:                    problemTypeBase + string(de.Code),
		Title:                   http.StatusText(status),
		Status:                  status,
		Instance:                r.URL.Path,
		TraceID:                 w.Header().Get(RequestIDHeader),
		Code:                    string(de.Code),
		RetryableWithFreshNonce: &retryable,
		NonceBurned:             de.NonceBurned,
	}
	if de.Code != dispatch.CodeInternal && de.Err != nil {
		problem.Detail = de.Err.Error()
	}
	writeProblem(w, problem)
}

// StatusFor is the HTTP status of a rejection code.
func StatusFor(code dispatch.Code) int {
	switch code {
	case dispatch.CodeMalformedIntent, dispatch.CodeUnsupportedVersion, dispatch.CodeMalformedContext:
		return http.StatusBadRequest
	case dispatch.CodeInvalidSignature, dispatch.CodeChallengeMismatch:
		return http.StatusUnauthorized
	case dispatch.CodePolicyDenied, dispatch.CodeVerifierRotationDisabled:
		return http.StatusForbidden
	case dispatch.CodeAlreadyConsumed, dispatch.CodeVerifierAlreadySet, dispatch.CodeCredentialAlreadyBound:
		return http.StatusConflict
	case dispatch.CodeExpired, dispatch.CodeIssuedInFuture, dispatch.CodeTargetInvocationFailed:
		return http.StatusUnprocessableEntity
	case dispatch.CodeVerifierNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
