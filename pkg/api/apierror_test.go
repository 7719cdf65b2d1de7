package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/dispatch"
)

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected Content-Type 'application/problem+json', got %q", ct)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Status != 400 {
		t.Errorf("expected problem.status=400, got %d", problem.Status)
	}
	if problem.Detail != "field is missing" {
		t.Errorf("expected detail 'field is missing', got %q", problem.Detail)
	}
	if problem.RetryableWithFreshNonce != nil {
		t.Error("generic problems carry no retry hint")
	}
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Detail == "pq: connection refused to host=10.0.0.1" {
		t.Error("internal error details leaked to client")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	if ra := w.Header().Get("Retry-After"); ra != "30" {
		t.Errorf("expected Retry-After '30', got %q", ra)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
}

func TestWriteErrorR_EnrichesWithRequestContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/verifier", nil)
	w := httptest.NewRecorder()
	w.Header().Set(api.RequestIDHeader, "req-123")

	api.WriteErrorR(w, req, http.StatusBadRequest, "Bad Request", "bad input")

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Instance != "/v1/verifier" {
		t.Fatalf("expected instance %q, got %q", "/v1/verifier", problem.Instance)
	}
	if problem.TraceID != "req-123" {
		t.Fatalf("expected trace_id %q, got %q", "req-123", problem.TraceID)
	}
}

func TestWriteDispatchError(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		code      string
		retryable bool
		burned    bool
	}{
		{&dispatch.Error{Code: dispatch.CodeExpired, Err: errors.New("exp passed")}, 422, "EXPIRED", true, false},
		{&dispatch.Error{Code: dispatch.CodeAlreadyConsumed}, 409, "ALREADY_CONSUMED", true, false},
		{&dispatch.Error{Code: dispatch.CodeInvalidSignature, NonceBurned: true}, 401, "INVALID_SIGNATURE", true, true},
		{&dispatch.Error{Code: dispatch.CodePolicyDenied, NonceBurned: true}, 403, "POLICY_DENIED", false, true},
		{&dispatch.Error{Code: dispatch.CodeVerifierNotConfigured}, 503, "VERIFIER_NOT_CONFIGURED", false, false},
		{fmt.Errorf("wrapped: %w", &dispatch.Error{Code: dispatch.CodeMalformedIntent}), 400, "MALFORMED_INTENT", false, false},
		{&dispatch.Error{Code: dispatch.CodeCredentialAlreadyBound}, 409, "CREDENTIAL_ALREADY_BOUND", false, false},
		{errors.New("disk on fire"), 500, "INTERNAL", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			api.WriteDispatchError(w, httptest.NewRequest("POST", "/v1/execute", nil), tc.err)

			if w.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, w.Code)
			}
			var problem api.ProblemDetail
			if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if problem.Code != tc.code {
				t.Errorf("expected code %q, got %q", tc.code, problem.Code)
			}
			if problem.RetryableWithFreshNonce == nil || *problem.RetryableWithFreshNonce != tc.retryable {
				t.Errorf("expected retryable_with_fresh_nonce=%v", tc.retryable)
			}
			if problem.NonceBurned != tc.burned {
				t.Errorf("expected nonce_burned=%v", tc.burned)
			}
			if tc.code == "INTERNAL" && problem.Detail != "" {
				t.Errorf("internal detail leaked: %q", problem.Detail)
			}
		})
	}
}
