package dispatch

import (
	"errors"
	"fmt"
)

// Code is the stable, machine-readable reason for a rejection.
type Code string

const (
	CodeExpired                  Code = "EXPIRED"
	CodeIssuedInFuture           Code = "ISSUED_IN_FUTURE"
	CodeAlreadyConsumed          Code = "ALREADY_CONSUMED"
	CodeInvalidSignature         Code = "INVALID_SIGNATURE"
	CodeChallengeMismatch        Code = "CHALLENGE_MISMATCH"
	CodeMalformedContext         Code = "MALFORMED_CONTEXT"
	CodeVerifierNotConfigured    Code = "VERIFIER_NOT_CONFIGURED"
	CodeUnsupportedVersion       Code = "UNSUPPORTED_VERSION"
	CodeTargetInvocationFailed   Code = "TARGET_INVOCATION_FAILED"
	CodeMalformedIntent          Code = "MALFORMED_INTENT"
	CodePolicyDenied             Code = "POLICY_DENIED"
	CodeVerifierAlreadySet       Code = "VERIFIER_ALREADY_SET"
	CodeVerifierRotationDisabled Code = "VERIFIER_ROTATION_DISABLED"
	CodeCredentialAlreadyBound   Code = "CREDENTIAL_ALREADY_BOUND"
	CodeInternal                 Code = "INTERNAL"
)

// Error is every rejection the dispatcher returns. errors.Is matches on Code,
// so callers can compare against the sentinels below; Unwrap exposes the
// underlying layer error.
type Error struct {
	Code Code
	// State is the last state the dispatch reached before it was rejected.
	State State
	Err   error
	// NonceBurned reports that (signer, nonce) was consumed by this attempt.
	NonceBurned bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrExpired                  = &Error{Code: CodeExpired}
	ErrIssuedInFuture           = &Error{Code: CodeIssuedInFuture}
	ErrAlreadyConsumed          = &Error{Code: CodeAlreadyConsumed}
	ErrInvalidSignature         = &Error{Code: CodeInvalidSignature}
	ErrChallengeMismatch        = &Error{Code: CodeChallengeMismatch}
	ErrMalformedContext         = &Error{Code: CodeMalformedContext}
	ErrVerifierNotConfigured    = &Error{Code: CodeVerifierNotConfigured}
	ErrUnsupportedVersion       = &Error{Code: CodeUnsupportedVersion}
	ErrTargetInvocationFailed   = &Error{Code: CodeTargetInvocationFailed}
	ErrMalformedIntent          = &Error{Code: CodeMalformedIntent}
	ErrPolicyDenied             = &Error{Code: CodePolicyDenied}
	ErrVerifierAlreadySet       = &Error{Code: CodeVerifierAlreadySet}
	ErrVerifierRotationDisabled = &Error{Code: CodeVerifierRotationDisabled}
	ErrCredentialAlreadyBound   = &Error{Code: CodeCredentialAlreadyBound}
	ErrInternal                 = &Error{Code: CodeInternal}
)

// CodeOf extracts the code of a dispatch error, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// RetryableWithFreshNonce reports whether a client may resubmit the same
// call signed over a new nonce and window. Configuration and policy
// rejections will fail again regardless.
func RetryableWithFreshNonce(code Code) bool {
	switch code {
	case CodeExpired, CodeIssuedInFuture, CodeAlreadyConsumed, CodeInvalidSignature,
		CodeChallengeMismatch, CodeMalformedContext, CodeTargetInvocationFailed:
		return true
	}
	return false
}

func reject(code Code, state State, err error) *Error {
	return &Error{Code: code, State: state, Err: err}
}
