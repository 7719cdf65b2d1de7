// Package target routes an authenticated call to the component it names.
//
// A Target receives the dispatcher-verified signer as Call.Authority. Targets
// must treat Authority as the caller identity and must not re-derive it from
// Args.
package target

import (
	"context"
	"errors"
)

var (
	// ErrTargetNotFound is returned when no target is registered under an ID.
	ErrTargetNotFound = errors.New("target not found")
	// ErrUnknownFunction is returned when a target has no such function.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrIncompatible is returned when a target's protocol requirement does
	// not admit the running dispatcher.
	ErrIncompatible = errors.New("target incompatible with dispatcher protocol")
)

// Call is one routed invocation.
type Call struct {
	Target    string   `json:"target"`
	Function  string   `json:"function"`
	Args      [][]byte `json:"args"`
	Authority string   `json:"authority"`
}

// Target is a callable component.
type Target interface {
	Invoke(ctx context.Context, call Call) ([]byte, error)
}

// Func adapts a function to Target.
type Func func(ctx context.Context, call Call) ([]byte, error)

func (f Func) Invoke(ctx context.Context, call Call) ([]byte, error) {
	return f(ctx, call)
}

// Descriptor identifies a registered target.
type Descriptor struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version" yaml:"version"`
	// Requires is a semver constraint on the dispatcher protocol version,
	// e.g. "^1.0". Empty admits any version.
	Requires string `json:"requires,omitempty" yaml:"requires,omitempty"`
}
