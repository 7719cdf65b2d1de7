package verifier

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Resolver turns a verifier reference into a Verifier. References are either
// "builtin:<name>" for authorities registered in process, or an http(s) base
// URL for a RemoteVerifier.
type Resolver struct {
	mu         sync.RWMutex
	builtins   map[string]Verifier
	httpClient *http.Client
}

// NewResolver returns a resolver with BuiltinWebAuthn registered.
func NewResolver(opts WebAuthnOptions, httpClient *http.Client) *Resolver {
	r := &Resolver{
		builtins:   make(map[string]Verifier),
		httpClient: httpClient,
	}
	r.Register(BuiltinWebAuthn, NewWebAuthnVerifier(opts))
	return r
}

// Register installs v under ref, replacing any previous entry.
func (r *Resolver) Register(ref string, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[ref] = v
}

func (r *Resolver) Resolve(ref string) (Verifier, error) {
	switch {
	case ref == "":
		return nil, ErrNotConfigured
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		return NewRemoteVerifier(ref, r.httpClient), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.builtins[ref]
	if !ok {
		return nil, fmt.Errorf("%w: unknown reference %q", ErrNotConfigured, ref)
	}
	return v, nil
}

// Valid reports whether ref would resolve.
func (r *Resolver) Valid(ref string) bool {
	_, err := r.Resolve(ref)
	return err == nil
}
