package target

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// ProtocolVersion is the dispatcher protocol that targets declare against.
const ProtocolVersion = "1.0.0"

type entry struct {
	desc   Descriptor
	target Target
}

// Registry maps target identifiers to targets.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
	protocol *semver.Version
}

func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[string]entry),
		protocol: semver.MustParse(ProtocolVersion),
	}
}

// Register installs t under desc.ID after checking desc.Requires.
func (r *Registry) Register(desc Descriptor, t Target) error {
	if desc.ID == "" {
		return fmt.Errorf("target: empty id")
	}
	if desc.Version != "" {
		if _, err := semver.NewVersion(desc.Version); err != nil {
			return fmt.Errorf("target %s: invalid version %q: %w", desc.ID, desc.Version, err)
		}
	}
	if desc.Requires != "" {
		constraint, err := semver.NewConstraint(desc.Requires)
		if err != nil {
			return fmt.Errorf("target %s: invalid protocol constraint %q: %w", desc.ID, desc.Requires, err)
		}
		if !constraint.Check(r.protocol) {
			return fmt.Errorf("%w: %s requires %s, running %s", ErrIncompatible, desc.ID, desc.Requires, r.protocol)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.ID]; exists {
		return fmt.Errorf("target %s already registered", desc.ID)
	}
	r.entries[desc.ID] = entry{desc: desc, target: t}
	return nil
}

// Lookup returns the target registered under id.
func (r *Registry) Lookup(id string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.target, ok
}

// Invoke routes call to its target.
func (r *Registry) Invoke(ctx context.Context, call Call) ([]byte, error) {
	t, ok := r.Lookup(call.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, call.Target)
	}
	return t.Invoke(ctx, call)
}

// Descriptors lists registered targets sorted by ID.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
