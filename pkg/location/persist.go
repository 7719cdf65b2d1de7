package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/store"
)

// ErrStateConflict means the stored state moved since this registry last
// wrote it, usually because a second process shares the key.
var ErrStateConflict = errors.New("location: stored state changed concurrently")

type snapshot struct {
	Initialized bool                  `json:"initialized"`
	Admin       string                `json:"admin,omitempty"`
	Name        string                `json:"name,omitempty"`
	Symbol      string                `json:"symbol,omitempty"`
	Tokens      map[uint32]tokenState `json:"tokens,omitempty"`
}

type tokenState struct {
	Owner    string   `json:"owner"`
	Metadata Metadata `json:"metadata"`
	Location Location `json:"location"`
}

// Persist loads the registry from key and writes every later mutation
// through to st. A mutation whose write fails is rolled back.
func (r *Registry) Persist(ctx context.Context, st store.Settings, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, err := st.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotSet):
	case err != nil:
		return fmt.Errorf("location: load state: %w", err)
	default:
		var s snapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return fmt.Errorf("location: decode state %s: %w", key, err)
		}
		r.restore(s)
		r.saved = raw
	}
	r.state, r.stateKey = st, key
	return nil
}

// update runs fn under the write lock and commits the result. fn must leave
// the registry untouched when it returns an error.
func (r *Registry) update(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var before snapshot
	if r.state != nil {
		before = r.snapshot()
	}
	if err := fn(); err != nil {
		return err
	}
	if r.state == nil {
		return nil
	}
	if err := r.commit(ctx); err != nil {
		r.restore(before)
		return err
	}
	return nil
}

func (r *Registry) commit(ctx context.Context) error {
	raw, err := json.Marshal(r.snapshot())
	if err != nil {
		return fmt.Errorf("location: encode state: %w", err)
	}
	next := string(raw)
	var ok bool
	if r.saved == "" {
		_, ok, err = r.state.PutIfAbsent(ctx, r.stateKey, next)
	} else {
		ok, err = r.state.CompareAndSwap(ctx, r.stateKey, r.saved, next)
	}
	if err != nil {
		return fmt.Errorf("location: save state: %w", err)
	}
	if !ok {
		return ErrStateConflict
	}
	r.saved = next
	return nil
}

func (r *Registry) snapshot() snapshot {
	s := snapshot{
		Initialized: r.initialized,
		Admin:       r.admin,
		Name:        r.name,
		Symbol:      r.symbol,
	}
	if len(r.tokens) > 0 {
		s.Tokens = make(map[uint32]tokenState, len(r.tokens))
		for id, t := range r.tokens {
			s.Tokens[id] = tokenState{Owner: t.owner, Metadata: t.metadata, Location: t.location}
		}
	}
	return s
}

func (r *Registry) restore(s snapshot) {
	r.initialized = s.Initialized
	r.admin, r.name, r.symbol = s.Admin, s.Name, s.Symbol
	r.tokens = make(map[uint32]*token, len(s.Tokens))
	for id, t := range s.Tokens {
		r.tokens[id] = &token{owner: t.Owner, metadata: t.Metadata, location: t.Location}
	}
}
