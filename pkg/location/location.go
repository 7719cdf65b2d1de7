// Package location is an ownership registry for location-bound tokens. It is
// exposed to the dispatcher as a target; every mutating function checks the
// dispatched authority. A registry bound with Persist writes each mutation
// through to the dispatcher's settings store.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/store"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/target"
)

// TargetID is the identifier the registry is usually mounted under.
const TargetID = "location-nft"

// ContractError carries a stable numeric code callers can match on.
type ContractError struct {
	Code    int
	Message string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("location: error %d: %s", e.Code, e.Message)
}

func (e *ContractError) Is(other error) bool {
	t, ok := other.(*ContractError)
	return ok && t.Code == e.Code
}

var (
	ErrUnauthorized       = &ContractError{Code: 1, Message: "caller is not authorized"}
	ErrTokenExists        = &ContractError{Code: 2, Message: "token already exists"}
	ErrNotOwner           = &ContractError{Code: 3, Message: "token not owned by sender"}
	ErrTokenNotFound      = &ContractError{Code: 4, Message: "token not found"}
	ErrAlreadyInitialized = &ContractError{Code: 5, Message: "already initialized"}
	ErrNotInitialized     = &ContractError{Code: 6, Message: "not initialized"}
)

var errArgs = errors.New("location: bad arguments")

// Metadata is stored once at mint time.
type Metadata struct {
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	URI       string `json:"uri"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Radius    uint32 `json:"radius"`
	CreatedAt uint64 `json:"created_at"`
}

// Location is the mutable geofence of a token.
type Location struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Radius    uint32 `json:"radius"`
}

type token struct {
	owner    string
	metadata Metadata
	location Location
}

// Registry holds the collection state.
type Registry struct {
	mu          sync.RWMutex
	initialized bool
	admin       string
	name        string
	symbol      string
	tokens      map[uint32]*token
	now         func() time.Time

	// Write-through persistence, set by Persist.
	state    store.Settings
	stateKey string
	saved    string
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[uint32]*token), now: time.Now}
}

// WithClock overrides the mint timestamp source.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Initialize sets the collection identity. The caller must name itself admin.
func (r *Registry) Initialize(ctx context.Context, authority, admin, name, symbol string) error {
	if authority != admin {
		return ErrUnauthorized
	}
	return r.update(ctx, func() error {
		if r.initialized {
			return ErrAlreadyInitialized
		}
		r.initialized = true
		r.admin, r.name, r.symbol = admin, name, symbol
		return nil
	})
}

// Mint creates tokenID for to. Admin only.
func (r *Registry) Mint(ctx context.Context, authority, to string, tokenID uint32, md Metadata) error {
	return r.update(ctx, func() error {
		if err := r.requireAdmin(authority); err != nil {
			return err
		}
		if _, exists := r.tokens[tokenID]; exists {
			return ErrTokenExists
		}
		md.CreatedAt = uint64(r.now().Unix())
		r.tokens[tokenID] = &token{
			owner:    to,
			metadata: md,
			location: Location{Latitude: md.Latitude, Longitude: md.Longitude, Radius: md.Radius},
		}
		return nil
	})
}

// Transfer moves tokenID from from to to. The caller must be from.
func (r *Registry) Transfer(ctx context.Context, authority, from, to string, tokenID uint32) error {
	if authority != from {
		return ErrUnauthorized
	}
	return r.update(ctx, func() error {
		t, ok := r.tokens[tokenID]
		if !ok || t.owner != from {
			return ErrNotOwner
		}
		t.owner = to
		return nil
	})
}

// UpdateLocation replaces the geofence of tokenID. Admin only.
func (r *Registry) UpdateLocation(ctx context.Context, authority string, tokenID uint32, loc Location) error {
	return r.update(ctx, func() error {
		if err := r.requireAdmin(authority); err != nil {
			return err
		}
		t, ok := r.tokens[tokenID]
		if !ok {
			return ErrTokenNotFound
		}
		t.location = loc
		return nil
	})
}

func (r *Registry) requireAdmin(authority string) error {
	if !r.initialized {
		return ErrNotInitialized
	}
	if authority != r.admin {
		return ErrUnauthorized
	}
	return nil
}

func (r *Registry) OwnerOf(tokenID uint32) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[tokenID]
	if !ok {
		return "", ErrTokenNotFound
	}
	return t.owner, nil
}

func (r *Registry) Metadata(tokenID uint32) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[tokenID]
	if !ok {
		return Metadata{}, ErrTokenNotFound
	}
	return t.metadata, nil
}

func (r *Registry) Location(tokenID uint32) (Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[tokenID]
	if !ok {
		return Location{}, ErrTokenNotFound
	}
	return t.location, nil
}

func (r *Registry) Name() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return "", ErrNotInitialized
	}
	return r.name, nil
}

func (r *Registry) Symbol() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return "", ErrNotInitialized
	}
	return r.symbol, nil
}

func (r *Registry) TotalSupply() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint32(len(r.tokens))
}

func (r *Registry) IsOwner(owner string, tokenID uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[tokenID]
	return ok && t.owner == owner
}

func (r *Registry) BalanceOf(owner string) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint32
	for _, t := range r.tokens {
		if t.owner == owner {
			n++
		}
	}
	return n
}

// Target exposes the registry as a dispatch target. Each arg is one JSON
// value; results are JSON encoded.
func (r *Registry) Target() target.Functions {
	return target.Functions{
		"initialize": func(ctx context.Context, c target.Call) ([]byte, error) {
			var admin, name, symbol string
			if err := decodeArgs(c.Args, &admin, &name, &symbol); err != nil {
				return nil, err
			}
			return unit(r.Initialize(ctx, c.Authority, admin, name, symbol))
		},
		"mint": func(ctx context.Context, c target.Call) ([]byte, error) {
			var (
				to      string
				tokenID uint32
				md      Metadata
			)
			if err := decodeArgs(c.Args, &to, &tokenID, &md.Name, &md.Symbol, &md.URI,
				&md.Latitude, &md.Longitude, &md.Radius); err != nil {
				return nil, err
			}
			return unit(r.Mint(ctx, c.Authority, to, tokenID, md))
		},
		"transfer": func(ctx context.Context, c target.Call) ([]byte, error) {
			var (
				from, to string
				tokenID  uint32
			)
			if err := decodeArgs(c.Args, &from, &to, &tokenID); err != nil {
				return nil, err
			}
			return unit(r.Transfer(ctx, c.Authority, from, to, tokenID))
		},
		"update_location": func(ctx context.Context, c target.Call) ([]byte, error) {
			var (
				tokenID uint32
				loc     Location
			)
			if err := decodeArgs(c.Args, &tokenID, &loc.Latitude, &loc.Longitude, &loc.Radius); err != nil {
				return nil, err
			}
			return unit(r.UpdateLocation(ctx, c.Authority, tokenID, loc))
		},
		"owner_of": func(_ context.Context, c target.Call) ([]byte, error) {
			var tokenID uint32
			if err := decodeArgs(c.Args, &tokenID); err != nil {
				return nil, err
			}
			return result(r.OwnerOf(tokenID))
		},
		"get_metadata": func(_ context.Context, c target.Call) ([]byte, error) {
			var tokenID uint32
			if err := decodeArgs(c.Args, &tokenID); err != nil {
				return nil, err
			}
			return result(r.Metadata(tokenID))
		},
		"get_location": func(_ context.Context, c target.Call) ([]byte, error) {
			var tokenID uint32
			if err := decodeArgs(c.Args, &tokenID); err != nil {
				return nil, err
			}
			return result(r.Location(tokenID))
		},
		"name": func(_ context.Context, c target.Call) ([]byte, error) {
			if err := decodeArgs(c.Args); err != nil {
				return nil, err
			}
			return result(r.Name())
		},
		"symbol": func(_ context.Context, c target.Call) ([]byte, error) {
			if err := decodeArgs(c.Args); err != nil {
				return nil, err
			}
			return result(r.Symbol())
		},
		"total_supply": func(_ context.Context, c target.Call) ([]byte, error) {
			if err := decodeArgs(c.Args); err != nil {
				return nil, err
			}
			return json.Marshal(r.TotalSupply())
		},
		"is_owner": func(_ context.Context, c target.Call) ([]byte, error) {
			var (
				owner   string
				tokenID uint32
			)
			if err := decodeArgs(c.Args, &owner, &tokenID); err != nil {
				return nil, err
			}
			return json.Marshal(r.IsOwner(owner, tokenID))
		},
		"balance_of": func(_ context.Context, c target.Call) ([]byte, error) {
			var owner string
			if err := decodeArgs(c.Args, &owner); err != nil {
				return nil, err
			}
			return json.Marshal(r.BalanceOf(owner))
		},
	}
}

func decodeArgs(args [][]byte, dst ...any) error {
	if len(args) != len(dst) {
		return fmt.Errorf("%w: want %d args, got %d", errArgs, len(dst), len(args))
	}
	for i, raw := range args {
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return fmt.Errorf("%w: arg %d: %v", errArgs, i, err)
		}
	}
	return nil
}

func unit(err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return []byte("null"), nil
}

func result[T any](v T, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
