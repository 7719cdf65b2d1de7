package target

import (
	"context"
	"fmt"
)

// Handler implements one function of a Functions target.
type Handler func(ctx context.Context, call Call) ([]byte, error)

// Functions is a Target backed by a map of named handlers.
type Functions map[string]Handler

func (f Functions) Invoke(ctx context.Context, call Call) ([]byte, error) {
	h, ok := f[call.Function]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownFunction, call.Target, call.Function)
	}
	return h(ctx, call)
}
