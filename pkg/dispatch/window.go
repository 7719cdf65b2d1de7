package dispatch

import (
	"fmt"
	"math"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/intent"
)

// DefaultClockSkew is how far, in seconds, an intent's issued-at may lead the
// dispatcher clock.
const DefaultClockSkew uint64 = 60

// CheckWindow enforces the validity window of in at now (unix seconds).
// Expiry is checked first. Both bounds are inclusive: an intent with
// exp == now is still valid, as is one with iat == now+skew.
func CheckWindow(in *intent.Intent, now, skew uint64) error {
	if now > in.ExpiresAt {
		return reject(CodeExpired, StateReceived,
			fmt.Errorf("expired at %d, now %d", in.ExpiresAt, now))
	}
	limit := now + skew
	if limit < now {
		limit = math.MaxUint64
	}
	if in.IssuedAt > limit {
		return reject(CodeIssuedInFuture, StateReceived,
			fmt.Errorf("issued at %d, now %d with skew %d", in.IssuedAt, now, skew))
	}
	return nil
}
