package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/intent"
)

func sample() *intent.Intent {
	return &intent.Intent{
		Version:   intent.Version1,
		Target:    "location-nft",
		Function:  "mint",
		Args:      [][]byte{[]byte(`"GOWNER"`)},
		Signer:    "GADMIN",
		IssuedAt:  1700000000,
		ExpiresAt: 1700000060,
	}
}

func TestAdmit(t *testing.T) {
	e, err := New([]Rule{
		{Name: "short-lived", Expr: `intent.ttl <= 300`},
		{Name: "mint-admin", Target: "location-nft", Expr: `intent.function != "mint" || intent.signer == "GADMIN"`},
		{Name: "fresh", Expr: `now - intent.issued_at < 600`},
	})
	require.NoError(t, err)
	e.WithClock(func() time.Time { return time.Unix(1700000010, 0) })
	assert.Equal(t, 3, e.Len())

	require.NoError(t, e.Admit(context.Background(), sample()))

	in := sample()
	in.Signer = "GOTHER"
	err = e.Admit(context.Background(), in)
	assert.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, err.Error(), "mint-admin")

	// Scoped rule does not apply to other targets.
	in.Target = "other"
	assert.NoError(t, e.Admit(context.Background(), in))

	in = sample()
	in.ExpiresAt = in.IssuedAt + 3600
	assert.ErrorIs(t, e.Admit(context.Background(), in), ErrDenied)
}

func TestNew_Rejects(t *testing.T) {
	_, err := New([]Rule{{Expr: `intent.target ==`}})
	assert.Error(t, err)

	_, err = New([]Rule{{Name: "int", Expr: `1 + 1`}})
	assert.ErrorContains(t, err, "want bool")
}

func TestAdmit_NoRules(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	assert.NoError(t, e.Admit(context.Background(), sample()))
}

func TestAdmit_EvalErrorDenies(t *testing.T) {
	e, err := New([]Rule{{Name: "missing", Expr: `intent.nope == "x"`}})
	require.NoError(t, err)
	assert.ErrorIs(t, e.Admit(context.Background(), sample()), ErrDenied)
}
