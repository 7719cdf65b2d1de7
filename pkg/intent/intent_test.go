package intent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.NoError(t, goldenIntent().Validate())

	cases := []struct {
		name   string
		mutate func(*Intent)
		want   error
	}{
		{"version zero", func(in *Intent) { in.Version = 0 }, ErrUnsupportedVersion},
		{"version two", func(in *Intent) { in.Version = 2 }, ErrUnsupportedVersion},
		{"missing target", func(in *Intent) { in.Target = "" }, ErrMalformed},
		{"missing function", func(in *Intent) { in.Function = "" }, ErrMalformed},
		{"missing signer", func(in *Intent) { in.Signer = "" }, ErrMalformed},
		{"long signer", func(in *Intent) { in.Signer = strings.Repeat("G", MaxIdentLength+1) }, ErrMalformed},
		{"invalid utf8", func(in *Intent) { in.Function = "mi\xffnt" }, ErrMalformed},
		// "e" followed by a combining acute accent is not NFC.
		{"not nfc", func(in *Intent) { in.Signer = "cafe\u0301" }, ErrMalformed},
		{"too many args", func(in *Intent) { in.Args = make([][]byte, MaxArgs+1) }, ErrMalformed},
		{"huge arg", func(in *Intent) { in.Args = [][]byte{make([]byte, MaxArgLength+1)} }, ErrMalformed},
		{"exp before iat", func(in *Intent) { in.ExpiresAt = in.IssuedAt - 1 }, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := goldenIntent()
			tc.mutate(in)
			assert.ErrorIs(t, in.Validate(), tc.want)
		})
	}
}

func TestValidate_ExpEqualsIatAllowed(t *testing.T) {
	in := goldenIntent()
	in.ExpiresAt = in.IssuedAt
	assert.NoError(t, in.Validate())
}

func TestNonce_TextRoundTrip(t *testing.T) {
	n := goldenIntent().Nonce
	text, err := n.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f", string(text))

	var parsed Nonce
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, n, parsed)

	_, err = ParseNonce("abcd")
	assert.Error(t, err)
	_, err = ParseNonce("zz")
	assert.Error(t, err)
}

func TestIntent_JSONShape(t *testing.T) {
	raw := `{
		"v": 1,
		"contract_id": "location-nft",
		"fn_name": "mint",
		"args": ["IkdPV05FUiI=", "Nw=="],
		"signer": "GSIGNER",
		"nonce": "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		"iat": 1700000000,
		"exp": 1700000060
	}`
	var in Intent
	require.NoError(t, json.Unmarshal([]byte(raw), &in))
	assert.Equal(t, goldenIntent(), &in)
}

func TestSignerID(t *testing.T) {
	a := SignerID([]byte{0x04, 1, 2, 3})
	b := SignerID([]byte{0x04, 1, 2, 4})
	assert.True(t, IsDerivedSigner(a))
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len(SignerPrefix)+43)
	assert.False(t, IsDerivedSigner("GADMIN"))

	in := goldenIntent()
	in.Signer = a
	assert.NoError(t, in.Validate())
}
