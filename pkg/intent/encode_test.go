package intent

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// goldenIntent must keep producing goldenEncoding. External signers pin
// this vector; if it changes, the wire contract changed.
func goldenIntent() *Intent {
	var nonce Nonce
	for i := range nonce {
		nonce[i] = byte(i)
	}
	return &Intent{
		Version:   Version1,
		Target:    "location-nft",
		Function:  "mint",
		Args:      [][]byte{[]byte(`"GOWNER"`), []byte(`7`)},
		Signer:    "GSIGNER",
		Nonce:     nonce,
		IssuedAt:  1700000000,
		ExpiresAt: 1700000060,
	}
}

const (
	goldenEncoding = "0e67656f6c696e6b2f696e74656e74" + // tag
		"00000001" + // version
		"0c6c6f636174696f6e2d6e6674" + // target
		"046d696e74" + // function
		"0002" + "0000000822474f574e455222" + "0000000137" + // args
		"07475349474e4552" + // signer
		"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f" + // nonce
		"000000006553f100" + // iat
		"000000006553f13c" // exp
	goldenChallenge       = "1a62a12af8cf50335744266f688412b52f847c76a9a0c26e52f8363ae9915b1d"
	goldenChallengeBase64 = "GmKhKvjPUDNXRCZvaIQStS-EfHapoMJuUvg2OumRWx0"
)

func TestEncode_GoldenVector(t *testing.T) {
	encoded, err := Encode(goldenIntent())
	require.NoError(t, err)
	assert.Equal(t, goldenEncoding, hex.EncodeToString(encoded))

	c := DeriveChallenge(encoded)
	assert.Equal(t, goldenChallenge, c.Hex())
	assert.Equal(t, goldenChallengeBase64, c.Base64URL())
}

func TestEncode_EmptyArgs(t *testing.T) {
	in := &Intent{Version: Version1, Target: "t", Function: "f", Signer: "s"}
	encoded, err := Encode(in)
	require.NoError(t, err)
	assert.Len(t, encoded, 75)
	assert.Equal(t, []byte{0x00, 0x00}, encoded[23:25], "arg count")
}

func TestEncode_Deterministic(t *testing.T) {
	a, err := Encode(goldenIntent())
	require.NoError(t, err)
	b, err := Encode(goldenIntent())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestEncode_FieldChangesAlterEncoding(t *testing.T) {
	base, err := Encode(goldenIntent())
	require.NoError(t, err)

	mutations := map[string]func(*Intent){
		"version":  func(in *Intent) { in.Version = 2 },
		"target":   func(in *Intent) { in.Target = "location-nfT" },
		"function": func(in *Intent) { in.Function = "transfer" },
		"arg":      func(in *Intent) { in.Args[1] = []byte(`8`) },
		"arg drop": func(in *Intent) { in.Args = in.Args[:1] },
		"signer":   func(in *Intent) { in.Signer = "GSIGNES" },
		"nonce":    func(in *Intent) { in.Nonce[31] ^= 0xff },
		"iat":      func(in *Intent) { in.IssuedAt++ },
		"exp":      func(in *Intent) { in.ExpiresAt++ },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := goldenIntent()
			mutate(in)
			got, err := Encode(in)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

// Moving bytes between adjacent variable-length fields must not collide.
func TestEncode_BoundaryShiftDoesNotCollide(t *testing.T) {
	a := &Intent{Version: Version1, Target: "ab", Function: "c", Signer: "s"}
	b := &Intent{Version: Version1, Target: "a", Function: "bc", Signer: "s"}
	ea, err := Encode(a)
	require.NoError(t, err)
	eb, err := Encode(b)
	require.NoError(t, err)
	assert.NotEqual(t, ea, eb)

	c := &Intent{Version: Version1, Target: "t", Function: "f", Signer: "s", Args: [][]byte{[]byte("xy")}}
	d := &Intent{Version: Version1, Target: "t", Function: "f", Signer: "s", Args: [][]byte{[]byte("x"), []byte("y")}}
	ec, err := Encode(c)
	require.NoError(t, err)
	ed, err := Encode(d)
	require.NoError(t, err)
	assert.NotEqual(t, ec, ed)
}

func TestEncode_OversizedIdentifier(t *testing.T) {
	in := goldenIntent()
	in.Target = string(bytes.Repeat([]byte("x"), 256))
	_, err := Encode(in)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_RoundTrip(t *testing.T) {
	encoded, err := hex.DecodeString(goldenEncoding)
	require.NoError(t, err)

	in, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, goldenIntent(), in)
}

func TestDecode_Rejects(t *testing.T) {
	valid, err := hex.DecodeString(goldenEncoding)
	require.NoError(t, err)

	overrun, err := hex.DecodeString(strings.Replace(goldenEncoding, "0000000137", "000000ff37", 1))
	require.NoError(t, err)

	cases := map[string][]byte{
		"arg overrun": overrun,
		"empty":       nil,
		"bad tag":     append([]byte{0x03, 'f', 'o', 'o'}, valid[15:]...),
		"truncated":   valid[:len(valid)-1],
		"trailing":    append(append([]byte{}, valid...), 0x00),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func FuzzDecode(f *testing.F) {
	golden, _ := hex.DecodeString(goldenEncoding)
	f.Add(golden)
	f.Add([]byte{})
	f.Add([]byte{0x0e})

	f.Fuzz(func(t *testing.T, data []byte) {
		in, err := Decode(data)
		if err != nil {
			return
		}
		// Anything Decode accepts must re-encode to the same bytes.
		again, err := Encode(in)
		if err != nil {
			t.Fatalf("decoded intent failed to encode: %v", err)
		}
		if !bytes.Equal(again, data) {
			t.Fatalf("re-encoding differs:\n  in:  %x\n  out: %x", data, again)
		}
	})
}
