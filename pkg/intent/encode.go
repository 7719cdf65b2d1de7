package intent

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// DomainTag prefixes every v1 encoding so intent bytes can never be confused
// with another signed structure.
const DomainTag = "geolink/intent"

// ErrDecode is returned by Decode for any input that is not a v1 encoding.
var ErrDecode = errors.New("intent: invalid encoding")

// Encode returns the canonical v1 encoding of in. Integers are big-endian.
//
//	u8-len  domain tag
//	u32     version
//	u8-len  target
//	u8-len  function selector
//	u16     arg count, then u32-len arg bytes for each arg
//	u8-len  signer
//	[32]    nonce
//	u64     issued-at
//	u64     expires-at
//
// The only error source is a field exceeding its length prefix, which
// Validate rules out.
func Encode(in *Intent) ([]byte, error) {
	if len(in.Args) > 0xffff {
		return nil, fmt.Errorf("%w: too many args", ErrMalformed)
	}

	var b cryptobyte.Builder
	addString8(&b, DomainTag)
	b.AddUint32(in.Version)
	addString8(&b, in.Target)
	addString8(&b, in.Function)
	b.AddUint16(uint16(len(in.Args)))
	for _, arg := range in.Args {
		b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(arg)
		})
	}
	addString8(&b, in.Signer)
	b.AddBytes(in.Nonce[:])
	b.AddUint64(in.IssuedAt)
	b.AddUint64(in.ExpiresAt)

	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

func addString8(b *cryptobyte.Builder, s string) {
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(s))
	})
}

// Decode parses a v1 encoding. Trailing bytes are rejected.
func Decode(data []byte) (*Intent, error) {
	s := cryptobyte.String(data)

	var tag cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&tag) || string(tag) != DomainTag {
		return nil, fmt.Errorf("%w: unknown domain tag", ErrDecode)
	}

	var in Intent
	if !s.ReadUint32(&in.Version) {
		return nil, fmt.Errorf("%w: version", ErrDecode)
	}

	var target, function cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&target) || !s.ReadUint8LengthPrefixed(&function) {
		return nil, fmt.Errorf("%w: target or function", ErrDecode)
	}
	in.Target = string(target)
	in.Function = string(function)

	var count uint16
	if !s.ReadUint16(&count) {
		return nil, fmt.Errorf("%w: arg count", ErrDecode)
	}
	if count > 0 {
		in.Args = make([][]byte, 0, count)
	}
	for i := 0; i < int(count); i++ {
		var (
			n   uint32
			arg []byte
		)
		if !s.ReadUint32(&n) || !s.ReadBytes(&arg, int(n)) {
			return nil, fmt.Errorf("%w: arg %d", ErrDecode, i)
		}
		in.Args = append(in.Args, append([]byte{}, arg...))
	}

	var signer cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&signer) {
		return nil, fmt.Errorf("%w: signer", ErrDecode)
	}
	in.Signer = string(signer)

	if !s.CopyBytes(in.Nonce[:]) {
		return nil, fmt.Errorf("%w: nonce", ErrDecode)
	}
	if !s.ReadUint64(&in.IssuedAt) || !s.ReadUint64(&in.ExpiresAt) {
		return nil, fmt.Errorf("%w: timestamps", ErrDecode)
	}
	if !s.Empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDecode, len(s))
	}
	return &in, nil
}
