package canonicalize

import (
	"encoding/json"
	"testing"
)

func FuzzJCS(f *testing.F) {
	// Seed corpus with interesting payloads
	f.Add([]byte(`{"target":"location-nft","function":"mint","state":"Completed"}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"fn":"<mint> & co"}`))
	f.Add([]byte(`{"lat":37.7749,"lon":-122.4194,"radius":100,"ok":true,"prev":null}`))
	f.Add([]byte(`{"args":[3,1,2],"receipt":{"code":{"name":"EXPIRED"}}}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"signer":"caf\u00e9"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Skip inputs that are not valid JSON.
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip("invalid JSON input")
			return
		}

		// JCS must not panic on any valid JSON
		b1, err := JCS(v)
		if err != nil {
			// Some valid JSON may not be representable; that's OK
			return
		}

		// Determinism: same input must produce identical output
		b2, err := JCS(v)
		if err != nil {
			t.Fatal("JCS returned error on second call but not first")
		}

		if string(b1) != string(b2) {
			t.Errorf("JCS non-deterministic:\n  first:  %s\n  second: %s", b1, b2)
		}

		// Output must be valid JSON
		var check interface{}
		if err := json.Unmarshal(b1, &check); err != nil {
			t.Errorf("JCS output is not valid JSON: %s", string(b1))
		}

	})
}
