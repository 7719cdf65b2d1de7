package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/crypto"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/dispatch"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/intent"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/location"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/observability"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/receipts"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/store"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/store/ledger"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/target"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/verifier"
)

const (
	now    = int64(1700000000)
	signer = "GADMIN"
	secret = "admin-secret"
)

type harness struct {
	ts      *httptest.Server
	passkey *crypto.Passkey
	nonces  byte
	healthy error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pk, err := crypto.NewPasskey("geolink.example")
	require.NoError(t, err)
	receiptKey, err := crypto.NewEd25519Signer("api-test")
	require.NoError(t, err)

	reg := target.NewRegistry()
	require.NoError(t, reg.Register(target.Descriptor{ID: location.TargetID, Version: "1.0.0"},
		location.NewRegistry().Target()))
	require.NoError(t, reg.Register(target.Descriptor{ID: "bytes"}, target.Func(
		func(context.Context, target.Call) ([]byte, error) { return []byte{0xff, 0x00}, nil })))

	clock := func() time.Time { return time.Unix(now, 0) }
	rs := receipts.NewMemoryStore()
	d := dispatch.New(dispatch.Config{Clock: clock}, dispatch.Deps{
		Ledger:   ledger.NewMemoryLedger(),
		Settings: store.NewMemorySettings(),
		Resolver: verifier.NewResolver(verifier.WebAuthnOptions{}, nil),
		Targets:  reg,
		Receipts: receipts.NewChain(rs, receiptKey, receipts.WithClock(clock)),
	})

	require.NoError(t, d.Enroll(context.Background(), signer, pk.PublicKey()))

	h := &harness{passkey: pk}
	metrics := observability.NewMetrics("geolink")
	srv, err := api.NewServer(d, api.Options{
		Receipts:       rs,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
		AdminSecret:    []byte(secret),
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		Health:         func(context.Context) error { return h.healthy },
	})
	require.NoError(t, err)
	h.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.ts.Close()
		srv.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (h *harness) adminToken(t *testing.T) string {
	t.Helper()
	tok, err := api.IssueAdminToken([]byte(secret), "ops", time.Minute)
	require.NoError(t, err)
	return tok
}

func (h *harness) initialize(t *testing.T) {
	t.Helper()
	resp, body := h.do(t, "POST", "/v1/admin/initialize", api.InitializeRequest{Ref: verifier.BuiltinWebAuthn}, h.adminToken(t))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func (h *harness) request(t *testing.T, fn string, args ...any) api.ExecuteRequest {
	t.Helper()
	h.nonces++
	var n intent.Nonce
	n[31] = h.nonces
	in := intent.Intent{
		Version: intent.Version1, Target: location.TargetID, Function: fn,
		Signer: signer, Nonce: n, IssuedAt: uint64(now), ExpiresAt: uint64(now + 60),
	}
	for _, a := range args {
		raw, err := json.Marshal(a)
		require.NoError(t, err)
		in.Args = append(in.Args, raw)
	}
	return h.sign(t, in)
}

func (h *harness) sign(t *testing.T, in intent.Intent) api.ExecuteRequest {
	t.Helper()
	c, _, err := intent.ChallengeFor(&in)
	require.NoError(t, err)
	a, err := h.passkey.Assert(c[:])
	require.NoError(t, err)
	return api.ExecuteRequest{
		Intent: in,
		Bundle: intent.SignatureBundle{
			Signature:         a.Signature,
			AuthenticatorData: a.AuthenticatorData,
			ClientDataJSON:    a.ClientDataJSON,
		},
		PublicKey: h.passkey.PublicKey(),
		RPIDHash:  h.passkey.RelyingPartyHash(),
	}
}

func problemOf(t *testing.T, body []byte) api.ProblemDetail {
	t.Helper()
	var p api.ProblemDetail
	require.NoError(t, json.Unmarshal(body, &p), string(body))
	return p
}

func TestExecute_EndToEnd(t *testing.T) {
	h := newHarness(t)

	// Fail closed before initialization.
	resp, body := h.do(t, "POST", "/v1/execute", h.request(t, "initialize", signer, "GeoLink", "GEO"), "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "VERIFIER_NOT_CONFIGURED", problemOf(t, body).Code)

	h.initialize(t)
	resp, body = h.do(t, "GET", "/v1/verifier", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"verifier_ref":"builtin:webauthn-es256"}`, string(body))

	resp, body = h.do(t, "POST", "/v1/execute", h.request(t, "initialize", signer, "GeoLink", "GEO"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	mint := h.request(t, "mint", "GOWNER", 7, "Pin", "PIN", "ipfs://pin", "40.7", "-74.0", 25)
	resp, body = h.do(t, "POST", "/v1/execute", mint, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out api.ExecuteResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "COMPLETED", out.State)
	assert.JSONEq(t, "null", string(out.Output))
	want, _, _ := intent.ChallengeFor(&mint.Intent)
	assert.Equal(t, want.Hex(), out.Challenge)
	require.NotEmpty(t, out.ReceiptID)

	// Replay.
	resp, body = h.do(t, "POST", "/v1/execute", mint, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	p := problemOf(t, body)
	assert.Equal(t, "ALREADY_CONSUMED", p.Code)
	require.NotNil(t, p.RetryableWithFreshNonce)
	assert.True(t, *p.RetryableWithFreshNonce)

	resp, body = h.do(t, "GET", "/v1/nonces/"+signer+"/"+mint.Intent.Nonce.String(), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var nr api.NonceResponse
	require.NoError(t, json.Unmarshal(body, &nr))
	assert.True(t, nr.Consumed)

	resp, body = h.do(t, "GET", "/v1/receipts/"+out.ReceiptID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec receipts.Receipt
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, "COMPLETED", rec.State)
	assert.Equal(t, want.Hex(), rec.Challenge)

	resp, body = h.do(t, "GET", "/v1/receipts?limit=10", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Receipts []receipts.Receipt `json:"receipts"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Receipts, 2, "a replay is rejected before it can emit a receipt")
}

func TestExecute_TamperedSignatureBurnsNonce(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	req := h.request(t, "owner_of", 1)
	req.Bundle.Signature[5] ^= 0x01
	resp, body := h.do(t, "POST", "/v1/execute", req, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	p := problemOf(t, body)
	assert.Equal(t, "INVALID_SIGNATURE", p.Code)
	assert.True(t, p.NonceBurned)

	resp, body = h.do(t, "GET", "/v1/nonces/"+signer+"/"+req.Intent.Nonce.String(), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"consumed":true`)
}

func TestExecute_NonJSONOutput(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	var n intent.Nonce
	n[0] = 0xaa
	req := h.sign(t, intent.Intent{
		Version: intent.Version1, Target: "bytes", Function: "any", Signer: signer,
		Nonce: n, IssuedAt: uint64(now), ExpiresAt: uint64(now),
	})
	resp, body := h.do(t, "POST", "/v1/execute", req, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out api.ExecuteResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Empty(t, out.Output)
	assert.Equal(t, []byte{0xff, 0x00}, out.OutputBase64)
}

func TestExecute_SchemaRejections(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	valid, err := json.Marshal(h.request(t, "owner_of", 1))
	require.NoError(t, err)

	cases := map[string]string{
		"not json":      `{`,
		"missing key":   `{"intent":{}}`,
		"bad nonce":     strings.Replace(string(valid), `"nonce":"`, `"nonce":"zz`, 1),
		"unknown field": strings.Replace(string(valid), `{"intent"`, `{"extra":1,"intent"`, 1),
		"negative iat":  strings.Replace(string(valid), `"iat":1700000000`, `"iat":-1`, 1),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, out := h.do(t, "POST", "/v1/execute", body, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(out))
			assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestExecute_StructuralRejectionIsMalformedIntent(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	req := h.request(t, "owner_of", 1)
	req.Intent.Version = 2
	resp, body := h.do(t, "POST", "/v1/execute", req, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UNSUPPORTED_VERSION", problemOf(t, body).Code)
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, "POST", "/v1/admin/initialize", api.InitializeRequest{Ref: verifier.BuiltinWebAuthn}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.initialize(t)
	h.initialize(t) // same value is a no-op

	resp, body := h.do(t, "POST", "/v1/admin/initialize", api.InitializeRequest{Ref: "https://verifier.example"}, h.adminToken(t))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "VERIFIER_ALREADY_SET", problemOf(t, body).Code)

	resp, body = h.do(t, "POST", "/v1/admin/rotate", api.RotateRequest{From: verifier.BuiltinWebAuthn, To: "https://verifier.example"}, h.adminToken(t))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "VERIFIER_ROTATION_DISABLED", problemOf(t, body).Code)

	resp, _ = h.do(t, "POST", "/v1/admin/initialize", `{"ref":"x","extra":true}`, h.adminToken(t))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminEnroll(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	other, err := crypto.NewPasskey("geolink.example")
	require.NoError(t, err)

	resp, _ := h.do(t, "POST", "/v1/admin/credentials", api.EnrollRequest{Signer: "GALICE", PublicKey: other.PublicKey()}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := h.do(t, "POST", "/v1/admin/credentials", api.EnrollRequest{Signer: "GALICE", PublicKey: other.PublicKey()}, h.adminToken(t))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"signer":"GALICE"}`, string(body))

	resp, body = h.do(t, "POST", "/v1/admin/credentials", api.EnrollRequest{Signer: signer, PublicKey: other.PublicKey()}, h.adminToken(t))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CREDENTIAL_ALREADY_BOUND", problemOf(t, body).Code)

	resp, body = h.do(t, "POST", "/v1/admin/credentials", api.EnrollRequest{Signer: "GBAD", PublicKey: []byte{0x04, 0x01}}, h.adminToken(t))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MALFORMED_CONTEXT", problemOf(t, body).Code)

	// The admin passkey cannot act as GALICE.
	req := h.request(t, "owner_of", 1)
	req.Intent.Signer = "GALICE"
	req = h.sign(t, req.Intent)
	resp, body = h.do(t, "POST", "/v1/execute", req, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	p := problemOf(t, body)
	assert.Equal(t, "INVALID_SIGNATURE", p.Code)
	assert.True(t, p.NonceBurned)
}

func TestBodyLimits(t *testing.T) {
	srv, err := api.NewServer(nil, api.Options{AdminSecret: []byte(secret)})
	require.NoError(t, err)
	defer srv.Close()
	h := srv.Handler()
	token, err := api.IssueAdminToken([]byte(secret), "ops", time.Minute)
	require.NoError(t, err)

	serve := func(path string, body io.Reader, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", path, body)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	huge := `{"ref":"` + strings.Repeat("a", 70<<10) + `"}`
	w := serve("/v1/admin/initialize", strings.NewReader(huge), token)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())

	w = serve("/v1/execute", strings.NewReader(strings.Repeat(" ", 9<<20)), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = serve("/v1/execute", iotest.ErrReader(errors.New("connection reset")), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	w = serve("/v1/admin/initialize", iotest.ErrReader(errors.New("connection reset")), token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNonceRoute_BadNonce(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, "GET", "/v1/nonces/"+signer+"/abcd", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReceipts_NotFoundAndBadLimit(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, "GET", "/v1/receipts/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = h.do(t, "GET", "/v1/receipts?limit=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get(api.RequestIDHeader))

	h.healthy = errors.New("db down")
	resp, _ = h.do(t, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, body = h.do(t, "GET", "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `geolink_http_requests_total{method="GET",route="/health",status="200"}`)
}
