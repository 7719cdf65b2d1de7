// Package client is a typed Go client for the dispatcher HTTP API. It also
// builds and signs intents with a development passkey.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/crypto"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/dispatch"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/intent"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/receipts"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status int
	Code   dispatch.Code
	Detail string
	// Retryable reports whether re-signing with a fresh nonce can succeed.
	Retryable   bool
	NonceBurned bool
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dispatcher api %d: %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("dispatcher api %d: %s", e.Status, e.Detail)
}

// Is matches dispatcher sentinels, so errors.Is(err, dispatch.ErrExpired)
// works across the wire.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*dispatch.Error)
	return ok && e.Code != "" && t.Code == e.Code
}

type Client struct {
	BaseURL    string
	AdminToken string
	HTTPClient *http.Client
	clock      func() time.Time
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		clock:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

// WithAdminToken sets the bearer token sent to /v1/admin routes.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.AdminToken = token }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithClock sets the clock NewIntent stamps iat from.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.clock = now }
}

func (c *Client) do(ctx context.Context, method, path string, admin bool, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if admin && c.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var problem api.ProblemDetail
		if err := json.NewDecoder(resp.Body).Decode(&problem); err != nil {
			return &APIError{Status: resp.StatusCode, Detail: "unreadable error body"}
		}
		e := &APIError{
			Status:      resp.StatusCode,
			Code:        dispatch.Code(problem.Code),
			Detail:      problem.Detail,
			NonceBurned: problem.NonceBurned,
		}
		if problem.RetryableWithFreshNonce != nil {
			e.Retryable = *problem.RetryableWithFreshNonce
		}
		if e.Detail == "" {
			e.Detail = problem.Title
		}
		return e
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// NewIntent builds a v1 intent valid for ttl with a random nonce. Each arg
// is JSON encoded.
func (c *Client) NewIntent(targetID, function, signer string, ttl time.Duration, args ...any) (intent.Intent, error) {
	in := intent.Intent{
		Version:  intent.Version1,
		Target:   targetID,
		Function: function,
		Signer:   signer,
	}
	if _, err := rand.Read(in.Nonce[:]); err != nil {
		return in, fmt.Errorf("nonce: %w", err)
	}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return in, fmt.Errorf("arg %d: %w", i, err)
		}
		in.Args = append(in.Args, raw)
	}
	iat := c.clock().Unix()
	in.IssuedAt = uint64(iat)
	in.ExpiresAt = uint64(iat + int64(ttl/time.Second))
	return in, in.Validate()
}

// Sign asserts over the intent's challenge with pk.
func Sign(pk *crypto.Passkey, in intent.Intent) (api.ExecuteRequest, error) {
	c, encoded, err := intent.ChallengeFor(&in)
	if err != nil {
		return api.ExecuteRequest{}, err
	}
	a, err := pk.Assert(c[:])
	if err != nil {
		return api.ExecuteRequest{}, err
	}
	return api.ExecuteRequest{
		Intent: in,
		Bundle: intent.SignatureBundle{
			Signature:         a.Signature,
			AuthenticatorData: a.AuthenticatorData,
			ClientDataJSON:    a.ClientDataJSON,
			SignedPayload:     encoded,
		},
		PublicKey: pk.PublicKey(),
		RPIDHash:  pk.RelyingPartyHash(),
	}, nil
}

// Execute calls POST /v1/execute.
func (c *Client) Execute(ctx context.Context, req api.ExecuteRequest) (*api.ExecuteResponse, error) {
	var out api.ExecuteResponse
	if err := c.do(ctx, http.MethodPost, "/v1/execute", false, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Call builds, signs and executes one intent.
func (c *Client) Call(ctx context.Context, pk *crypto.Passkey, signer, targetID, function string, args ...any) (*api.ExecuteResponse, error) {
	in, err := c.NewIntent(targetID, function, signer, time.Minute, args...)
	if err != nil {
		return nil, err
	}
	req, err := Sign(pk, in)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, req)
}

// IsNonceUsed calls GET /v1/nonces/{signer}/{nonce}.
func (c *Client) IsNonceUsed(ctx context.Context, signer string, nonce intent.Nonce) (bool, error) {
	var out api.NonceResponse
	path := "/v1/nonces/" + url.PathEscape(signer) + "/" + nonce.String()
	if err := c.do(ctx, http.MethodGet, path, false, nil, &out); err != nil {
		return false, err
	}
	return out.Consumed, nil
}

func (c *Client) VerifierRef(ctx context.Context) (string, error) {
	var out api.VerifierResponse
	if err := c.do(ctx, http.MethodGet, "/v1/verifier", false, nil, &out); err != nil {
		return "", err
	}
	return out.Ref, nil
}

// Initialize calls POST /v1/admin/initialize.
func (c *Client) Initialize(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/initialize", true, api.InitializeRequest{Ref: ref}, nil)
}

// Rotate calls POST /v1/admin/rotate.
func (c *Client) Rotate(ctx context.Context, from, to string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/rotate", true, api.RotateRequest{From: from, To: to}, nil)
}

// Enroll calls POST /v1/admin/credentials.
func (c *Client) Enroll(ctx context.Context, signer string, publicKey []byte) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/credentials", true, api.EnrollRequest{Signer: signer, PublicKey: publicKey}, nil)
}

func (c *Client) Receipt(ctx context.Context, id string) (*receipts.Receipt, error) {
	var out receipts.Receipt
	if err := c.do(ctx, http.MethodGet, "/v1/receipts/"+url.PathEscape(id), false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns nil when GET /health reports ok.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", false, nil, nil)
}
