package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteVerifier delegates verification to an external authority over HTTP.
// Anything other than an explicit {"ok":true} is a rejection.
type RemoteVerifier struct {
	endpoint   string
	httpClient *http.Client
}

func NewRemoteVerifier(baseURL string, httpClient *http.Client) *RemoteVerifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteVerifier{
		endpoint:   strings.TrimRight(baseURL, "/") + "/verify",
		httpClient: httpClient,
	}
}

type remoteRequest struct {
	PublicKey         []byte `json:"public_key"`
	AuthenticatorData []byte `json:"authenticator_data"`
	ClientDataJSON    []byte `json:"client_data_json"`
	ExpectedChallenge string `json:"expected_challenge"`
	RelyingPartyHash  []byte `json:"relying_party_hash"`
	Signature         []byte `json:"signature"`
}

type remoteResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, req Request) error {
	body, err := json.Marshal(remoteRequest{
		PublicKey:         req.PublicKey,
		AuthenticatorData: req.AuthenticatorData,
		ClientDataJSON:    req.ClientDataJSON,
		ExpectedChallenge: req.ExpectedChallenge.Base64URL(),
		RelyingPartyHash:  req.RelyingPartyHash,
		Signature:         req.Signature,
	})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrMalformedContext, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrInvalidSignature, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: remote verifier unreachable: %v", ErrInvalidSignature, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrInvalidSignature, err)
	}
	var out remoteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%w: remote verifier returned HTTP %d", ErrInvalidSignature, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusOK && out.OK {
		return nil
	}

	switch out.Code {
	case "CHALLENGE_MISMATCH":
		return fmt.Errorf("%w: %s", ErrChallengeMismatch, out.Message)
	case "MALFORMED_CONTEXT":
		return fmt.Errorf("%w: %s", ErrMalformedContext, out.Message)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSignature, strings.TrimSpace(out.Code+" "+out.Message))
	}
}
