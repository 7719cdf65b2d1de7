package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/dispatch"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/intent"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/receipts"
)

const (
	maxExecuteBody = 8 << 20
	maxAdminBody   = 64 << 10
	maxListLimit   = 500
)

// ExecuteRequest is the body of POST /v1/execute. Byte fields are standard
// base64 in JSON.
type ExecuteRequest struct {
	Intent    intent.Intent          `json:"intent"`
	Bundle    intent.SignatureBundle `json:"signature_bundle"`
	PublicKey []byte                 `json:"public_key"`
	RPIDHash  []byte                 `json:"rp_id_hash"`
}

type ExecuteResponse struct {
	State     string `json:"state"`
	Challenge string `json:"challenge"`
	ReceiptID string `json:"receipt_id,omitempty"`
	// Output is the target result when it is JSON, otherwise OutputBase64.
	Output       json.RawMessage `json:"output,omitempty"`
	OutputBase64 []byte          `json:"output_base64,omitempty"`
}

type NonceResponse struct {
	Signer   string `json:"signer"`
	Nonce    string `json:"nonce"`
	Consumed bool   `json:"consumed"`
}

type VerifierResponse struct {
	Ref string `json:"verifier_ref"`
}

type InitializeRequest struct {
	Ref string `json:"ref"`
}

type RotateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EnrollRequest binds a passkey public key to a named signer.
type EnrollRequest struct {
	Signer    string `json:"signer"`
	PublicKey []byte `json:"public_key"`
}

type EnrollResponse struct {
	Signer string `json:"signer"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, maxExecuteBody)
	if !ok {
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	if err := s.schema.Validate(doc); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", schemaDetail(err))
		return
	}

	var req ExecuteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	res, err := s.d.Execute(r.Context(), dispatch.Request{
		Intent:           req.Intent,
		Bundle:           req.Bundle,
		PublicKey:        req.PublicKey,
		RelyingPartyHash: req.RPIDHash,
	})
	if err != nil {
		WriteDispatchError(w, r, err)
		return
	}

	resp := ExecuteResponse{
		State:     string(res.State),
		Challenge: res.Challenge.Hex(),
		ReceiptID: res.ReceiptID,
	}
	if len(res.Output) > 0 && json.Valid(res.Output) {
		resp.Output = res.Output
	} else {
		resp.OutputBase64 = res.Output
	}
	writeJSON(w, http.StatusOK, resp)
}

// schemaDetail reports the most specific schema violation.
func schemaDetail(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return "request does not match schema"
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("request does not match schema at %s: %s", loc, ve.Message)
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	signer := chi.URLParam(r, "signer")
	nonce, err := intent.ParseNonce(chi.URLParam(r, "nonce"))
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	used, err := s.d.IsNonceUsed(r.Context(), signer, nonce)
	if err != nil {
		WriteDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NonceResponse{Signer: signer, Nonce: nonce.String(), Consumed: used})
}

func (s *Server) handleVerifier(w http.ResponseWriter, r *http.Request) {
	ref, err := s.d.VerifierRef(r.Context())
	if err != nil {
		WriteDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifierResponse{Ref: ref})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if !decodeAdmin(w, r, &req) {
		return
	}
	if err := s.d.Initialize(r.Context(), req.Ref); err != nil {
		WriteDispatchError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "verifier initialized via api", "ref", req.Ref, "request_id", RequestIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, VerifierResponse{Ref: req.Ref})
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	var req RotateRequest
	if !decodeAdmin(w, r, &req) {
		return
	}
	if err := s.d.Rotate(r.Context(), req.From, req.To); err != nil {
		WriteDispatchError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "verifier rotated via api", "from", req.From, "to", req.To, "request_id", RequestIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, VerifierResponse{Ref: req.To})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !decodeAdmin(w, r, &req) {
		return
	}
	if err := s.d.Enroll(r.Context(), req.Signer, req.PublicKey); err != nil {
		WriteDispatchError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "credential enrolled via api", "signer", req.Signer, "request_id", RequestIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, EnrollResponse{Signer: req.Signer})
}

// readBody reads at most limit bytes. Exceeding the limit is a 413, any
// other read failure a 400.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	} else {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "failed to read request body")
	}
	return nil, false
}

func decodeAdmin(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := readBody(w, r, maxAdminBody)
	if !ok {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return false
	}
	return true
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	if s.opts.Receipts == nil {
		WriteNotFound(w, "receipts are not enabled")
		return
	}
	rec, err := s.opts.Receipts.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, receipts.ErrNotFound) {
		WriteNotFound(w, "receipt not found")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	if s.opts.Receipts == nil {
		WriteNotFound(w, "receipts are not enabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	list, err := s.opts.Receipts.List(r.Context(), limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if list == nil {
		list = []*receipts.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": list})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			s.log.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
