// Package dispatch is the dispatcher state machine. It accepts a signed
// intent, gates it on time, burns its nonce, verifies the passkey assertion
// against a challenge it derives itself, checks that the key is bound to the
// claimed signer, and routes the call to a target under that signer's
// authority.
//
// The nonce is consumed before the signature is checked and before the
// target runs. Target side effects cannot be rolled back, so a reserved
// nonce is never released, whatever happens afterwards.
package dispatch

import (
	"context"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/intent"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/receipts"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/store"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/store/ledger"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/target"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/verifier"
)

var errKeyNotBound = errors.New("public key is not bound to the signer")

// Resolver turns the stored verifier reference into an authority.
type Resolver interface {
	Resolve(ref string) (verifier.Verifier, error)
}

// Invoker routes a call to its target.
type Invoker interface {
	Invoke(ctx context.Context, call target.Call) ([]byte, error)
}

// Admission is an optional post-verification gate.
type Admission interface {
	Admit(ctx context.Context, in *intent.Intent) error
}

// Recorder receives dispatch metrics.
type Recorder interface {
	ObserveDispatch(outcome, code string, d time.Duration)
	NonceBurned()
}

// Tracker wraps an operation in a span.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

type Config struct {
	// ClockSkew is the allowed lead of iat over the dispatcher clock, in
	// seconds. Zero selects DefaultClockSkew.
	ClockSkew uint64
	// AllowVerifierRotation enables Rotate. Off by default.
	AllowVerifierRotation bool
	Clock                 func() time.Time
}

// Deps are the dispatcher's collaborators. Ledger, Settings, Resolver and
// Targets are required.
type Deps struct {
	Ledger   ledger.Ledger
	Settings store.Settings
	Resolver Resolver
	Targets  Invoker

	Policy   Admission
	Receipts *receipts.Chain
	Metrics  Recorder
	Tracer   Tracker
	Logger   *slog.Logger
}

// Request is one submission.
type Request struct {
	Intent intent.Intent
	Bundle intent.SignatureBundle
	// PublicKey is the signer's uncompressed P-256 point.
	PublicKey []byte
	// RelyingPartyHash is SHA-256 of the relying party ID.
	RelyingPartyHash []byte
}

type Result struct {
	Output    []byte
	Challenge intent.Challenge
	State     State
	ReceiptID string
}

// Dispatcher holds no lock of its own. Concurrent dispatches serialize only
// on the ledger's atomic Consume.
type Dispatcher struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

func New(cfg Config, deps Deps) *Dispatcher {
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = DefaultClockSkew
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{cfg: cfg, deps: deps, log: log.With("component", "dispatcher")}
}

// Initialize stores the verifier reference. The reference is write-once:
// repeating the stored value is a no-op, any other value is rejected.
func (d *Dispatcher) Initialize(ctx context.Context, ref string) error {
	if err := d.checkRef(ref); err != nil {
		return err
	}
	current, stored, err := d.deps.Settings.PutIfAbsent(ctx, store.KeyVerifierRef, ref)
	if err != nil {
		return reject(CodeInternal, StateReceived, fmt.Errorf("store verifier reference: %w", err))
	}
	if !stored && current != ref {
		return reject(CodeVerifierAlreadySet, StateReceived, fmt.Errorf("verifier reference already set to %q", current))
	}
	if stored {
		d.log.InfoContext(ctx, "verifier reference initialized", "ref", ref)
	}
	return nil
}

// Rotate replaces from with to. It requires AllowVerifierRotation and
// fails if the stored reference is not from.
func (d *Dispatcher) Rotate(ctx context.Context, from, to string) error {
	if !d.cfg.AllowVerifierRotation {
		return reject(CodeVerifierRotationDisabled, StateReceived, errors.New("verifier rotation is disabled"))
	}
	if err := d.checkRef(to); err != nil {
		return err
	}
	swapped, err := d.deps.Settings.CompareAndSwap(ctx, store.KeyVerifierRef, from, to)
	if err != nil {
		return reject(CodeInternal, StateReceived, fmt.Errorf("rotate verifier reference: %w", err))
	}
	if !swapped {
		return reject(CodeVerifierAlreadySet, StateReceived, fmt.Errorf("stored verifier reference is not %q", from))
	}
	d.log.InfoContext(ctx, "verifier reference rotated", "from", from, "to", to)
	return nil
}

func (d *Dispatcher) checkRef(ref string) error {
	if ref == "" {
		return reject(CodeVerifierNotConfigured, StateReceived, errors.New("empty verifier reference"))
	}
	if _, err := d.deps.Resolver.Resolve(ref); err != nil {
		return reject(CodeVerifierNotConfigured, StateReceived, err)
	}
	return nil
}

// Enroll binds signer to a passkey public key. Bindings are write-once:
// enrolling the same key again is a no-op, another key is rejected.
// Derived signers (intent.SignerID) are bound to their key already.
func (d *Dispatcher) Enroll(ctx context.Context, signer string, publicKey []byte) error {
	switch {
	case signer == "" || len(signer) > intent.MaxIdentLength:
		return reject(CodeMalformedIntent, StateReceived, errors.New("signer must be 1 to 255 bytes"))
	case intent.IsDerivedSigner(signer):
		return reject(CodeMalformedIntent, StateReceived, fmt.Errorf("%q is derived from its key and cannot be enrolled", signer))
	}
	if err := verifier.ValidatePublicKey(publicKey); err != nil {
		return reject(CodeMalformedContext, StateReceived, err)
	}
	want := hex.EncodeToString(publicKey)
	current, stored, err := d.deps.Settings.PutIfAbsent(ctx, store.CredentialKey(signer), want)
	if err != nil {
		return reject(CodeInternal, StateReceived, fmt.Errorf("store credential: %w", err))
	}
	if !stored && current != want {
		return reject(CodeCredentialAlreadyBound, StateReceived, fmt.Errorf("signer %q is bound to another key", signer))
	}
	if stored {
		d.log.InfoContext(ctx, "credential enrolled", "signer", signer)
	}
	return nil
}

// authenticate checks that publicKey speaks for signer: the signer is either
// the key's derived identity or enrolled with exactly this key.
func (d *Dispatcher) authenticate(ctx context.Context, signer string, publicKey []byte) *Error {
	if intent.IsDerivedSigner(signer) {
		if signer != intent.SignerID(publicKey) {
			return reject(CodeInvalidSignature, StateNonceReserved, errKeyNotBound)
		}
		return nil
	}
	enrolled, err := d.deps.Settings.Get(ctx, store.CredentialKey(signer))
	switch {
	case errors.Is(err, store.ErrNotSet):
		return reject(CodeInvalidSignature, StateNonceReserved, fmt.Errorf("%w: %q has no enrolled credential", errKeyNotBound, signer))
	case err != nil:
		return reject(CodeInternal, StateNonceReserved, fmt.Errorf("read credential: %w", err))
	}
	key, err := hex.DecodeString(enrolled)
	if err != nil {
		return reject(CodeInternal, StateNonceReserved, fmt.Errorf("stored credential for %q: %w", signer, err))
	}
	if !bytes.Equal(key, publicKey) {
		return reject(CodeInvalidSignature, StateNonceReserved, errKeyNotBound)
	}
	return nil
}

// VerifierRef returns the stored reference.
func (d *Dispatcher) VerifierRef(ctx context.Context) (string, error) {
	ref, err := d.deps.Settings.Get(ctx, store.KeyVerifierRef)
	switch {
	case errors.Is(err, store.ErrNotSet):
		return "", reject(CodeVerifierNotConfigured, StateReceived, err)
	case err != nil:
		return "", reject(CodeInternal, StateReceived, err)
	}
	return ref, nil
}

// IsNonceUsed reports whether (signer, nonce) has been consumed.
func (d *Dispatcher) IsNonceUsed(ctx context.Context, signer string, nonce [32]byte) (bool, error) {
	used, err := d.deps.Ledger.IsConsumed(ctx, signer, nonce)
	if err != nil {
		return false, reject(CodeInternal, StateReceived, err)
	}
	return used, nil
}

// Execute runs one dispatch to completion or rejection. On success the
// target's output is returned unmodified.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (res *Result, err error) {
	start := d.cfg.Clock()
	in := &req.Intent

	if d.deps.Tracer != nil {
		var done func(error)
		ctx, done = d.deps.Tracer.TrackOperation(ctx, "dispatch.execute",
			attribute.String("dispatch.target", in.Target),
			attribute.String("dispatch.function", in.Function),
		)
		defer func() { done(err) }()
	}
	defer func() {
		if d.deps.Metrics == nil {
			return
		}
		outcome, code := "completed", ""
		if err != nil {
			outcome, code = "rejected", string(CodeOf(err))
		}
		d.deps.Metrics.ObserveDispatch(outcome, code, d.cfg.Clock().Sub(start))
	}()

	res, err = d.execute(ctx, req, start)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			d.log.InfoContext(ctx, "dispatch rejected",
				"code", de.Code, "state", de.State, "signer", in.Signer,
				"target", in.Target, "function", in.Function, "nonce_burned", de.NonceBurned, "error", de.Err)
		}
		return nil, err
	}
	d.log.InfoContext(ctx, "dispatch completed",
		"signer", in.Signer, "target", in.Target, "function", in.Function, "receipt_id", res.ReceiptID)
	return res, nil
}

func (d *Dispatcher) execute(ctx context.Context, req Request, now time.Time) (*Result, error) {
	in := &req.Intent

	// Received
	if err := in.Validate(); err != nil {
		if errors.Is(err, intent.ErrUnsupportedVersion) {
			return nil, reject(CodeUnsupportedVersion, StateReceived, err)
		}
		return nil, reject(CodeMalformedIntent, StateReceived, err)
	}
	if err := CheckWindow(in, unixSeconds(now), d.cfg.ClockSkew); err != nil {
		return nil, err
	}

	// ExpirationChecked. Resolve the authority before touching the ledger so
	// a configuration fault never burns a nonce.
	v, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.deps.Ledger.Consume(ctx, in.Signer, in.Nonce); err != nil {
		if errors.Is(err, ledger.ErrAlreadyConsumed) {
			return nil, reject(CodeAlreadyConsumed, StateExpirationChecked, err)
		}
		return nil, reject(CodeInternal, StateExpirationChecked, fmt.Errorf("reserve nonce: %w", err))
	}
	if d.deps.Metrics != nil {
		d.deps.Metrics.NonceBurned()
	}

	// NonceReserved. From here on every rejection leaves the nonce burned.
	challenge, _, err := intent.ChallengeFor(in)
	if err != nil {
		return nil, d.burned(ctx, req, challenge, reject(CodeInternal, StateNonceReserved, err))
	}
	if len(req.Bundle.SignedPayload) > 0 && !intent.DeriveChallenge(req.Bundle.SignedPayload).Equal(challenge) {
		return nil, d.burned(ctx, req, challenge, reject(CodeChallengeMismatch, StateNonceReserved,
			errors.New("signed payload does not match the intent encoding")))
	}
	err = v.Verify(ctx, verifier.Request{
		PublicKey:         req.PublicKey,
		AuthenticatorData: req.Bundle.AuthenticatorData,
		ClientDataJSON:    req.Bundle.ClientDataJSON,
		ExpectedChallenge: challenge,
		RelyingPartyHash:  req.RelyingPartyHash,
		Signature:         req.Bundle.Signature,
	})
	if err != nil {
		return nil, d.burned(ctx, req, challenge, reject(verifyCode(err), StateNonceReserved, err))
	}
	if de := d.authenticate(ctx, in.Signer, req.PublicKey); de != nil {
		return nil, d.burned(ctx, req, challenge, de)
	}

	// SignatureVerified
	if d.deps.Policy != nil {
		if err := d.deps.Policy.Admit(ctx, in); err != nil {
			return nil, d.burned(ctx, req, challenge, reject(CodePolicyDenied, StateSignatureVerified, err))
		}
	}

	// Routed
	out, err := invoke(ctx, d.deps.Targets, target.Call{
		Target:    in.Target,
		Function:  in.Function,
		Args:      in.Args,
		Authority: in.Signer,
	})
	if err != nil {
		return nil, d.burned(ctx, req, challenge, reject(CodeTargetInvocationFailed, StateRouted, err))
	}

	res := &Result{Output: out, Challenge: challenge, State: StateCompleted}
	res.ReceiptID = d.emit(ctx, req, challenge, StateCompleted, "", out)
	return res, nil
}

func (d *Dispatcher) resolve(ctx context.Context) (verifier.Verifier, error) {
	ref, err := d.deps.Settings.Get(ctx, store.KeyVerifierRef)
	switch {
	case errors.Is(err, store.ErrNotSet):
		return nil, reject(CodeVerifierNotConfigured, StateExpirationChecked, errors.New("no verifier reference"))
	case err != nil:
		return nil, reject(CodeInternal, StateExpirationChecked, fmt.Errorf("read verifier reference: %w", err))
	}
	v, err := d.deps.Resolver.Resolve(ref)
	if err != nil {
		return nil, reject(CodeVerifierNotConfigured, StateExpirationChecked, err)
	}
	return v, nil
}

func verifyCode(err error) Code {
	switch {
	case errors.Is(err, verifier.ErrChallengeMismatch):
		return CodeChallengeMismatch
	case errors.Is(err, verifier.ErrMalformedContext):
		return CodeMalformedContext
	default:
		return CodeInvalidSignature
	}
}

// burned marks e as having consumed the nonce and records a receipt for it.
func (d *Dispatcher) burned(ctx context.Context, req Request, c intent.Challenge, e *Error) *Error {
	e.NonceBurned = true
	d.emit(ctx, req, c, StateRejected, e.Code, nil)
	return e
}

// emit appends a receipt. Receipts are audit output: a failure is logged and
// never changes the dispatch result.
func (d *Dispatcher) emit(ctx context.Context, req Request, c intent.Challenge, state State, code Code, out []byte) string {
	if d.deps.Receipts == nil {
		return ""
	}
	r := &receipts.Receipt{
		Challenge: c.Hex(),
		Signer:    req.Intent.Signer,
		Nonce:     req.Intent.Nonce.String(),
		Target:    req.Intent.Target,
		Function:  req.Intent.Function,
		State:     string(state),
		Code:      string(code),
	}
	if state == StateCompleted {
		sum := sha256.Sum256(out)
		r.OutputHash = hex.EncodeToString(sum[:])
	}
	emitted, err := d.deps.Receipts.Emit(ctx, r)
	if err != nil {
		d.log.ErrorContext(ctx, "receipt emission failed", "signer", r.Signer, "nonce", r.Nonce, "error", err)
		return ""
	}
	return emitted.ReceiptID
}

// invoke calls the target, converting a panic into an error.
func invoke(ctx context.Context, t Invoker, call target.Call) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("target panicked: %v", r)
		}
	}()
	return t.Invoke(ctx, call)
}

func unixSeconds(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}
