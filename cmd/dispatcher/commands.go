package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/artifacts"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/client"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/crypto"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/intent"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/receipts"
)

// withRuntime builds the local runtime for one-shot commands.
func withRuntime(stderr io.Writer, fn func(ctx context.Context, rt *runtime) int) int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 2
	}
	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg, newLogger(cfg))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = rt.Close(ctx) }()
	return fn(ctx, rt)
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func readIntent(path string) (*intent.Intent, error) {
	raw, err := readInput(path)
	if err != nil {
		return nil, err
	}
	var in intent.Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parse intent: %w", err)
	}
	return &in, nil
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(data))
}

// runInitCmd implements `dispatcher init <ref>`.
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: dispatcher init <verifier-ref>")
		return 2
	}
	return withRuntime(stderr, func(ctx context.Context, rt *runtime) int {
		if err := rt.dispatcher.Initialize(ctx, args[0]); err != nil {
			fmt.Fprintf(stderr, "❌ %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "✅ Verifier reference: %s\n", args[0])
		return 0
	})
}

// runEnrollCmd implements `dispatcher enroll <signer> <public-key-hex>`.
func runEnrollCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: dispatcher enroll <signer> <public-key-hex>")
		return 2
	}
	pub, err := hex.DecodeString(args[1])
	if err != nil {
		fmt.Fprintf(stderr, "Error: public key: %v\n", err)
		return 2
	}
	return withRuntime(stderr, func(ctx context.Context, rt *runtime) int {
		if err := rt.dispatcher.Enroll(ctx, args[0], pub); err != nil {
			fmt.Fprintf(stderr, "❌ %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "✅ Enrolled %s\n", args[0])
		return 0
	})
}

type encodeOutput struct {
	Encoding        string `json:"encoding"`
	Challenge       string `json:"challenge"`
	ChallengeBase64 string `json:"challenge_b64url"`
}

// runEncodeCmd implements `dispatcher encode [--json] <intent.json|->`.
func runEncodeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("encode", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	in, err := readIntent(cmd.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := in.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid intent: %v\n", err)
		return 1
	}
	c, encoded, err := intent.ChallengeFor(in)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	out := encodeOutput{Encoding: hex.EncodeToString(encoded), Challenge: c.Hex(), ChallengeBase64: c.Base64URL()}
	if *jsonOutput {
		printJSON(stdout, out)
		return 0
	}
	fmt.Fprintf(stdout, "encoding:  %s\n", out.Encoding)
	fmt.Fprintf(stdout, "challenge: %s\n", out.Challenge)
	fmt.Fprintf(stdout, "b64url:    %s\n", out.ChallengeBase64)
	return 0
}

// runInspectCmd implements `dispatcher inspect <hex>`.
func runInspectCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: dispatcher inspect <hex-encoding>")
		return 2
	}
	raw, err := hex.DecodeString(strings.TrimSpace(args[0]))
	if err != nil {
		fmt.Fprintf(stderr, "Invalid hex: %v\n", err)
		return 2
	}
	in, err := intent.Decode(raw)
	if err != nil {
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}
	printJSON(stdout, map[string]any{
		"intent":    in,
		"challenge": intent.DeriveChallenge(raw).Hex(),
		"valid":     in.Validate() == nil,
	})
	return 0
}

// runNonceCmd implements `dispatcher nonce [--server URL] <signer> <nonce-hex>`.
func runNonceCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("nonce", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	server := cmd.String("server", "", "Query a running dispatcher instead of local storage")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 2 {
		fmt.Fprintln(stderr, "Usage: dispatcher nonce [--server URL] <signer> <nonce-hex>")
		return 2
	}
	signer := cmd.Arg(0)
	nonce, err := intent.ParseNonce(cmd.Arg(1))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report := func(used bool) int {
		printJSON(stdout, api.NonceResponse{Signer: signer, Nonce: nonce.String(), Consumed: used})
		return 0
	}
	if *server != "" {
		used, err := client.New(*server).IsNonceUsed(context.Background(), signer, nonce)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return report(used)
	}
	return withRuntime(stderr, func(ctx context.Context, rt *runtime) int {
		used, err := rt.dispatcher.IsNonceUsed(ctx, signer, nonce)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return report(used)
	})
}

// runSignCmd implements `dispatcher sign`. It fills a zero nonce, a zero
// iat and an empty signer (with the passkey's derived identity), asserts
// with a development passkey and prints the execute request, or submits it
// with --submit.
func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		keyHex string
		rpID   string
		submit string
		ttl    time.Duration
	)
	cmd.StringVar(&keyHex, "key", os.Getenv("DEV_PASSKEY"), "Passkey private scalar (hex). Generated when empty")
	cmd.StringVar(&rpID, "rp", "localhost", "Relying party ID")
	cmd.StringVar(&submit, "submit", "", "Dispatcher URL to execute against")
	cmd.DurationVar(&ttl, "ttl", time.Minute, "Validity window when iat is unset")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	in, err := readIntent(cmd.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if in.Nonce == (intent.Nonce{}) {
		if _, err := rand.Read(in.Nonce[:]); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if in.IssuedAt == 0 {
		now := time.Now().Unix()
		in.IssuedAt = uint64(now)
		in.ExpiresAt = uint64(now + int64(ttl/time.Second))
	}

	var pk *crypto.Passkey
	if keyHex == "" {
		pk, err = crypto.NewPasskey(rpID)
		if err == nil {
			fmt.Fprintf(stderr, "passkey: %s\n", pk.PrivateHex())
		}
	} else {
		pk, err = crypto.ParsePasskey(keyHex, rpID)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if in.Signer == "" {
		in.Signer = intent.SignerID(pk.PublicKey())
	}

	req, err := client.Sign(pk, *in)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if submit == "" {
		printJSON(stdout, req)
		return 0
	}

	res, err := client.New(submit).Execute(context.Background(), req)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(stderr, "❌ %s (retryable with fresh nonce: %v)\n", apiErr.Error(), apiErr.Retryable)
		} else {
			fmt.Fprintf(stderr, "❌ %v\n", err)
		}
		return 1
	}
	printJSON(stdout, res)
	return 0
}

// runTokenCmd implements `dispatcher token [--sub name] [--ttl d]`.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	sub := cmd.String("sub", "operator", "Token subject")
	ttl := cmd.Duration("ttl", time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(stderr, "Error: ADMIN_JWT_SECRET is not set")
		return 2
	}
	token, err := api.IssueAdminToken([]byte(secret), *sub, *ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

// runArtifactCmd implements `dispatcher artifact put <file>`.
func runArtifactCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 || args[0] != "put" {
		fmt.Fprintln(stderr, "Usage: dispatcher artifact put <file>")
		return 2
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 2
	}
	ctx := context.Background()
	st, err := artifacts.NewStore(ctx, artifactOptions(cfg))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ref, err := st.Store(ctx, data)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, ref)
	return 0
}

// runAuditCmd implements `dispatcher audit`. Exit code 1 means the chain
// failed a check.
func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 0 {
		fmt.Fprintln(stderr, "Usage: dispatcher audit")
		return 2
	}
	return withRuntime(stderr, func(ctx context.Context, rt *runtime) int {
		chain, err := rt.receipts.List(ctx, math.MaxInt32)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		v, err := crypto.NewEd25519Verifier(rt.receiptKey.PublicKeyBytes())
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		report := receipts.Audit(chain, v)
		printJSON(stdout, report)
		if !report.Verified {
			return 1
		}
		return 0
	})
}
