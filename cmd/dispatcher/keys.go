package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/crypto"
)

const receiptKeyID = "receipts"

// loadOrGenerateSigner returns the receipt signing key: seedHex when set,
// else dataDir/receipt.key, which is created on first run outside production.
func loadOrGenerateSigner(dataDir, seedHex string) (*crypto.Ed25519Signer, error) {
	if seedHex != "" {
		return crypto.NewEd25519SignerFromSeedHex(seedHex, receiptKeyID)
	}

	keyPath := filepath.Join(dataDir, "receipt.key")
	if keyHex, err := os.ReadFile(keyPath); err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(keyHex)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("invalid %s format", keyPath)
		}
		log.Printf("[dispatcher] receipts: loaded persistent signing key")
		return crypto.NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), receiptKeyID), nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", keyPath, err)
	}

	if os.Getenv("DISPATCHER_PRODUCTION") == "1" {
		return nil, fmt.Errorf("production mode requires RECEIPT_SIGNING_KEY or %s", keyPath)
	}

	log.Printf("[dispatcher] receipts: generating new signing key at %s", keyPath)
	fmt.Fprintf(os.Stdout, "\n%s⚠️  Using an auto-generated receipt signing key.%s\n", ColorBold+ColorYellow, ColorReset)
	fmt.Fprintf(os.Stdout, "   Key saved to: %s\n", keyPath)
	fmt.Fprintf(os.Stdout, "   In production, set RECEIPT_SIGNING_KEY from a secret manager.\n\n")

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv.Seed())), 0600); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", keyPath, err)
	}
	pubPath := filepath.Join(dataDir, "receipt.pub")
	//nolint:gosec // the public half is meant to be shared with auditors
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0644); err != nil {
		log.Printf("[dispatcher] failed to save %s: %v", pubPath, err)
	}
	return crypto.NewEd25519SignerFromKey(priv, receiptKeyID), nil
}
