package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/policy"
)

// Target kinds.
const (
	TargetLocation = "location"
	TargetWasm     = "wasm"
)

// File is the YAML overlay. Fields left empty keep the environment value.
type File struct {
	Verifier VerifierSection `yaml:"verifier"`
	Ledger   LedgerSection   `yaml:"ledger"`
	Dispatch DispatchSection `yaml:"dispatch"`
	Targets  []TargetSection `yaml:"targets"`
	Policies []policy.Rule   `yaml:"policies"`
}

type VerifierSection struct {
	Ref                     string   `yaml:"ref"`
	RequireUserVerification *bool    `yaml:"require_user_verification"`
	AllowedOrigins          []string `yaml:"allowed_origins"`
	AllowRotation           *bool    `yaml:"allow_rotation"`
}

type LedgerSection struct {
	Backend string `yaml:"backend"`
}

type DispatchSection struct {
	ClockSkew *uint64 `yaml:"clock_skew"`
}

// TargetSection declares one target to mount.
type TargetSection struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Version  string `yaml:"version"`
	Requires string `yaml:"requires"`
	// Module is the artifact ref of a wasm target.
	Module      string `yaml:"module"`
	MemoryBytes int64  `yaml:"memory_bytes"`
	TimeoutMs   int    `yaml:"timeout_ms"`
}

// LoadFile parses path. Unknown keys are errors.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Targets))
	for i, t := range f.Targets {
		switch {
		case t.ID == "":
			return nil, fmt.Errorf("config %q: target %d has no id", path, i)
		case seen[t.ID]:
			return nil, fmt.Errorf("config %q: duplicate target %q", path, t.ID)
		case t.Kind != TargetLocation && t.Kind != TargetWasm:
			return nil, fmt.Errorf("config %q: target %q has unknown kind %q", path, t.ID, t.Kind)
		case t.Kind == TargetWasm && t.Module == "":
			return nil, fmt.Errorf("config %q: wasm target %q needs a module ref", path, t.ID)
		}
		seen[t.ID] = true
	}
	return &f, nil
}

// Apply overlays f onto c and keeps f for target and policy wiring.
func (c *Config) Apply(f *File) {
	c.File = f
	if f.Verifier.Ref != "" {
		c.VerifierRef = f.Verifier.Ref
	}
	if f.Verifier.RequireUserVerification != nil {
		c.RequireUserVerification = *f.Verifier.RequireUserVerification
	}
	if len(f.Verifier.AllowedOrigins) > 0 {
		c.AllowedOrigins = f.Verifier.AllowedOrigins
	}
	if f.Verifier.AllowRotation != nil {
		c.AllowVerifierRotation = *f.Verifier.AllowRotation
	}
	if f.Ledger.Backend != "" {
		c.LedgerBackend = f.Ledger.Backend
	}
	if f.Dispatch.ClockSkew != nil {
		c.ClockSkew = *f.Dispatch.ClockSkew
	}
}

// Targets returns the declared targets, or a single location registry when
// no file is loaded.
func (c *Config) Targets() []TargetSection {
	if c.File != nil && len(c.File.Targets) > 0 {
		return c.File.Targets
	}
	return []TargetSection{{ID: "location-nft", Kind: TargetLocation, Version: "1.0.0", Requires: "^1.0"}}
}

func (c *Config) Policies() []policy.Rule {
	if c.File == nil {
		return nil
	}
	return c.File.Policies
}
