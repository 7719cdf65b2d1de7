package receipts

import (
	"fmt"
	"sort"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/canonicalize"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/crypto"
)

// AuditReport is the result of checking a receipt chain offline.
type AuditReport struct {
	Verified bool          `json:"verified"`
	Checked  int           `json:"checked"`
	Checks   []CheckResult `json:"checks"`
}

// CheckResult represents a single failed or passed check.
type CheckResult struct {
	ReceiptID string `json:"receipt_id"`
	Name      string `json:"name"`
	Pass      bool   `json:"pass"`
	Reason    string `json:"reason,omitempty"`
}

func (r *AuditReport) add(c CheckResult) {
	r.Checks = append(r.Checks, c)
	if !c.Pass {
		r.Verified = false
	}
}

// Audit verifies hashes, signatures and links of a complete chain. The input
// may be in any order.
func Audit(chain []*Receipt, v *crypto.Ed25519Verifier) *AuditReport {
	sorted := append([]*Receipt(nil), chain...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	report := &AuditReport{Verified: true, Checked: len(sorted)}
	prev := GenesisHash
	for i, r := range sorted {
		payload, err := r.Payload()
		if err != nil {
			report.add(CheckResult{ReceiptID: r.ReceiptID, Name: "payload", Reason: err.Error()})
			continue
		}

		hash := canonicalize.HashBytes(payload)
		report.add(check(r, "hash", hash == r.Hash, "stored hash does not match payload"))

		ok, err := v.VerifyHex(payload, r.Signature)
		reason := "signature does not verify"
		if err != nil {
			reason = err.Error()
		}
		report.add(check(r, "signature", ok && err == nil, reason))

		report.add(check(r, "link", r.PrevHash == prev, fmt.Sprintf("prev_hash %.12s, want %.12s", r.PrevHash, prev)))
		report.add(check(r, "sequence", r.Sequence == uint64(i+1), fmt.Sprintf("sequence %d, want %d", r.Sequence, i+1)))
		prev = r.Hash
	}
	return report
}

func check(r *Receipt, name string, pass bool, reason string) CheckResult {
	c := CheckResult{ReceiptID: r.ReceiptID, Name: name, Pass: pass}
	if !pass {
		c.Reason = reason
	}
	return c
}
