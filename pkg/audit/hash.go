// Package audit implements the append-only, hash-chained receipt log
// described for every state-changing event in the system: deployments,
// approvals, executions, violations, and optimizer adaptations.
//
// Each entry's contentHash commits to the previous entry's contentHash plus
// the entry's own canonical JSON encoding, so truncating or rewriting any
// entry breaks every hash after it. The canonicalization step always zeroes
// the hash-bearing fields themselves before marshaling, at both append time
// and verify time, so the two computations can never diverge over how a
// omitted/null field round-trips through JSON.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/qam-project/qam/pkg/domain"
)

// canonicalize returns a copy of entry with PrevHash, ContentHash, and
// Signature cleared, ready to be marshaled for hashing or signing. It never
// mutates entry.
func canonicalize(entry domain.ReceiptEntry) domain.ReceiptEntry {
	entry.PrevHash = ""
	entry.ContentHash = ""
	entry.Signature = ""
	return entry
}

// canonicalJSON marshals entry deterministically for hashing. map values in
// Details are sorted by key by encoding/json itself, so this is stable
// across runs as long as the entry's concrete field set doesn't change.
func canonicalJSON(entry domain.ReceiptEntry) ([]byte, error) {
	clean := canonicalize(entry)
	b, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to marshal entry for hashing: %w", err)
	}
	return b, nil
}

// computeContentHash returns the hex-encoded SHA-256 digest of prevHash
// concatenated with entry's canonical JSON encoding. prevHash is the empty
// string for the first entry in a subject's chain (the genesis entry).
func computeContentHash(prevHash string, entry domain.ReceiptEntry) (string, error) {
	payload, err := canonicalJSON(entry)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
