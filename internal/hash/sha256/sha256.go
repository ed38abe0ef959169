// Package sha256 provides SHA-256 fingerprints for records that lack an identifier.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

var _ procurement.Hasher = (*Hasher)(nil)

// Hasher implements procurement.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint hashes the canonical JSON form of v. Map keys are sorted by
// encoding/json, so two records with equal content share a fingerprint
// regardless of field order.
func (h *Hasher) Fingerprint(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize for fingerprint: %w", err)
	}
	return h.Hash(data)
}
