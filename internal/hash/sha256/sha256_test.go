// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

// TestFingerprintIgnoresKeyOrder checks map ordering does not leak into the digest.
func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Fingerprint(map[string]any{"project_name": "ถนน", "dept_name": "อบต."})
	require.NoError(t, err)
	b, err := h.Fingerprint(map[string]any{"dept_name": "อบต.", "project_name": "ถนน"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := h.Fingerprint(map[string]any{"dept_name": "อบต.", "project_name": "สะพาน"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFingerprintRejectsUnencodable(t *testing.T) {
	t.Parallel()

	_, err := New().Fingerprint(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

// TestHasherKeysRecords fingerprints a record through the domain interface.
func TestHasherKeysRecords(t *testing.T) {
	t.Parallel()

	var h procurement.Hasher = New()
	a, err := h.Fingerprint(procurement.Record{"project_name": "ถนน"})
	require.NoError(t, err)
	b, err := h.Fingerprint(procurement.Record{"project_name": "สะพาน"})
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
