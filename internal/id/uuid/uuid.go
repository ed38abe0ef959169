// Package uuid provides run identifier generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

var _ procurement.IDGenerator = (*Generator)(nil)

// Generator creates UUIDv7 strings. Time-ordered ids keep run logs sortable.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
