// Package store persists saved snapshot streams under an id.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/willibrandon/vksnap/pkg/fault"
)

const (
	// ErrNotFound is returned when no blob is stored under an id
	ErrNotFound = fault.Const("snapshot not found")
	// ErrIntegrity is returned when a sealed blob fails verification
	ErrIntegrity = fault.Const("snapshot integrity check failed")
	// ErrInvalidID is returned for ids that cannot name a blob
	ErrInvalidID = fault.Const("invalid snapshot id")
)

// Store defines operations for persisting snapshot blobs
type Store interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	// List returns every stored id in lexical order
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// checkID normalizes an id and rejects ones that could escape a directory
// or key prefix
func checkID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return id, nil
}
