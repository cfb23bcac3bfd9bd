package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aixgo-dev/swarm/pkg/config"
)

// Common backend errors.
var (
	// ErrNotFound is returned when a checkpoint does not exist.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrClosed is returned when operating on a closed backend.
	ErrClosed = errors.New("storage backend is closed")
	// ErrInvalidID is returned for ids that are empty or contain path
	// separators or traversal sequences.
	ErrInvalidID = errors.New("invalid checkpoint id")
)

// Info describes a stored checkpoint.
type Info struct {
	ID      string    `json:"id"`
	SavedAt time.Time `json:"saved_at"`
	Size    int       `json:"size"`
}

// Backend stores checkpoint blobs. Implementations must be safe for
// concurrent use. Ids sort lexically in save order; List returns oldest
// first.
type Backend interface {
	Save(ctx context.Context, id string, blob []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
	// Latest returns the newest checkpoint, or ErrNotFound when empty.
	Latest(ctx context.Context) (Info, []byte, error)
	List(ctx context.Context) ([]Info, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return ErrInvalidID
	}
	return nil
}

// Open builds the backend selected by cfg. The "none" backend yields a nil
// Backend and no error.
func Open(ctx context.Context, cfg config.Persistence) (Backend, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileBackend(cfg.Dir)
	case config.BackendRedis:
		return NewRedisBackend(ctx, cfg.Redis)
	case config.BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}
