package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/aixgo-dev/swarm/internal/fsutil"
)

const checkpointExt = ".ckpt"

// FileBackend stores each checkpoint as <dir>/<id>.ckpt with mode 0600.
// Writes go through a temporary file and a rename.
type FileBackend struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(id string) string {
	return filepath.Join(f.dir, id+checkpointExt)
}

// Save writes blob under id, replacing any existing checkpoint.
func (f *FileBackend) Save(ctx context.Context, id string, blob []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(f.path(id), blob, 0600); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint with id.
func (f *FileBackend) Load(ctx context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	return f.loadLocked(id)
}

func (f *FileBackend) loadLocked(id string) ([]byte, error) {
	data, err := os.ReadFile(f.path(id)) // #nosec G304 - id validated to prevent traversal
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, nil
}

// List returns every checkpoint, oldest first.
func (f *FileBackend) List(ctx context.Context) ([]Info, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	return f.listLocked()
}

func (f *FileBackend) listLocked() ([]Info, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}
	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			ID:      strings.TrimSuffix(name, checkpointExt),
			SavedAt: info.ModTime().UTC(),
			Size:    int(info.Size()),
		})
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Latest returns the newest checkpoint.
func (f *FileBackend) Latest(ctx context.Context) (Info, []byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return Info{}, nil, ErrClosed
	}
	all, err := f.listLocked()
	if err != nil {
		return Info{}, nil, err
	}
	if len(all) == 0 {
		return Info{}, nil, ErrNotFound
	}
	info := all[len(all)-1]
	data, err := f.loadLocked(info.ID)
	return info, data, err
}

// Delete removes the checkpoint with id. Deleting a missing id is not an error.
func (f *FileBackend) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := os.Remove(f.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close releases the backend.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
