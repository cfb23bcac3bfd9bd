package swarm

import (
	"fmt"
	"io/fs"
	"sync"
)

// MockFileReader serves config files from memory. It lets tests exercise
// ConfigLoader without touching disk.
type MockFileReader struct {
	mu    sync.RWMutex
	files map[string][]byte
	errs  map[string]error
	reads map[string]int
}

// NewMockFileReader creates an empty reader.
func NewMockFileReader() *MockFileReader {
	return &MockFileReader{
		files: make(map[string][]byte),
		errs:  make(map[string]error),
		reads: make(map[string]int),
	}
}

// ReadFile implements FileReader. Unknown paths fail with fs.ErrNotExist.
func (m *MockFileReader) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads[path]++
	if err := m.errs[path]; err != nil {
		return nil, err
	}
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// AddFile stores content under path.
func (m *MockFileReader) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), content...)
}

// FailPath makes reads of path return err.
func (m *MockFileReader) FailPath(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[path] = err
}

// Reads returns how many times path was read.
func (m *MockFileReader) Reads(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[path]
}
