package afc

import (
	"path"
	"strings"
	"sync"
)

// MemService is an in-memory FileService for tests and examples. The
// zero value is not usable; create one with NewMemService.
type MemService struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	links map[string]string

	// WriteLimit, when non-zero, caps the bytes accepted by a single
	// Write call, exercising the partial-write paths of consumers.
	WriteLimit uint32
}

// NewMemService returns an empty in-memory file service.
func NewMemService() *MemService {
	return &MemService{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
		links: make(map[string]string),
	}
}

func (m *MemService) OpenForRead(p string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[clean(p)]
	if !ok {
		return nil, ErrNotFound
	}
	return &memFile{svc: m, data: data}, nil
}

func (m *MemService) OpenForWrite(p string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	m.files[p] = nil
	return &memFile{svc: m, path: p, writable: true}, nil
}

func (m *MemService) MakeDirectory(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[clean(p)] = true
	return nil
}

func (m *MemService) MakeLink(target, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[clean(p)] = target
	return nil
}

func (m *MemService) Stat(p string) (*FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if data, ok := m.files[p]; ok {
		return &FileInfo{Size: int64(len(data))}, nil
	}
	if m.dirs[p] {
		return &FileInfo{}, nil
	}
	return nil, ErrNotFound
}

// FileData returns the stored content of a remote path, or nil.
func (m *MemService) FileData(p string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[clean(p)]
}

// HasDirectory reports whether MakeDirectory created p.
func (m *MemService) HasDirectory(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[clean(p)]
}

// LinkTarget returns the target MakeLink recorded for p, or "".
func (m *MemService) LinkTarget(p string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[clean(p)]
}

// Put seeds the service with a remote file.
func (m *MemService) Put(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[clean(p)] = append([]byte(nil), data...)
}

func clean(p string) string {
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

type memFile struct {
	svc      *MemService
	path     string
	data     []byte
	off      int
	writable bool
}

func (f *memFile) Read(p []byte) (uint32, error) {
	if f.off >= len(f.data) {
		return 0, nil
	}
	n := copy(p, f.data[f.off:])
	f.off += n
	return uint32(n), nil
}

func (f *memFile) Write(p []byte) (uint32, error) {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	n := uint32(len(p))
	if f.svc.WriteLimit != 0 && n > f.svc.WriteLimit {
		n = f.svc.WriteLimit
	}
	f.svc.files[f.path] = append(f.svc.files[f.path], p[:n]...)
	return n, nil
}

func (f *memFile) Close() error { return nil }
