// Package uploads tracks files received over the upload endpoint
// until a session consumes them.
package uploads

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AllowedExtensions are the media containers accepted for upload.
var AllowedExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".avi": true,
	".webm": true, ".flv": true, ".wmv": true,
	".m4a": true, ".mp3": true, ".wav": true, ".ogg": true, ".flac": true,
}

// Allowed reports whether the filename has an accepted extension.
func Allowed(filename string) bool {
	return AllowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// File is one stored upload.
type File struct {
	ID   string `json:"id"`
	Path string `json:"-"`
	Name string `json:"name"`
	Size int64  `json:"size_bytes"`
}

// Registry is the in-memory id -> file mapping over a temp directory.
type Registry struct {
	mu    sync.Mutex
	dir   string
	files map[string]File
}

// NewRegistry creates the upload directory if needed.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Registry{
		dir:   dir,
		files: make(map[string]File),
	}, nil
}

// Dir returns the upload directory.
func (r *Registry) Dir() string {
	return r.dir
}

// DestPath picks a collision-free destination inside the upload
// directory, preserving the original extension.
func (r *Registry) DestPath(filename string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := filepath.Base(filename)
	dest := filepath.Join(r.dir, base)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			return dest
		}
		dest = filepath.Join(r.dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}
}

// Put registers a stored file and returns its record with a fresh id.
func (r *Registry) Put(path, name string, size int64) File {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := File{
		ID:   uuid.New().String(),
		Path: path,
		Name: name,
		Size: size,
	}
	r.files[f.ID] = f
	return f
}

// Get looks up an upload by id.
func (r *Registry) Get(id string) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	return f, ok
}

// Remove forgets an upload and deletes its file.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	f, ok := r.files[id]
	delete(r.files, id)
	r.mu.Unlock()

	if ok {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			// Stale files are picked up by the cleanup scheduler.
			return
		}
	}
}

// ReleaseByPath removes the upload backing the given path, if any.
// Sessions call this when they are reclaimed.
func (r *Registry) ReleaseByPath(path string) {
	r.mu.Lock()
	var id string
	for _, f := range r.files {
		if f.Path == path {
			id = f.ID
			break
		}
	}
	r.mu.Unlock()

	if id != "" {
		r.Remove(id)
	}
}
