// Package promote swaps completed temporary downloads into their canonical
// file names.
package promote

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Result reports what a promotion did
type Result int

const (
	// Promoted means the temporary file now lives at the canonical path
	Promoted Result = iota
	// SourceMissing means there was no temporary file; the canonical file is untouched
	SourceMissing
)

func (r Result) String() string {
	switch r {
	case Promoted:
		return "promoted"
	case SourceMissing:
		return "source_missing"
	default:
		return "unknown"
	}
}

// Promoter is implemented by FilePromoter and by test doubles
type Promoter interface {
	Promote(temporaryPath, canonicalPath string) (Result, error)
}

// FilePromoter serializes promotions per canonical path. Readers never see a
// partial file because the swap is a single rename over the destination.
type FilePromoter struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFilePromoter creates a promoter with no held locks
func NewFilePromoter() *FilePromoter {
	return &FilePromoter{locks: make(map[string]*sync.Mutex)}
}

// Promote moves temporaryPath onto canonicalPath, replacing any previous file
func (p *FilePromoter) Promote(temporaryPath, canonicalPath string) (Result, error) {
	lock := p.lockFor(canonicalPath)
	lock.Lock()
	defer lock.Unlock()

	info, err := os.Lstat(temporaryPath)
	if errors.Is(err, fs.ErrNotExist) {
		return SourceMissing, nil
	}
	if err != nil {
		return SourceMissing, fmt.Errorf("stat %s: %w", temporaryPath, err)
	}
	if info.IsDir() {
		return SourceMissing, fmt.Errorf("promote %s: source is a directory", temporaryPath)
	}

	if err := os.MkdirAll(filepath.Dir(canonicalPath), 0755); err != nil {
		return SourceMissing, fmt.Errorf("create %s: %w", filepath.Dir(canonicalPath), err)
	}

	// rename(2) replaces the destination atomically, which stands in for
	// the delete-then-move sequence without exposing a missing file.
	if err := os.Rename(temporaryPath, canonicalPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return SourceMissing, nil
		}
		return SourceMissing, fmt.Errorf("rename %s to %s: %w", temporaryPath, canonicalPath, err)
	}

	return Promoted, nil
}

func (p *FilePromoter) lockFor(canonicalPath string) *sync.Mutex {
	key := filepath.Clean(canonicalPath)

	p.mu.Lock()
	defer p.mu.Unlock()

	lock, ok := p.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}
	return lock
}
