// Package store manages the flat directory that holds shared files. It lists
// entries, opens them for download and commits uploads so that a file name
// only ever points at complete content.
package store

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"rshare/internal/fsutil"
)

type Store struct {
	dir        string
	stagingDir string
	locks      *nameLocks
}

// Entry describes one listed file.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// New opens (creating if needed) the store at dir. Uploads are staged under
// <stateDir>/uploads; stateDir should live on the same filesystem as dir so
// commits are a rename.
func New(dir, stateDir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("abs store dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir store: %w", err)
	}
	staging := filepath.Join(stateDir, "uploads")
	if err := os.MkdirAll(staging, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir staging: %w", err)
	}
	s := &Store{
		dir:        abs,
		stagingDir: staging,
		locks:      newNameLocks(),
	}
	s.sweepStaging()
	return s, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// List returns the names of the files directly under the store directory.
// Order follows the directory read and is not guaranteed.
func (s *Store) List() ([]string, error) {
	ents, err := s.Entries()
	if err != nil {
		return nil, err
	}
	return lo.Map(ents, func(e Entry, _ int) string { return e.Name }), nil
}

// Entries is List with size and modification time. Hidden entries,
// directories and anything that is not a regular file are skipped. A missing
// store directory is recreated rather than reported.
func (s *Store) Entries() ([]Entry, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir store: %w", err)
	}
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	return lo.FilterMap(ents, func(e os.DirEntry, _ int) (Entry, bool) {
		if fsutil.ValidName(e.Name()) != nil || !e.Type().IsRegular() {
			return Entry{}, false
		}
		info, err := e.Info()
		if err != nil {
			// removed since ReadDir
			return Entry{}, false
		}
		return Entry{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()}, true
	}), nil
}

// Open opens a stored file for reading. Invalid names and anything that is
// not a regular file report ErrInvalidName or ErrNotFound, never the
// underlying filesystem error.
func (s *Store) Open(name string) (*os.File, fs.FileInfo, error) {
	abs, err := fsutil.JoinWithinRoot(s.dir, name)
	if err != nil {
		return nil, nil, ErrInvalidName
	}
	// Symlinks are not followed, so nothing outside dir is reachable.
	lst, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !lst.Mode().IsRegular() {
		return nil, nil, ErrNotFound
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open %s: %w", name, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !st.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, ErrNotFound
	}
	return f, st, nil
}

// Put streams src into the store under name. At most limit bytes are
// accepted (limit <= 0 means unbounded); one byte more aborts with
// ErrTooLarge. Writers of the same name are serialized, and the name is
// switched to the new content only once it is complete, so a failed or
// cancelled Put leaves any previous file untouched.
func (s *Store) Put(ctx context.Context, name string, src io.Reader, limit int64) (int64, error) {
	dst, err := fsutil.JoinWithinRoot(s.dir, name)
	if err != nil {
		return 0, ErrInvalidName
	}

	release, err := s.locks.acquire(ctx, name)
	if err != nil {
		return 0, err
	}
	defer release()

	up, err := s.begin(name, limit)
	if err != nil {
		return 0, err
	}
	if err := up.fill(ctx, src); err != nil {
		up.discard()
		return up.written, err
	}
	if err := up.commit(dst); err != nil {
		up.discard()
		return up.written, err
	}
	return up.written, nil
}

// sweepStaging drops staging files left behind by a previous process, both
// in the staging dir and the hidden copies a cross-device commit writes next
// to their destination.
func (s *Store) sweepStaging() {
	removeParts(s.stagingDir, func(string) bool { return true })
	removeParts(s.dir, func(name string) bool { return strings.HasPrefix(name, ".") })
}

func removeParts(dir string, match func(name string) bool) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range ents {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), partSuffix) && match(e.Name()) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}
