package fsutil

import (
	"errors"
	"path/filepath"
	"strings"
)

// MaxNameLen is the longest file name accepted, in bytes.
const MaxNameLen = 255

var (
	ErrInvalidName = errors.New("invalid name")
	ErrPathEscape  = errors.New("path escape")
)

// ValidName reports whether name can be used as a single entry directly
// under a flat store directory. Separators, parent references, absolute
// markers, NUL and leading dots are all rejected; hidden names are reserved
// for server state.
func ValidName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return ErrInvalidName
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidName
	}
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	// Catches volume names ("C:") and reserved device names on Windows.
	if !filepath.IsLocal(name) || filepath.VolumeName(name) != "" {
		return ErrInvalidName
	}
	return nil
}

// JoinWithinRoot returns the absolute path of name under rootAbs. It rejects
// invalid names and anything that would resolve outside the root.
func JoinWithinRoot(rootAbs string, name string) (string, error) {
	if err := ValidName(name); err != nil {
		return "", err
	}
	abs := filepath.Clean(filepath.Join(rootAbs, name))
	rootClean := filepath.Clean(rootAbs)
	if filepath.Dir(abs) != rootClean {
		return "", ErrPathEscape
	}
	return abs, nil
}
