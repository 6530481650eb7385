package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	chunkSize  = 256 << 10
	partSuffix = ".part"
)

// upload is one in-progress write: a staging file plus the running byte
// count checked against limit. It ends in commit or discard.
type upload struct {
	name    string
	path    string
	f       *os.File
	written int64
	limit   int64
	closed  bool
}

func (s *Store) begin(name string, limit int64) (*upload, error) {
	p := filepath.Join(s.stagingDir, uuid.NewString()+partSuffix)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &upload{name: name, path: p, f: f, limit: limit}, nil
}

func (u *upload) fill(ctx context.Context, src io.Reader) error {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrAborted, err)
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			u.written += int64(n)
			if u.limit > 0 && u.written > u.limit {
				return ErrTooLarge
			}
			if _, werr := u.f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write %s: %w", u.name, werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("%w: %w", ErrAborted, rerr)
		}
	}
}

// commit makes the staged bytes visible under dst in one step.
func (u *upload) commit(dst string) error {
	if err := u.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", u.name, err)
	}
	if err := u.close(); err != nil {
		return fmt.Errorf("close %s: %w", u.name, err)
	}
	if err := os.Rename(u.path, dst); err != nil {
		// Staging dir on another device: copy next to dst, then rename.
		if err2 := copyIntoPlace(u.path, dst); err2 != nil {
			return fmt.Errorf("commit %s: rename=%v copy=%w", u.name, err, err2)
		}
		_ = os.Remove(u.path)
	}
	return nil
}

func (u *upload) discard() {
	_ = u.close()
	_ = os.Remove(u.path)
}

func (u *upload) close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	return u.f.Close()
}

// copyIntoPlace copies src to a hidden temp file in dst's directory and
// renames it over dst, so dst is never observed half written.
func copyIntoPlace(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dst), "."+uuid.NewString()+partSuffix)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(out, in, make([]byte, chunkSize)); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
