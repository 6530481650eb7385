package httpserver

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/net/webdav"

	"rshare/internal/fsutil"
)

// davHandler mounts the store read-only at /dav/. Uploads go through
// /upload so they get the size bound and the per-name lock.
func (s *Server) davHandler() http.Handler {
	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: readOnlyFS{root: s.store.Dir(), fs: webdav.Dir(s.store.Dir())},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.log.Debug(r.Context(), "webdav", "method", r.Method, "path", r.URL.Path, "err", err)
			}
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
			dav.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS, PROPFIND")
			http.Error(w, "read-only", http.StatusMethodNotAllowed)
		}
	})
}

// readOnlyFS exposes the same flat view as the listing: the root and the
// regular, non-hidden files directly under it.
type readOnlyFS struct {
	root string
	fs   webdav.FileSystem
}

func (ro readOnlyFS) allowed(name string) bool {
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	if clean == "" {
		return true
	}
	if fsutil.ValidName(clean) != nil {
		return false
	}
	// Lstat: symlinks and directories are not part of the share.
	st, err := os.Lstat(filepath.Join(ro.root, clean))
	return err == nil && st.Mode().IsRegular()
}

func (ro readOnlyFS) Mkdir(context.Context, string, os.FileMode) error {
	return os.ErrPermission
}

func (ro readOnlyFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}
	if !ro.allowed(name) {
		return nil, os.ErrNotExist
	}
	f, err := ro.fs.OpenFile(ctx, name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return readOnlyFile{File: f}, nil
}

func (ro readOnlyFS) RemoveAll(context.Context, string) error {
	return os.ErrPermission
}

func (ro readOnlyFS) Rename(context.Context, string, string) error {
	return os.ErrPermission
}

func (ro readOnlyFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	if !ro.allowed(name) {
		return nil, os.ErrNotExist
	}
	return ro.fs.Stat(ctx, name)
}

type readOnlyFile struct {
	webdav.File
}

func (f readOnlyFile) Write([]byte) (int, error) {
	return 0, os.ErrPermission
}

func (f readOnlyFile) Readdir(count int) ([]fs.FileInfo, error) {
	infos, err := f.File.Readdir(count)
	return lo.Filter(infos, func(fi fs.FileInfo, _ int) bool {
		return fi.Mode().IsRegular() && fsutil.ValidName(fi.Name()) == nil
	}), err
}
