package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"rshare/internal/store"
)

// handleUpload streams every file part of a multipart body into the store,
// one part at a time. Parts without a filename are plain form fields and are
// skipped. The first failing part ends the request; parts already stored
// stay stored.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart/form-data", http.StatusBadRequest)
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.uploadFailed(w, r, "", fmt.Errorf("%w: %w", store.ErrAborted, err))
			return
		}
		// FileName drops any directory part the client sent.
		name := part.FileName()
		if name == "" {
			_ = part.Close()
			continue
		}
		n, err := s.store.Put(ctx, name, part, s.cfg.MaxUploadBytes)
		_ = part.Close()
		if err != nil {
			s.uploadFailed(w, r, name, err)
			return
		}
		s.log.Info(ctx, "upload stored", "name", name, "bytes", n, "rid", requestID(ctx))
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) uploadFailed(w http.ResponseWriter, r *http.Request, name string, err error) {
	ctx := r.Context()
	rid := requestID(ctx)
	switch {
	case errors.Is(err, store.ErrTooLarge):
		s.log.Warn(ctx, "upload too large", "name", name, "limit", s.cfg.MaxUploadBytes, "rid", rid)
		http.Error(w, "file too big", http.StatusRequestEntityTooLarge)
	case errors.Is(err, store.ErrInvalidName):
		s.log.Warn(ctx, "upload rejected", "name", name, "rid", rid)
		http.Error(w, "invalid file name", http.StatusBadRequest)
	case errors.Is(err, store.ErrAborted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		s.log.Info(ctx, "upload aborted", "name", name, "err", err, "rid", rid)
		http.Error(w, "upload aborted", http.StatusBadRequest)
	default:
		s.log.Error(ctx, "upload failed", "name", name, "err", err, "rid", rid)
		http.Error(w, "upload failed", http.StatusInternalServerError)
	}
}

// handleDownload streams one stored file. Names that are missing, hidden or
// would leave the store all look the same to the client.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	f, st, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidName) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		s.log.Error(ctx, "open for download", "name", name, "err", err, "rid", requestID(ctx))
		http.Error(w, "can't open file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeForName(name))
	w.Header().Set("Content-Disposition", attachment(name))
	http.ServeContent(w, r, name, st.ModTime(), f)
}

// attachment builds a Content-Disposition value; non-ASCII names use the
// RFC 2231 filename* form.
func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
