package httpserver

import (
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"rshare/internal/store"
)

type listItem struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
	Mime  string `json:"mime"`
	Thumb string `json:"thumb,omitempty"`
}

// handleFiles answers with a JSON array of stored file names.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List()
	if err != nil {
		s.log.Error(r.Context(), "list store", "err", err, "rid", requestID(r.Context()))
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, names)
}

// handleList is the detailed listing behind the web UI.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ents, err := s.store.Entries()
	if err != nil {
		s.log.Error(r.Context(), "list store", "err", err, "rid", requestID(r.Context()))
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	items := lo.Map(ents, func(e store.Entry, _ int) listItem {
		it := listItem{
			Name:  e.Name,
			Size:  e.Size,
			Mtime: e.ModTime.Unix(),
			Mime:  contentTypeForName(e.Name),
		}
		if isImageExt(strings.ToLower(filepath.Ext(e.Name))) {
			it.Thumb = "/thumb/" + url.PathEscape(e.Name)
		}
		return it
	})
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	writeJSON(w, map[string]any{"items": items})
}
