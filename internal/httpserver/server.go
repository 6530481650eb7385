package httpserver

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"rshare/internal/auth"
	"rshare/internal/config"
	"rshare/internal/logging"
	"rshare/internal/store"
)

type Options struct {
	Config   config.Config
	Store    *store.Store
	Sessions auth.SessionStore
	// Throttle may be nil (no login lockout).
	Throttle *auth.Throttle
	Logger   logging.Logger
	// ShareURL is the LAN login URL encoded by /qr. Empty disables /qr.
	ShareURL string
}

type Server struct {
	cfg      config.Config
	store    *store.Store
	sessions auth.SessionStore
	gate     auth.Gate
	throttle *auth.Throttle
	log      logging.Logger
	shareURL string

	webFS fs.FS
}

//go:embed web/index.html web/login.html
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("httpserver: store is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("httpserver: session store is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      opts.Config,
		store:    opts.Store,
		sessions: opts.Sessions,
		gate: auth.Gate{
			Sessions:   opts.Sessions,
			CookieName: opts.Config.CookieName,
			LoginPath:  "/login",
		},
		throttle: opts.Throttle,
		log:      log,
		shareURL: opts.ShareURL,
		webFS:    sub,
	}, nil
}

// Handler returns the full HTTP surface. Everything except /login and
// /healthz sits behind the session gate.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /login", s.handleLoginForm)
	mux.HandleFunc("POST /login", s.handleLoginSubmit)

	protect := func(h http.HandlerFunc) http.Handler { return s.gate.Require(h) }

	mux.Handle("GET /{$}", protect(s.handleIndex))
	mux.Handle("POST /upload", protect(s.handleUpload))
	mux.Handle("GET /files", protect(s.handleFiles))
	mux.Handle("GET /api/list", protect(s.handleList))
	mux.Handle("GET /download/{name}", protect(s.handleDownload))
	mux.Handle("GET /thumb/{name}", protect(s.handleThumb))
	mux.Handle("GET /qr", protect(s.handleQR))

	if s.cfg.DAV {
		mux.Handle("/dav/", s.gate.Require(s.davHandler()))
	}

	return s.withRequestID(s.accessLog(withHeaders(mux)))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, "index.html")
}

func (s *Server) servePage(w http.ResponseWriter, name string) {
	b, err := fs.ReadFile(s.webFS, name)
	if err != nil {
		http.Error(w, "missing ui", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// contentTypeForName guesses from the extension; unknown types are served
// as a generic binary stream.
func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".log", ".md", ".json", ".yaml", ".yml", ".toml", ".ini", ".conf", ".csv":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz":
		return "application/gzip"
	case ".7z":
		return "application/x-7z-compressed"
	default:
		return "application/octet-stream"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}
