package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"rshare/internal/auth"
)

const maxLoginBody = 64 << 10

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, "login.html")
}

// handleLoginSubmit trades the password form field for the session cookie.
// A wrong password sends the browser back to the form without a cookie.
func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client := auth.ClientIP(r)

	if locked, until := s.throttle.Locked(client); locked {
		retry := int(time.Until(until).Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		http.Error(w, "too many failed logins, try again later", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	token, err := s.sessions.Issue(r.PostFormValue("password"))
	if err != nil {
		nowLocked := s.throttle.Fail(client)
		s.log.Warn(ctx, "login failed", "ip", client, "locked", nowLocked, "rid", requestID(ctx))
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	s.throttle.Reset(client)
	s.gate.SetCookie(w, token, s.cfg.TLS)
	s.log.Info(ctx, "login ok", "ip", client, "rid", requestID(ctx))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
