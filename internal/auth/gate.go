package auth

import (
	"html"
	"io"
	"net"
	"net/http"
	"strings"
)

const DefaultCookieName = "rshare_session"

// Gate wraps protected routes. A request without the session cookie is
// answered with 401 before the wrapped handler runs.
type Gate struct {
	Sessions   SessionStore
	CookieName string
	// LoginPath is linked from the 401 page shown to browsers.
	LoginPath string
}

func (g Gate) cookieName() string {
	if g.CookieName == "" {
		return DefaultCookieName
	}
	return g.CookieName
}

// Authenticated reports whether r carries a valid session cookie.
func (g Gate) Authenticated(r *http.Request) bool {
	c, err := r.Cookie(g.cookieName())
	if err != nil {
		return false
	}
	return g.Sessions.Validate(c.Value)
}

func (g Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Authenticated(r) {
			g.deny(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetCookie stores token in the session cookie. No expiry: the cookie lives
// until the browser drops it.
func (g Gate) SetCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (g Gate) deny(w http.ResponseWriter, r *http.Request) {
	if g.LoginPath != "" && wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		login := html.EscapeString(g.LoginPath)
		_, _ = io.WriteString(w, `<!DOCTYPE html><meta http-equiv="refresh" content="0; url=`+login+`">`+
			`<p>Please <a href="`+login+`">log in</a>.</p>`)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func wantsHTML(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// ClientIP is the peer address of r. Forwarding headers are ignored: the
// server is reached directly on the LAN and they are trivially spoofed.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
