package httpserver

import (
	"net/http"

	"github.com/skip2/go-qrcode"
)

// handleQR renders the LAN login URL so a phone can scan its way in.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if s.shareURL == "" {
		http.NotFound(w, r)
		return
	}
	png, err := qrcode.Encode(s.shareURL, qrcode.Medium, 256)
	if err != nil {
		s.log.Error(r.Context(), "qr encode", "err", err, "rid", requestID(r.Context()))
		http.Error(w, "qr failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
