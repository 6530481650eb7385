package httpserver

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net/http"

	// decoders
	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"rshare/internal/store"
)

// maxThumbPixels refuses to decode images whose header claims more pixels
// than this.
const maxThumbPixels = 64 << 20

var (
	thumbTypes    = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
	errNotAnImage = errors.New("not a supported image")
)

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	f, _, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidName) {
			http.NotFound(w, r)
			return
		}
		s.log.Error(r.Context(), "open for thumb", "name", name, "err", err, "rid", requestID(r.Context()))
		http.Error(w, "thumb failed", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	b, err := makeThumb(f, s.cfg.ThumbMaxPx)
	if err != nil {
		s.log.Debug(r.Context(), "no thumb", "name", name, "err", err)
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(b)
}

// makeThumb sniffs src, then scales it to fit in a max x max box and encodes
// the result as JPEG. Content is checked, not the file name.
func makeThumb(src io.ReadSeeker, max int) ([]byte, error) {
	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, err
	}
	if !lo.ContainsBy(thumbTypes, func(t string) bool { return mt.Is(t) }) {
		return nil, errNotAnImage
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(src)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxThumbPixels {
		return nil, errNotAnImage
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(src)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if max <= 0 {
		max = 256
	}

	nw, nh := w, h
	if w > h {
		if w > max {
			nw = max
			nh = int(float64(h) * (float64(max) / float64(w)))
		}
	} else {
		if h > max {
			nh = max
			nw = int(float64(w) * (float64(max) / float64(h)))
		}
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
