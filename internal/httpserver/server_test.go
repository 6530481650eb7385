package httpserver

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rshare/internal/auth"
	"rshare/internal/config"
	"rshare/internal/store"
)

const testPassword = "pw-for-tests"

type fixture struct {
	t      *testing.T
	ts     *httptest.Server
	store  *store.Store
	cfg    config.Config
	cookie *http.Cookie
	// noFollow does not chase redirects so 303s can be asserted.
	noFollow *http.Client
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.TLS = false
	cfg.MaxUploadBytes = 1 << 20
	if mutate != nil {
		mutate(&cfg)
	}

	root := t.TempDir()
	storeDir := filepath.Join(root, "files")
	st, err := store.New(storeDir, filepath.Join(storeDir, ".rshare"))
	require.NoError(t, err)

	secret, err := auth.NewSecret(testPassword)
	require.NoError(t, err)
	sessions, err := auth.NewMarkerSessions(secret)
	require.NoError(t, err)

	srv, err := New(Options{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Throttle: auth.NewThrottle(cfg.LoginMaxFailures, cfg.LoginLockout.Std()),
		ShareURL: "https://192.168.1.5:8080/login",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	f := &fixture{
		t:     t,
		ts:    ts,
		store: st,
		cfg:   cfg,
		noFollow: &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}},
	}
	f.cookie = f.login(testPassword)
	require.NotNil(t, f.cookie)
	return f
}

// login posts the form and returns the session cookie, if one was set.
func (f *fixture) login(password string) *http.Cookie {
	f.t.Helper()
	resp, err := f.noFollow.PostForm(f.ts.URL+"/login", url.Values{"password": {password}})
	require.NoError(f.t, err)
	defer resp.Body.Close()
	for _, c := range resp.Cookies() {
		if c.Name == f.cfg.CookieName {
			return c
		}
	}
	return nil
}

func (f *fixture) do(req *http.Request, authed bool) *http.Response {
	f.t.Helper()
	if authed {
		req.AddCookie(f.cookie)
	}
	resp, err := f.noFollow.Do(req)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(path string, authed bool) *http.Response {
	f.t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.ts.URL+path, nil)
	require.NoError(f.t, err)
	return f.do(req, authed)
}

type filePart struct {
	field    string
	filename string
	data     []byte
}

func multipartBody(t *testing.T, parts ...filePart) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.field, string(p.data)))
			continue
		}
		w, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (f *fixture) upload(authed bool, parts ...filePart) *http.Response {
	f.t.Helper()
	body, ct := multipartBody(f.t, parts...)
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/upload", body)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", ct)
	return f.do(req, authed)
}

func (f *fixture) uploadFile(name string, data []byte) *http.Response {
	f.t.Helper()
	return f.upload(true, filePart{field: "file", filename: name, data: data})
}

func body(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

func listNames(t *testing.T, f *fixture) []string {
	t.Helper()
	resp := f.get("/files", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var names []string
	require.NoError(t, json.Unmarshal(body(t, resp), &names))
	return names
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	f := newFixture(t, nil)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodGet, "/files"},
		{http.MethodGet, "/api/list"},
		{http.MethodGet, "/download/a.txt"},
		{http.MethodGet, "/thumb/a.png"},
		{http.MethodGet, "/qr"},
		{"PROPFIND", "/dav/"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req, err := http.NewRequest(rt.method, f.ts.URL+rt.path, nil)
			require.NoError(t, err)
			resp := f.do(req, false)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	t.Run("upload has no side effects", func(t *testing.T) {
		resp := f.upload(false, filePart{field: "file", filename: "sneaky.txt", data: []byte("x")})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		names, err := f.store.List()
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("forged cookie", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/files", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: f.cfg.CookieName, Value: "ok"})
		resp := f.do(req, false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("form is public", func(t *testing.T) {
		resp := f.get("/login", false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body(t, resp)), `name="password"`)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp, err := f.noFollow.PostForm(f.ts.URL+"/login", url.Values{"password": {"nope"}})
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))
		assert.Empty(t, resp.Cookies())
	})

	t.Run("right password", func(t *testing.T) {
		resp, err := f.noFollow.PostForm(f.ts.URL+"/login", url.Values{"password": {testPassword}})
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))
		require.Len(t, resp.Cookies(), 1)
		c := resp.Cookies()[0]
		assert.Equal(t, f.cfg.CookieName, c.Name)
		assert.True(t, c.HttpOnly)

		index := f.get("/", true)
		assert.Equal(t, http.StatusOK, index.StatusCode)
		assert.Contains(t, string(body(t, index)), "upload-form")
	})
}

func TestLogin_Throttle(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.LoginMaxFailures = 2
		c.LoginLockout = config.Duration(time.Hour)
	})

	assert.Nil(t, f.login("bad"))
	assert.Nil(t, f.login("bad"))

	resp, err := f.noFollow.PostForm(f.ts.URL+"/login", url.Values{"password": {testPassword}})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Empty(t, resp.Cookies())
}

func TestUploadDownload_RoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	payload := bytes.Repeat([]byte("rshare\n"), 50_000)

	resp := f.upload(true,
		filePart{field: "note", data: []byte("plain field is ignored")},
		filePart{field: "file", filename: "hello.txt", data: payload},
	)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	dl := f.get("/download/hello.txt", true)
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, payload, body(t, dl))
	assert.Equal(t, "text/plain; charset=utf-8", dl.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=hello.txt", dl.Header.Get("Content-Disposition"))

	names := listNames(t, f)
	assert.Equal(t, []string{"hello.txt"}, names)
}

func TestUpload_MultipleFiles(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.upload(true,
		filePart{field: "file", filename: "a.txt", data: []byte("A")},
		filePart{field: "file", filename: "b.txt", data: []byte("B")},
	)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, listNames(t, f))
}

func TestDownload_Range(t *testing.T) {
	f := newFixture(t, nil)
	f.uploadFile("digits.bin", []byte("0123456789"))

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/download/digits.bin", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-5")
	resp := f.do(req, true)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "2345", string(body(t, resp)))
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
}

func TestUpload_SizeBound(t *testing.T) {
	const limit = 1024
	f := newFixture(t, func(c *config.Config) { c.MaxUploadBytes = limit })

	resp := f.uploadFile("exact.bin", make([]byte, limit))
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = f.uploadFile("over.bin", make([]byte, limit+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	assert.Equal(t, http.StatusOK, f.get("/download/exact.bin", true).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.get("/download/over.bin", true).StatusCode)
	assert.Equal(t, []string{"exact.bin"}, listNames(t, f))
}

func TestUpload_Overwrite(t *testing.T) {
	f := newFixture(t, nil)

	f.uploadFile("same.txt", []byte("first upload, which is longer"))
	f.uploadFile("same.txt", []byte("second"))

	resp := f.get("/download/same.txt", true)
	assert.Equal(t, "second", string(body(t, resp)))
}

func TestUpload_InvalidName(t *testing.T) {
	f := newFixture(t, nil)

	for _, name := range []string{".hidden", "..", `a\b.txt`} {
		resp := f.uploadFile(name, []byte("x"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "name %q", name)
	}
	assert.Empty(t, listNames(t, f))
}

func TestUpload_NotMultipart(t *testing.T) {
	f := newFixture(t, nil)
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/upload", strings.NewReader("raw"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, f.do(req, true).StatusCode)
}

func TestUpload_ConcurrentSameName(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.MaxUploadBytes = 8 << 20 })
	a := bytes.Repeat([]byte("A"), 700_000)
	b := bytes.Repeat([]byte("B"), 900_000)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		data := a
		if i%2 == 1 {
			data = b
		}
		wg.Add(1)
		go func(data []byte) {
			defer wg.Done()
			reqBody, ct := multipartBody(t, filePart{field: "file", filename: "race.bin", data: data})
			req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/upload", reqBody)
			if !assert.NoError(t, err) {
				return
			}
			req.Header.Set("Content-Type", ct)
			req.AddCookie(f.cookie)
			resp, err := f.noFollow.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		}(data)
	}
	wg.Wait()

	got := body(t, f.get("/download/race.bin", true))
	assert.True(t, bytes.Equal(got, a) || bytes.Equal(got, b), "download mixes concurrent uploads")
}

func TestDownload_PathSafety(t *testing.T) {
	f := newFixture(t, nil)
	secretPath := filepath.Join(filepath.Dir(f.store.Dir()), "secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("TOPSECRET"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.store.Dir(), ".env"), []byte("TOPSECRET"), 0o644))

	follow := &http.Client{}
	for _, p := range []string{
		"/download/..%2f..%2fsecret",
		"/download/..%2fsecret",
		"/download/%2e%2e%2fsecret",
		"/download/..%5csecret",
		"/download/.env",
		"/download/.rshare",
		"/download/missing.txt",
	} {
		t.Run(p, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, f.ts.URL+p, nil)
			require.NoError(t, err)
			req.AddCookie(f.cookie)
			resp, err := follow.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.NotContains(t, string(body(t, resp)), "TOPSECRET")
		})
	}
}

func TestFiles_Listing(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get("/files", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(string(body(t, resp))))

	f.uploadFile("a.txt", []byte("a"))
	f.uploadFile("b.txt", []byte("b"))
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, listNames(t, f))
}

func TestFiles_MissingStoreDir(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.RemoveAll(f.store.Dir()))

	assert.Empty(t, listNames(t, f))
	_, err := os.Stat(f.store.Dir())
	assert.NoError(t, err)
}

func TestAPIList(t *testing.T) {
	f := newFixture(t, nil)
	f.uploadFile("b.png", pngBytes(t, 10, 10))
	f.uploadFile("A.txt", []byte("hello"))

	resp := f.get("/api/list", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Items []listItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body(t, resp), &out))
	require.Len(t, out.Items, 2)

	assert.Equal(t, "A.txt", out.Items[0].Name)
	assert.Equal(t, int64(5), out.Items[0].Size)
	assert.Empty(t, out.Items[0].Thumb)

	assert.Equal(t, "b.png", out.Items[1].Name)
	assert.Equal(t, "image/png", out.Items[1].Mime)
	assert.Equal(t, "/thumb/b.png", out.Items[1].Thumb)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestThumb(t *testing.T) {
	f := newFixture(t, nil)
	f.uploadFile("wide.png", pngBytes(t, 600, 300))
	f.uploadFile("fake.png", []byte("just text"))

	resp := f.get("/thumb/wide.png", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 128, img.Bounds().Dy())

	assert.Equal(t, http.StatusNotFound, f.get("/thumb/fake.png", true).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.get("/thumb/missing.png", true).StatusCode)
}

func TestQR(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get("/qr", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body(t, resp), []byte("\x89PNG")))
}

func TestDAV_ReadOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.uploadFile("a.txt", []byte("dav content"))

	req, err := http.NewRequest("PROPFIND", f.ts.URL+"/dav/", nil)
	require.NoError(t, err)
	req.Header.Set("Depth", "1")
	resp := f.do(req, true)
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	listing := string(body(t, resp))
	assert.Contains(t, listing, "a.txt")
	assert.NotContains(t, listing, ".rshare")

	got := f.get("/dav/a.txt", true)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "dav content", string(body(t, got)))

	assert.Equal(t, http.StatusNotFound, f.get("/dav/.rshare/", true).StatusCode)

	for _, m := range []string{http.MethodPut, http.MethodDelete, "MKCOL", "MOVE"} {
		req, err := http.NewRequest(m, f.ts.URL+"/dav/a.txt", strings.NewReader("overwrite"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusMethodNotAllowed, f.do(req, true).StatusCode, m)
	}
	assert.Equal(t, "dav content", string(body(t, f.get("/download/a.txt", true))))
}

func TestDAV_Disabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.DAV = false })
	assert.Equal(t, http.StatusNotFound, f.get("/dav/", true).StatusCode)
}

func TestHealthzAndHeaders(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get("/healthz", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body(t, resp)))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "trace-42")
	assert.Equal(t, "trace-42", f.do(req, false).Header.Get("X-Request-Id"))
}
