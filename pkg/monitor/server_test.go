package monitor

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeProducer struct {
	name  string
	data  []byte
	err   error
	calls int
}

func (f *fakeProducer) Name() string { return f.name }

func (f *fakeProducer) GetImage() (*Image, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Image{name: f.name, data: f.data}, nil
}

func (f *fakeProducer) AddPlotOption(opt PlotOptions) {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(0, 100*time.Millisecond, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestNewServerInterval(t *testing.T) {
	if _, err := NewServer(0, 0); err == nil {
		t.Error("NewServer() with zero interval should fail")
	}
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t)
	p := &fakeProducer{name: "spectrum", data: []byte("png")}
	s.Register("rx1", p)
	s.Register("rx2", &fakeProducer{name: "spectrum", data: []byte("other")})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := get(t, srv, "/")
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/view/rx1" {
		t.Errorf("GET / = %d %q, want redirect to /view/rx1", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, _ = get(t, srv, "/img/rx1/spectrum")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("image before render = %d, want 404", resp.StatusCode)
	}

	// The image request marks rx1 as viewed, so a normal refresh renders it.
	s.refresh(false)
	resp, body := get(t, srv, "/img/rx1/spectrum")
	if resp.StatusCode != http.StatusOK || body != "png" || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("GET image = %d %q %q", resp.StatusCode, body, resp.Header.Get("Content-Type"))
	}
	resp, _ = get(t, srv, "/img/rx2/spectrum")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unviewed bucket rendered: %d", resp.StatusCode)
	}

	resp, body = get(t, srv, "/view/rx1")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `src="/img/rx1/spectrum?`) {
		t.Errorf("GET view = %d, body missing image link", resp.StatusCode)
	}
	if !strings.Contains(body, `<option value="rx2">rx2</option>`) {
		t.Error("view page missing bucket selector entry")
	}

	resp, _ = get(t, srv, "/view/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing view = %d, want 404", resp.StatusCode)
	}
}

func TestServerIndexEmpty(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()
	if resp, _ := get(t, srv, "/"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET / with no buckets = %d, want 404", resp.StatusCode)
	}
}

func TestServerRefresh(t *testing.T) {
	s := newTestServer(t)
	ok := &fakeProducer{name: "a", data: []byte("a")}
	bad := &fakeProducer{name: "b", err: errors.New("render failed")}
	s.Register("rx1", ok)
	s.Register("rx1", bad)

	s.refresh(false)
	if ok.calls != 0 {
		t.Errorf("unviewed bucket rendered %d times", ok.calls)
	}

	s.Enable(false)
	s.refresh(true)
	if ok.calls != 0 {
		t.Errorf("disabled server rendered %d times", ok.calls)
	}

	s.Enable(true)
	s.refresh(true)
	if ok.calls != 1 || bad.calls != 1 {
		t.Errorf("forced refresh rendered %d and %d times, want 1", ok.calls, bad.calls)
	}
	if _, found := s.images["rx1"]["b"]; found {
		t.Error("failed render stored an image")
	}
	if _, found := s.images["rx1"]["a"]; !found {
		t.Error("rendered image not stored")
	}
}

func TestServerStats(t *testing.T) {
	s := newTestServer(t)
	s.RegisterStats("session", func() interface{} {
		return map[string]int{"rx_samples": 42}
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, body := get(t, srv, "/stats")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("GET /stats = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	var got map[string]map[string]int
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got["session"]["rx_samples"] != 42 {
		t.Errorf("stats = %v", got)
	}
}
