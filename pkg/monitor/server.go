// Package monitor serves live spectrum and waveform images of the received
// channels, and session statistics as JSON.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// viewWindow is how long after a page or image request its bucket keeps
// being rendered.
const viewWindow = time.Second

type Producer interface {
	Name() string
	GetImage() (*Image, error)
	AddPlotOption(opt PlotOptions)
}

// StatsFunc returns a JSON-encodable snapshot.
type StatsFunc func() interface{}

type Server struct {
	mu              sync.RWMutex
	logger          zerolog.Logger
	images          map[string]map[string]*Image
	producerBuckets map[string]map[string]Producer
	stats           map[string]StatsFunc
	lastViewed      map[string]time.Time
	updateInterval  time.Duration
	enabled         bool
	srv             *http.Server
}

type ServerOption func(s *Server) error

func WithLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

func NewServer(port int, updateInterval time.Duration, opts ...ServerOption) (*Server, error) {
	if updateInterval <= 0 {
		return nil, errors.New("update interval must be positive")
	}
	s := &Server{
		logger:          log.Logger,
		images:          make(map[string]map[string]*Image),
		producerBuckets: make(map[string]map[string]Producer),
		stats:           make(map[string]StatsFunc),
		lastViewed:      make(map[string]time.Time),
		updateInterval:  updateInterval,
		enabled:         true,
		srv:             &http.Server{Addr: fmt.Sprintf(":%d", port)},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With().Str("component", "monitor").Logger()
	s.srv.Handler = s.Handler()
	return s, nil
}

func (s *Server) Enable(enable bool) {
	s.mu.Lock()
	s.enabled = enable
	s.mu.Unlock()
}

// Register adds p to the named bucket. A bucket is one page of images.
func (s *Server) Register(bucket string, p Producer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.producerBuckets[bucket]
	if !ok {
		b = make(map[string]Producer)
		s.producerBuckets[bucket] = b
	}
	b[p.Name()] = p
}

// RegisterStats publishes fn under name on /stats.
func (s *Server) RegisterStats(name string, fn StatsFunc) {
	s.mu.Lock()
	s.stats[name] = fn
	s.mu.Unlock()
}

// Run renders images while they are being viewed and serves HTTP until ctx
// is done or Stop is called.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		t := time.NewTicker(s.updateInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				s.Stop(shutdownCtx)
				cancel()
				return
			case <-t.C:
				s.refresh(false)
			}
		}
	}()

	s.logger.Info().Str("addr", s.srv.Addr).Msg("starting monitor server")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// refresh renders every producer of the recently viewed buckets, or of all
// buckets when force is set.
func (s *Server) refresh(force bool) {
	s.mu.RLock()
	if !s.enabled {
		s.mu.RUnlock()
		return
	}
	work := make(map[string][]Producer)
	for name, bucket := range s.producerBuckets {
		if !force && time.Since(s.lastViewed[name]) >= viewWindow {
			continue
		}
		for _, p := range bucket {
			work[name] = append(work[name], p)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for name, producers := range work {
		for _, p := range producers {
			wg.Add(1)
			go func(bucket string, p Producer) {
				defer wg.Done()
				img, err := p.GetImage()
				if err != nil {
					s.logger.Warn().Err(err).Str("bucket", bucket).Str("producer", p.Name()).Msg("failed to render image")
					return
				}
				if img == nil {
					return
				}
				s.mu.Lock()
				mb, ok := s.images[bucket]
				if !ok {
					mb = make(map[string]*Image)
					s.images[bucket] = mb
				}
				mb[img.name] = img
				s.mu.Unlock()
			}(name, p)
		}
	}
	wg.Wait()
}

func (s *Server) touch(bucket string) {
	s.mu.Lock()
	s.lastViewed[bucket] = time.Now()
	s.mu.Unlock()
}

func (s *Server) sortedBuckets() []string {
	keys := make([]string, 0, len(s.producerBuckets))
	for key := range s.producerBuckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	handler := httprouter.New()
	handler.GET("/", s.handleIndex)
	handler.GET("/view/:bucket", s.handleView)
	handler.GET("/img/:bucket/:img", s.handleImage)
	handler.GET("/stats", s.handleStats)
	return handler
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.RLock()
	keys := s.sortedBuckets()
	s.mu.RUnlock()
	if len(keys) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Location", "/view/"+url.PathEscape(keys[0]))
	w.WriteHeader(http.StatusFound)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	bucket := params.ByName("bucket")

	s.mu.RLock()
	items, ok := s.producerBuckets[bucket]
	var names []string
	for name := range items {
		names = append(names, name)
	}
	buckets := s.sortedBuckets()
	interval := s.updateInterval
	s.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sort.Strings(names)
	s.touch(bucket)

	w.Header().Add("Content-Type", "text/html")
	fmt.Fprintf(w, `<html><head><title>rfstream monitor</title>
	<script type="text/javascript">
		var toggleRefresh = true;
		function toggleOn() {
			toggleRefresh = !toggleRefresh;
		}
		function changeBucket() {
			window.location.href = '/view/' + document.getElementById('bucketSelector').value;
		}
		window.onload = function() {
			for (var i = 0; i < %d; i++) {
				setInterval(function(image) {
					if (toggleRefresh) {
						image.src = image.src.split("?")[0] + "?" + new Date().getTime();
					}
				}, %d, document.getElementById('graph-' + i));
			}
		}
	</script></head><body style='background-color: black'>`, len(names), interval.Milliseconds())

	fmt.Fprint(w, `<select id="bucketSelector" onchange="changeBucket()">`)
	for _, name := range buckets {
		selected := ""
		if name == bucket {
			selected = " selected"
		}
		fmt.Fprintf(w, `<option value="%s"%s>%s</option>`, name, selected, name)
	}
	fmt.Fprint(w, `</select><button onclick="toggleOn()">Refresh?</button>`)

	fmt.Fprint(w, `<div style="display: flex; flex-direction: row; flex-wrap: wrap">`)
	for idx, name := range names {
		fmt.Fprintf(w, `<div><img id="graph-%d" src="/img/%s/%s?%d" /></div>`,
			idx, url.PathEscape(bucket), url.PathEscape(name), time.Now().UnixMicro())
	}
	fmt.Fprint(w, `</div></body></html>`)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	bucket := params.ByName("bucket")
	s.touch(bucket)

	s.mu.RLock()
	img, ok := s.images[bucket][params.ByName("img")]
	s.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Add("Content-Type", "image/png")
	w.Write(img.data)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.RLock()
	fns := make(map[string]StatsFunc, len(s.stats))
	for name, fn := range s.stats {
		fns[name] = fn
	}
	s.mu.RUnlock()

	out := make(map[string]interface{}, len(fns))
	for name, fn := range fns {
		out[name] = fn()
	}

	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode stats")
	}
}
