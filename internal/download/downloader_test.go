package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"watchcompanion/internal/domain"
)

// ---- helpers ----

type memSaver struct {
	mu    sync.Mutex
	name  string
	data  []byte
	calls int
	err   error
}

func (s *memSaver) Save(_ context.Context, filename string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.name = filename
	s.data = data
	return "/downloads/" + filename, nil
}

type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r.Clone())
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count(msg string, segment int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Message != msg {
			continue
		}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "segment" && a.Value.Int64() == int64(segment) {
				n++
				return false
			}
			return true
		})
	}
	return n
}

// segmentServer serves a media playlist of n segments named seg-<i>.ts, each
// segmentSize bytes. Per-segment status overrides are consumed in order.
type segmentServer struct {
	t           *testing.T
	n           int
	segmentSize int
	query       string

	mu        sync.Mutex
	overrides map[int][]int
	gets      map[int]int
	heads     int
	order     []int
	seenQuery []string
}

func newSegmentServer(t *testing.T, n, size int) *segmentServer {
	return &segmentServer{
		t:           t,
		n:           n,
		segmentSize: size,
		overrides:   make(map[int][]int),
		gets:        make(map[int]int),
	}
}

func (s *segmentServer) override(segment int, statuses ...int) {
	s.overrides[segment] = append(s.overrides[segment], statuses...)
}

func (s *segmentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ep/index.m3u8" {
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:10\n")
		for i := 0; i < s.n; i++ {
			fmt.Fprintf(&b, "#EXTINF:10.0,\nseg-%d.ts\n", i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		_, _ = io.WriteString(w, b.String())
		return
	}

	var idx int
	if _, err := fmt.Sscanf(r.URL.Path, "/ep/seg-%d.ts", &idx); err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	s.seenQuery = append(s.seenQuery, r.URL.RawQuery)
	if r.Method == http.MethodHead {
		s.heads++
		s.mu.Unlock()
		w.Header().Set("Content-Length", fmt.Sprint(s.segmentSize))
		w.WriteHeader(http.StatusOK)
		return
	}
	s.gets[idx]++
	s.order = append(s.order, idx)
	status := http.StatusOK
	if queue := s.overrides[idx]; len(queue) > 0 {
		status = queue[0]
		s.overrides[idx] = queue[1:]
	}
	s.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	_, _ = w.Write(bytes.Repeat([]byte{byte('a' + idx%26)}, s.segmentSize))
}

func (s *segmentServer) getCount(idx int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[idx]
}

func (s *segmentServer) maxFetched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := -1
	for _, idx := range s.order {
		if idx > max {
			max = idx
		}
	}
	return max
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimitBackoff = 20 * time.Millisecond
	return cfg
}

type outcome struct {
	progress  []domain.DownloadProgress
	successes []Result
	failures  []error
}

func (o *outcome) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(p domain.DownloadProgress) { o.progress = append(o.progress, p) },
		OnSuccess:  func(r Result) { o.successes = append(o.successes, r) },
		OnFailure:  func(err error) { o.failures = append(o.failures, err) },
	}
}

func testJob(url string) domain.DownloadJob {
	return domain.DownloadJob{
		ID:            "job-1",
		URL:           url,
		Title:         "Frieren",
		EpisodeNumber: 7,
		Quality:       "1080p",
		Fansubs:       []string{"SubsPlease"},
		SourceTag:     "test",
	}
}

// ---- tests ----

func TestDownload_ProgressIsMonotonicAndReachesHundredOnce(t *testing.T) {
	srv := newSegmentServer(t, 7, 100)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	saver := &memSaver{}
	d := New(ts.Client(), saver, testConfig(), nil)
	var out outcome
	res, err := d.Download(context.Background(), testJob(ts.URL+"/ep/index.m3u8"), out.callbacks())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if len(out.progress) != 8 {
		t.Fatalf("progress callbacks = %d, want 8", len(out.progress))
	}
	hundreds := 0
	for i, p := range out.progress {
		if p.Done != i {
			t.Fatalf("progress[%d].Done = %d, want %d", i, p.Done, i)
		}
		if p.Total != 7 {
			t.Fatalf("progress[%d].Total = %d, want 7", i, p.Total)
		}
		if p.Percentage == 100 {
			hundreds++
		}
	}
	if hundreds != 1 {
		t.Fatalf("percentage reached 100 %d times, want 1", hundreds)
	}
	if last := out.progress[len(out.progress)-1]; last.DoneBytes != 700 {
		t.Fatalf("doneBytes = %d, want 700", last.DoneBytes)
	}
	if len(out.successes) != 1 || len(out.failures) != 0 {
		t.Fatalf("successes=%d failures=%d", len(out.successes), len(out.failures))
	}
	if res.Segments != 7 || res.Bytes != 700 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(saver.data) != 700 || saver.calls != 1 {
		t.Fatalf("saved %d bytes in %d calls", len(saver.data), saver.calls)
	}
	if saver.data[0] != 'a' || saver.data[699] != 'g' {
		t.Fatal("segments were not concatenated in order")
	}
	if !strings.HasSuffix(saver.name, ".ts") {
		t.Fatalf("filename = %q", saver.name)
	}
}

func TestDownload_SizeEstimateFromProbe(t *testing.T) {
	srv := newSegmentServer(t, 20, 50)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	d := New(ts.Client(), &memSaver{}, testConfig(), nil)
	var out outcome
	if _, err := d.Download(context.Background(), testJob(ts.URL+"/ep/index.m3u8"), out.callbacks()); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if out.progress[0].EstimatedTotalBytes != 1000 {
		t.Fatalf("estimate = %d, want 1000", out.progress[0].EstimatedTotalBytes)
	}
	if srv.heads != 10 {
		t.Fatalf("probes = %d, want 10", srv.heads)
	}
}

func TestDownload_RateLimitedSegmentRetriedOnce(t *testing.T) {
	srv := newSegmentServer(t, 12, 10)
	srv.override(5, http.StatusTooManyRequests)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	logs := &captureHandler{}
	cfg := testConfig()
	d := New(ts.Client(), &memSaver{}, cfg, slog.New(logs))
	var out outcome

	start := time.Now()
	res, err := d.Download(context.Background(), testJob(ts.URL+"/ep/index.m3u8"), out.callbacks())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.RateLimitBackoff {
		t.Fatalf("finished in %v, expected to wait at least %v", elapsed, cfg.RateLimitBackoff)
	}

	last := out.progress[len(out.progress)-1]
	if last.Total != 12 || last.Done != 12 {
		t.Fatalf("final progress = %+v", last)
	}
	if res.Segments != 12 {
		t.Fatalf("segments = %d", res.Segments)
	}
	if got := srv.getCount(5); got != 2 {
		t.Fatalf("segment 5 fetched %d times, want 2", got)
	}
	if got := srv.getCount(6); got != 1 {
		t.Fatalf("segment 6 fetched %d times, want 1", got)
	}
	if got := logs.count("download: segment rate limited, retrying", 5); got != 1 {
		t.Fatalf("retry logs for segment 5 = %d, want 1", got)
	}
	if len(out.successes) != 1 || len(out.failures) != 0 {
		t.Fatalf("successes=%d failures=%d", len(out.successes), len(out.failures))
	}
}

func TestDownload_RateLimitRetriesExhausted(t *testing.T) {
	srv := newSegmentServer(t, 4, 10)
	srv.override(2, http.StatusTooManyRequests, http.StatusTooManyRequests)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	d := New(ts.Client(), &memSaver{}, testConfig(), nil)
	var out outcome
	_, err := d.Download(context.Background(), testJob(ts.URL+"/ep/index.m3u8"), out.callbacks())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var dlErr *Error
	if !errors.As(err, &dlErr) || dlErr.Reason != ReasonRetriesExhausted || dlErr.Segment != 2 {
		t.Fatalf("unexpected error detail: %#v", dlErr)
	}
	if !errors.Is(err, domain.ErrDownloadFailed) {
		t.Fatal("expected ErrDownloadFailed in chain")
	}
	if got := srv.getCount(2); got != 2 {
		t.Fatalf("segment 2 fetched %d times, want 2", got)
	}
	if srv.maxFetched() != 2 {
		t.Fatalf("fetched past failing segment: max=%d", srv.maxFetched())
	}
	if len(out.failures) != 1 || len(out.successes) != 0 {
		t.Fatalf("successes=%d failures=%d", len(out.successes), len(out.failures))
	}
}

func TestDownload_ForbiddenStopsImmediately(t *testing.T) {
	srv := newSegmentServer(t, 15, 10)
	srv.override(11, http.StatusForbidden)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	saver := &memSaver{}
	d := New(ts.Client(), saver, testConfig(), nil)
	var out outcome
	_, err := d.Download(context.Background(), testJob(ts.URL+"/ep/index.m3u8"), out.callbacks())
	if !errors.Is(err, domain.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	var dlErr *Error
	if !errors.As(err, &dlErr) || dlErr.Reason != ReasonPermanent || dlErr.Status != http.StatusForbidden {
		t.Fatalf("unexpected error detail: %#v", dlErr)
	}
	if got := srv.getCount(11); got != 1 {
		t.Fatalf("segment 11 fetched %d times, want 1", got)
	}
	if srv.maxFetched() != 11 {
		t.Fatalf("fetched past forbidden segment: max=%d", srv.maxFetched())
	}
	if saver.calls != 0 {
		t.Fatal("saver must not be called on failure")
	}
	if len(out.failures) != 1 || len(out.successes) != 0 {
		t.Fatalf("successes=%d failures=%d", len(out.successes), len(out.failures))
	}
}

func TestDownload_OtherStatusFailsPermanently(t *testing.T) {
	srv := newSegmentServer(t, 3, 10)
	srv.override(0, http.StatusInternalServerError)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	d := New(ts.Client(), &memSaver{}, testConfig(), nil)
	var out outcome
	_, err := d.Download(context.Background(), testJob(ts.URL+"/ep/index.m3u8"), out.callbacks())
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if got := srv.getCount(0); got != 1 {
		t.Fatalf("segment 0 fetched %d times, want 1 (no retry for 5xx)", got)
	}
	if len(out.failures) != 1 {
		t.Fatalf("failures = %d", len(out.failures))
	}
}

func TestDownload_PropagatesManifestToken(t *testing.T) {
	srv := newSegmentServer(t, 3, 10)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	d := New(ts.Client(), &memSaver{}, testConfig(), nil)
	if _, err := d.Download(context.Background(), testJob(ts.URL+"/ep/index.m3u8?token=abc&expires=123"), Callbacks{}); err != nil {
		t.Fatalf("Download: %v", err)
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.seenQuery) == 0 {
		t.Fatal("no segment requests seen")
	}
	for _, q := range srv.seenQuery {
		if !strings.Contains(q, "token=abc") || !strings.Contains(q, "expires=123") {
			t.Fatalf("segment request missing auth params: %q", q)
		}
	}
}

func TestDownload_FollowsMasterPlaylist(t *testing.T) {
	srv := newSegmentServer(t, 2, 10)
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100,RESOLUTION=640x360\nlow/index.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=900,RESOLUTION=1920x1080\nep/index.m3u8\n")
	})
	mux.Handle("/", srv)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	d := New(ts.Client(), &memSaver{}, testConfig(), nil)
	res, err := d.Download(context.Background(), testJob(ts.URL+"/master.m3u8"), Callbacks{})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Segments != 2 {
		t.Fatalf("segments = %d, want 2", res.Segments)
	}
}

func TestDownload_SingleFile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not-a-playlist-just-bytes"))
	}))
	defer ts.Close()

	saver := &memSaver{}
	d := New(ts.Client(), saver, testConfig(), nil)
	var out outcome
	res, err := d.Download(context.Background(), testJob(ts.URL+"/video/ep7.mkv?x=1"), out.callbacks())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.Segments != 1 || string(saver.data) != "not-a-playlist-just-bytes" {
		t.Fatalf("unexpected single-file result %+v data=%q", res, saver.data)
	}
	if !strings.HasSuffix(saver.name, ".mkv") {
		t.Fatalf("filename = %q", saver.name)
	}
	if len(out.progress) != 2 || out.progress[1].Percentage != 100 {
		t.Fatalf("progress = %+v", out.progress)
	}
}

func TestDownload_ManifestForbidden(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	d := New(ts.Client(), &memSaver{}, testConfig(), nil)
	var out outcome
	_, err := d.Download(context.Background(), testJob(ts.URL+"/ep/index.m3u8"), out.callbacks())
	if !errors.Is(err, domain.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if len(out.failures) != 1 || len(out.progress) != 0 {
		t.Fatalf("failures=%d progress=%d", len(out.failures), len(out.progress))
	}
}

func TestDownload_SaveFailureReportedOnce(t *testing.T) {
	srv := newSegmentServer(t, 2, 10)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	d := New(ts.Client(), &memSaver{err: errors.New("disk full")}, testConfig(), nil)
	var out outcome
	_, err := d.Download(context.Background(), testJob(ts.URL+"/ep/index.m3u8"), out.callbacks())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected save error, got %v", err)
	}
	if len(out.failures) != 1 || len(out.successes) != 0 {
		t.Fatalf("successes=%d failures=%d", len(out.successes), len(out.failures))
	}
}

func TestDownload_ContextCancelledDuringBackoff(t *testing.T) {
	srv := newSegmentServer(t, 3, 10)
	srv.override(1, http.StatusTooManyRequests)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	cfg := testConfig()
	cfg.RateLimitBackoff = time.Hour
	d := New(ts.Client(), &memSaver{}, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	var out outcome
	_, err := d.Download(ctx, testJob(ts.URL+"/ep/index.m3u8"), out.callbacks())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(out.failures) != 1 {
		t.Fatalf("failures = %d", len(out.failures))
	}
}
