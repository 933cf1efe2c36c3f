package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
	"watchcompanion/internal/services/openrequest"
	"watchcompanion/internal/services/session"
	"watchcompanion/internal/services/session/repository/memory"
)

type fakeSurface struct {
	mu         sync.Mutex
	src        string
	time       float64
	duration   float64
	paused     bool
	volume     float64
	muted      bool
	fullscreen bool
	errPanel   string
	destroyed  bool
	seeks      []float64
	setSrcErr  error
}

func newFakeSurface(duration float64) *fakeSurface {
	return &fakeSurface{duration: duration, paused: true, volume: 0.5}
}

func (s *fakeSurface) SetSource(src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setSrcErr != nil {
		return s.setSrcErr
	}
	s.src = src
	return nil
}
func (s *fakeSurface) CurrentTime() float64 { s.mu.Lock(); defer s.mu.Unlock(); return s.time }
func (s *fakeSurface) Duration() float64    { s.mu.Lock(); defer s.mu.Unlock(); return s.duration }
func (s *fakeSurface) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.time = seconds
	s.seeks = append(s.seeks, seconds)
}
func (s *fakeSurface) Play() error         { s.mu.Lock(); defer s.mu.Unlock(); s.paused = false; return nil }
func (s *fakeSurface) Pause()              { s.mu.Lock(); defer s.mu.Unlock(); s.paused = true }
func (s *fakeSurface) Paused() bool        { s.mu.Lock(); defer s.mu.Unlock(); return s.paused }
func (s *fakeSurface) Volume() float64     { s.mu.Lock(); defer s.mu.Unlock(); return s.volume }
func (s *fakeSurface) SetVolume(v float64) { s.mu.Lock(); defer s.mu.Unlock(); s.volume = v }
func (s *fakeSurface) Muted() bool         { s.mu.Lock(); defer s.mu.Unlock(); return s.muted }
func (s *fakeSurface) SetMuted(m bool)     { s.mu.Lock(); defer s.mu.Unlock(); s.muted = m }
func (s *fakeSurface) ToggleFullscreen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullscreen = !s.fullscreen
}
func (s *fakeSurface) ShowError(msg string) { s.mu.Lock(); defer s.mu.Unlock(); s.errPanel = msg }
func (s *fakeSurface) Destroy()             { s.mu.Lock(); defer s.mu.Unlock(); s.destroyed = true }

func (s *fakeSurface) setTime(t float64) { s.mu.Lock(); s.time = t; s.mu.Unlock() }

func (s *fakeSurface) seekCount() int { s.mu.Lock(); defer s.mu.Unlock(); return len(s.seeks) }

type fakeFactory struct {
	surface *fakeSurface
	err     error
}

func (f *fakeFactory) NewSurface(context.Context, domain.PlaybackSession) (ports.Surface, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.surface, nil
}

type fakeWidget struct {
	mu        sync.Mutex
	qualities []string
	onQuality func(string)
	unbound   bool
}

func (w *fakeWidget) Bind(_ ports.Surface, qualities []string, onQuality func(string)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.qualities = qualities
	w.onQuality = onQuality
	return nil
}

func (w *fakeWidget) Unbind() { w.mu.Lock(); w.unbound = true; w.mu.Unlock() }

type fakeEngine struct {
	mu       sync.Mutex
	events   ports.EngineEvents
	loads    []string
	rewriter func(string) string
	onLoad   func(url string)
	loadErr  error
	destroys int
}

func (e *fakeEngine) Attach(_ ports.Surface, ev ports.EngineEvents) error {
	e.mu.Lock()
	e.events = ev
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Load(url string) error {
	e.mu.Lock()
	if e.loadErr != nil {
		e.mu.Unlock()
		return e.loadErr
	}
	e.loads = append(e.loads, url)
	onLoad := e.onLoad
	e.mu.Unlock()
	if onLoad != nil {
		onLoad(url)
	}
	return nil
}

func (e *fakeEngine) SetRequestRewriter(fn func(string) string) {
	e.mu.Lock()
	e.rewriter = fn
	e.mu.Unlock()
}

func (e *fakeEngine) Destroy() { e.mu.Lock(); e.destroys++; e.mu.Unlock() }

func (e *fakeEngine) fireReady() {
	e.mu.Lock()
	ready := e.events.ManifestReady
	e.mu.Unlock()
	ready()
}

func (e *fakeEngine) fireError(f ports.EngineFailure) {
	e.mu.Lock()
	fn := e.events.Error
	e.mu.Unlock()
	fn(f)
}

func (e *fakeEngine) loadCount() int { e.mu.Lock(); defer e.mu.Unlock(); return len(e.loads) }

type fakeNotifier struct {
	mu     sync.Mutex
	toasts []domain.Toast
}

func (n *fakeNotifier) Notify(_ context.Context, t domain.Toast) {
	n.mu.Lock()
	n.toasts = append(n.toasts, t)
	n.mu.Unlock()
}

func (n *fakeNotifier) count() int { n.mu.Lock(); defer n.mu.Unlock(); return len(n.toasts) }

type fakeNavigator struct {
	mu   sync.Mutex
	dirs []ports.Direction
}

func (n *fakeNavigator) Advance(_ context.Context, dir ports.Direction) error {
	n.mu.Lock()
	n.dirs = append(n.dirs, dir)
	n.mu.Unlock()
	return nil
}

func (n *fakeNavigator) directions() []ports.Direction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ports.Direction(nil), n.dirs...)
}

// fakePrompter answers with answer, or blocks until ctx ends when answer is nil.
type fakePrompter struct {
	answer    *bool
	mu        sync.Mutex
	asked     int
	dismissed int
}

func (p *fakePrompter) Ask(ctx context.Context, _ domain.ResumeCheckpoint) (bool, error) {
	p.mu.Lock()
	p.asked++
	p.mu.Unlock()
	if p.answer != nil {
		return *p.answer, nil
	}
	<-ctx.Done()
	return false, ctx.Err()
}

func (p *fakePrompter) Dismiss() { p.mu.Lock(); p.dismissed++; p.mu.Unlock() }

func testSession() domain.PlaybackSession {
	return domain.PlaybackSession{
		EpisodeID:     "ep-7",
		AnimeID:       "frieren",
		AnimeTitle:    "Frieren",
		EpisodeNumber: 7,
		SourceKind:    domain.SourceDirect,
		Qualities: []domain.Quality{
			{Label: "720p", URL: "https://cdn.example.com/ep7-720.mp4", Height: 720},
			{Label: "1080p", URL: "https://cdn.example.com/ep7-1080.mp4", Height: 1080},
		},
		PageURL: "https://site.example/watch/ep-7",
	}
}

func newStore() *session.Store {
	return session.NewStore(memory.NewResumeRepository(), memory.NewBookmarkRepository())
}

type harness struct {
	ctrl     *Controller
	surface  *fakeSurface
	widget   *fakeWidget
	store    *session.Store
	queue    *openrequest.MemoryQueue
	notifier *fakeNotifier
	nav      *fakeNavigator
	prompter *fakePrompter
}

func newDirectHarness(t *testing.T, sess domain.PlaybackSession, cfg Config) *harness {
	t.Helper()
	h := &harness{
		surface:  newFakeSurface(1420),
		widget:   &fakeWidget{},
		store:    newStore(),
		queue:    openrequest.NewMemoryQueue(time.Minute),
		notifier: &fakeNotifier{},
		nav:      &fakeNavigator{},
		prompter: &fakePrompter{},
	}
	variant, err := NewVariant(domain.SourceDirect, VariantDeps{})
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}
	ctrl, err := NewController(sess, cfg, Deps{
		Surfaces:  &fakeFactory{surface: h.surface},
		Widget:    h.widget,
		Variant:   variant,
		Store:     h.store,
		Requests:  h.queue,
		Prompter:  h.prompter,
		Navigator: h.nav,
		Notifier:  h.notifier,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(func() { ctrl.Close(context.Background()) })
	return h
}

func waitResume(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.ResumeDone():
	case <-time.After(2 * time.Second):
		t.Fatal("resume step did not finish")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

var errBoom = errors.New("boom")
