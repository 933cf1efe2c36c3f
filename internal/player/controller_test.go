package player

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"testing"
	"time"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
	"watchcompanion/internal/manifest"
)

func boolPtr(b bool) *bool { return &b }

func TestController_ScenarioA_AutoResume(t *testing.T) {
	h := newDirectHarness(t, testSession(), DefaultConfig())
	ctx := context.Background()
	if _, err := h.store.SaveCheckpoint(ctx, domain.ResumeCheckpoint{EpisodeID: "ep-7", Position: 700}, 1420); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	if err := h.ctrl.Replace(ctx); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	waitResume(t, h.ctrl)

	if got := h.surface.CurrentTime(); got != 700 {
		t.Fatalf("position after resume = %v, want 700", got)
	}
	if h.ctrl.State() != StateReady {
		t.Fatalf("state = %s, want ready", h.ctrl.State())
	}
	if h.surface.src != "https://cdn.example.com/ep7-1080.mp4" {
		t.Fatalf("default quality not the tallest: %q", h.surface.src)
	}
	if len(h.widget.qualities) != 2 {
		t.Fatalf("widget qualities = %v", h.widget.qualities)
	}
}

func TestController_ScenarioB_AskTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResumePolicy = ResumeAsk
	cfg.PromptTimeout = 50 * time.Millisecond
	h := newDirectHarness(t, testSession(), cfg)
	ctx := context.Background()
	_, _ = h.store.SaveCheckpoint(ctx, domain.ResumeCheckpoint{EpisodeID: "ep-7", Position: 700}, 1420)

	start := time.Now()
	if err := h.ctrl.Replace(ctx); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	waitResume(t, h.ctrl)

	if time.Since(start) < cfg.PromptTimeout {
		t.Fatal("resume step finished before the prompt timeout")
	}
	if h.surface.seekCount() != 0 {
		t.Fatalf("unexpected seek: %v", h.surface.seeks)
	}
	if h.prompter.asked != 1 || h.prompter.dismissed != 1 {
		t.Fatalf("asked=%d dismissed=%d, want 1/1", h.prompter.asked, h.prompter.dismissed)
	}
}

func TestController_AskAccepted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResumePolicy = ResumeAsk
	h := newDirectHarness(t, testSession(), cfg)
	h.prompter.answer = boolPtr(true)
	ctx := context.Background()
	_, _ = h.store.SaveCheckpoint(ctx, domain.ResumeCheckpoint{EpisodeID: "ep-7", Position: 700}, 1420)

	_ = h.ctrl.Replace(ctx)
	waitResume(t, h.ctrl)
	if got := h.surface.CurrentTime(); got != 700 {
		t.Fatalf("position = %v, want 700", got)
	}
}

func TestController_ResumeOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResumePolicy = ResumeOff
	h := newDirectHarness(t, testSession(), cfg)
	ctx := context.Background()
	_, _ = h.store.SaveCheckpoint(ctx, domain.ResumeCheckpoint{EpisodeID: "ep-7", Position: 700}, 1420)

	_ = h.ctrl.Replace(ctx)
	waitResume(t, h.ctrl)
	if h.surface.seekCount() != 0 {
		t.Fatal("policy off must not seek")
	}
}

func TestController_OpenRequestWinsOverCheckpoint(t *testing.T) {
	h := newDirectHarness(t, testSession(), DefaultConfig())
	ctx := context.Background()
	_, _ = h.store.SaveCheckpoint(ctx, domain.ResumeCheckpoint{EpisodeID: "ep-7", Position: 700}, 1420)
	pos := 812.0
	_, _ = h.queue.Push(ctx, domain.PendingOpenRequest{Kind: domain.OpenResume, EpisodeID: "other", Position: &pos})
	_, _ = h.queue.Push(ctx, domain.PendingOpenRequest{Kind: domain.OpenBookmark, EpisodeID: "ep-7", Position: &pos})

	_ = h.ctrl.Replace(ctx)
	waitResume(t, h.ctrl)

	if got := h.surface.CurrentTime(); got != 812 {
		t.Fatalf("position = %v, want 812 from the open request", got)
	}
	if h.surface.seekCount() != 1 {
		t.Fatalf("seeks = %v, want exactly one", h.surface.seeks)
	}
	left, _ := h.queue.List(ctx, domain.OpenBookmark)
	if len(left) != 0 {
		t.Fatalf("open request not consumed: %+v", left)
	}
	others, _ := h.queue.List(ctx, domain.OpenResume)
	if len(others) != 1 {
		t.Fatal("request for another episode was consumed")
	}
}

func TestController_OpenRequestWithoutPositionSuppressesResume(t *testing.T) {
	h := newDirectHarness(t, testSession(), DefaultConfig())
	ctx := context.Background()
	_, _ = h.store.SaveCheckpoint(ctx, domain.ResumeCheckpoint{EpisodeID: "ep-7", Position: 700}, 1420)
	_, _ = h.queue.Push(ctx, domain.PendingOpenRequest{Kind: domain.OpenResume, EpisodeID: "ep-7"})

	_ = h.ctrl.Replace(ctx)
	waitResume(t, h.ctrl)
	if h.surface.seekCount() != 0 {
		t.Fatalf("seeks = %v, want none", h.surface.seeks)
	}
}

func TestController_ReplaceFailures(t *testing.T) {
	t.Run("no qualities", func(t *testing.T) {
		sess := testSession()
		sess.Qualities = nil
		h := newDirectHarness(t, sess, DefaultConfig())
		err := h.ctrl.Replace(context.Background())
		if !errors.Is(err, domain.ErrReplaceFailed) {
			t.Fatalf("err = %v", err)
		}
		if h.ctrl.State() != StateReplaceFailed || h.notifier.count() != 1 {
			t.Fatalf("state=%s toasts=%d", h.ctrl.State(), h.notifier.count())
		}
		waitResume(t, h.ctrl)
	})

	t.Run("source rejected in frame", func(t *testing.T) {
		sess := testSession()
		sess.InChildContext = true
		h := newDirectHarness(t, sess, DefaultConfig())
		h.surface.setSrcErr = errBoom
		var outcome error
		h.ctrl.deps.Outcome = func(_ context.Context, err error) { outcome = err }

		err := h.ctrl.Replace(context.Background())
		if !errors.Is(err, domain.ErrReplaceFailed) || !errors.Is(outcome, domain.ErrReplaceFailed) {
			t.Fatalf("err=%v outcome=%v", err, outcome)
		}
		if h.surface.errPanel == "" {
			t.Fatal("error panel not shown")
		}
		if !h.widget.unbound {
			t.Fatal("controls left bound after failure")
		}
		if err := h.ctrl.TogglePlay(); !errors.Is(err, ErrNotReady) {
			t.Fatalf("TogglePlay after failure = %v", err)
		}
	})

	t.Run("replace twice", func(t *testing.T) {
		h := newDirectHarness(t, testSession(), DefaultConfig())
		_ = h.ctrl.Replace(context.Background())
		if err := h.ctrl.Replace(context.Background()); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("second Replace = %v", err)
		}
	})
}

func TestController_CheckpointEdgeGuard(t *testing.T) {
	h := newDirectHarness(t, testSession(), Config{ResumePolicy: ResumeOff})
	ctx := context.Background()
	_ = h.ctrl.Replace(ctx)
	waitResume(t, h.ctrl)

	for _, pos := range []float64{0, 5, 1415, 1420} {
		h.surface.setTime(pos)
		h.ctrl.OnPause(ctx)
		if _, err := h.store.Checkpoint(ctx, "ep-7"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("checkpoint written at %v", pos)
		}
	}

	h.surface.setTime(640)
	h.ctrl.OnVisibilityHidden(ctx)
	cp, err := h.store.Checkpoint(ctx, "ep-7")
	if err != nil || cp.Position != 640 || cp.LocationURL != "https://site.example/watch/ep-7" {
		t.Fatalf("checkpoint = %+v, %v", cp, err)
	}
}

func TestController_QualitySwitchRoundTrip_Streaming(t *testing.T) {
	surface := newFakeSurface(1420)
	engine := &fakeEngine{}
	engine.onLoad = func(string) { surface.setTime(0) }
	variant, err := NewVariant(domain.SourceStreaming, VariantDeps{Engine: engine})
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}
	sess := testSession()
	sess.SourceKind = domain.SourceStreaming
	sess.Qualities = []domain.Quality{
		{Label: "720p", URL: "https://cdn.example.com/720/index.m3u8", Height: 720},
		{Label: "1080p", URL: "https://cdn.example.com/1080/index.m3u8", Height: 1080},
	}
	sess.CurrentQuality = "720p"
	ctrl, _ := NewController(sess, Config{ResumePolicy: ResumeOff}, Deps{Surfaces: &fakeFactory{surface: surface}, Variant: variant})
	defer ctrl.Close(context.Background())
	ctx := context.Background()

	if err := ctrl.Replace(ctx); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if ctrl.State() != StateReplacing {
		t.Fatalf("state before manifest ready = %s", ctrl.State())
	}
	engine.fireReady()
	if ctrl.State() != StateReady {
		t.Fatalf("state after manifest ready = %s", ctrl.State())
	}

	_ = ctrl.TogglePlay()
	surface.setTime(300.4)
	if err := ctrl.ChangeQuality(ctx, "1080p"); err != nil {
		t.Fatalf("ChangeQuality: %v", err)
	}
	if ctrl.State() != StateQualitySwitching {
		t.Fatalf("state during switch = %s", ctrl.State())
	}
	engine.fireReady()

	if got := surface.CurrentTime(); math.Abs(got-300.4) > 1 {
		t.Fatalf("position after switch = %v, want ~300.4", got)
	}
	if ctrl.State() != StatePlaying {
		t.Fatalf("state after switch = %s, want playing", ctrl.State())
	}
	if ctrl.Quality() != "1080p" {
		t.Fatalf("quality = %q", ctrl.Quality())
	}
	engine.fireReady()
	if surface.seekCount() != 1 {
		t.Fatalf("manifest-ready handler ran more than once: %v", surface.seeks)
	}
	if err := ctrl.ChangeQuality(ctx, "4k"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("unknown quality err = %v", err)
	}
}

func TestController_SkipDebounceCollapses(t *testing.T) {
	cfg := Config{ResumePolicy: ResumeOff, SkipDebounce: 30 * time.Millisecond}
	h := newDirectHarness(t, testSession(), cfg)
	_ = h.ctrl.Replace(context.Background())
	waitResume(t, h.ctrl)
	h.surface.setTime(100)

	h.ctrl.SkipForward(0)
	h.ctrl.SkipForward(0)
	h.ctrl.SkipBackward(5)

	eventually(t, func() bool { return h.surface.seekCount() == 1 }, "debounced skip did not fire")
	time.Sleep(60 * time.Millisecond)
	if h.surface.seekCount() != 1 {
		t.Fatalf("seeks = %v, want one", h.surface.seeks)
	}
	if got := h.surface.CurrentTime(); got != 95 {
		t.Fatalf("position = %v, want 95 (latest delta wins)", got)
	}
}

func TestController_EndingIsOneShot(t *testing.T) {
	cfg := Config{ResumePolicy: ResumeOff, AutoAdvanceThreshold: 90}
	h := newDirectHarness(t, testSession(), cfg)
	ctx := context.Background()
	_ = h.ctrl.Replace(ctx)
	waitResume(t, h.ctrl)
	_, _ = h.store.SaveCheckpoint(ctx, domain.ResumeCheckpoint{EpisodeID: "ep-7", Position: 1000}, 1420)

	h.surface.setTime(1200)
	h.ctrl.OnTimeUpdate(ctx)
	if len(h.nav.directions()) != 0 {
		t.Fatal("ending fired before threshold")
	}
	h.surface.setTime(1340)
	h.ctrl.OnTimeUpdate(ctx)
	h.ctrl.OnTimeUpdate(ctx)
	h.surface.setTime(1420)
	h.ctrl.OnEnded(ctx)

	dirs := h.nav.directions()
	if len(dirs) != 1 || dirs[0] != ports.DirectionAutoNext {
		t.Fatalf("advances = %v, want one auto-next", dirs)
	}
	if h.ctrl.State() != StateEnding {
		t.Fatalf("state = %s", h.ctrl.State())
	}
	if _, err := h.store.Checkpoint(ctx, "ep-7"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("natural end should drop the checkpoint")
	}
}

func TestController_TransportControls(t *testing.T) {
	h := newDirectHarness(t, testSession(), Config{ResumePolicy: ResumeOff})
	ctx := context.Background()
	if err := h.ctrl.Seek(10); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Seek before replace = %v", err)
	}
	_ = h.ctrl.Replace(ctx)
	waitResume(t, h.ctrl)

	h.surface.SetVolume(0.95)
	_ = h.ctrl.VolumeUp()
	if v := h.surface.Volume(); v != 1 {
		t.Fatalf("volume = %v, want clamp to 1", v)
	}
	h.surface.SetVolume(0.3)
	_ = h.ctrl.VolumeDown()
	_ = h.ctrl.VolumeDown()
	_ = h.ctrl.VolumeDown()
	_ = h.ctrl.VolumeDown()
	if v := h.surface.Volume(); v != 0 {
		t.Fatalf("volume = %v, want clamp to 0", v)
	}

	_ = h.ctrl.TogglePlay()
	if h.ctrl.State() != StatePlaying || h.surface.Paused() {
		t.Fatal("TogglePlay did not start playback")
	}
	_ = h.ctrl.TogglePlay()
	if h.ctrl.State() != StatePaused {
		t.Fatalf("state = %s, want paused", h.ctrl.State())
	}

	h.surface.setTime(10)
	_ = h.ctrl.Seek(-30)
	if h.surface.CurrentTime() != 0 {
		t.Fatalf("seek below zero = %v", h.surface.CurrentTime())
	}
	_ = h.ctrl.SeekPercentage(150)
	if h.surface.CurrentTime() != 1420 {
		t.Fatalf("seek above 100%% = %v", h.surface.CurrentTime())
	}

	if !h.ctrl.HandleKey(ctx, "5") || h.surface.CurrentTime() != 710 {
		t.Fatalf("digit 5 = %v, want 710", h.surface.CurrentTime())
	}
	if !h.ctrl.HandleKey(ctx, "m") || !h.surface.Muted() {
		t.Fatal("m did not mute")
	}
	if !h.ctrl.HandleKey(ctx, "f") || !h.surface.fullscreen {
		t.Fatal("f did not toggle fullscreen")
	}
	if !h.ctrl.HandleKey(ctx, "n") {
		t.Fatal("n not handled")
	}
	if h.ctrl.HandleKey(ctx, "z") {
		t.Fatal("unbound key reported handled")
	}
	if dirs := h.nav.directions(); len(dirs) != 1 || dirs[0] != ports.DirectionNext {
		t.Fatalf("navigation = %v", dirs)
	}
}

func TestController_AddBookmark(t *testing.T) {
	h := newDirectHarness(t, testSession(), Config{ResumePolicy: ResumeOff})
	ctx := context.Background()
	_ = h.ctrl.Replace(ctx)
	waitResume(t, h.ctrl)

	h.surface.setTime(2)
	if _, err := h.ctrl.AddBookmark(ctx, "", ""); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("bookmark inside guard = %v", err)
	}
	h.surface.setTime(754)
	b, err := h.ctrl.AddBookmark(ctx, "Fight", "")
	if err != nil {
		t.Fatalf("AddBookmark: %v", err)
	}
	if b.EpisodeID != "ep-7" || b.AnimeID != "frieren" || b.Position != 754 {
		t.Fatalf("bookmark = %+v", b)
	}
	if h.notifier.count() != 1 {
		t.Fatalf("toasts = %d", h.notifier.count())
	}
}

func TestController_CloseTerminates(t *testing.T) {
	h := newDirectHarness(t, testSession(), Config{ResumePolicy: ResumeOff})
	ctx := context.Background()
	_ = h.ctrl.Replace(ctx)
	h.surface.setTime(321)
	h.ctrl.Close(ctx)

	if h.ctrl.State() != StateTerminated || !h.surface.destroyed {
		t.Fatalf("state=%s destroyed=%v", h.ctrl.State(), h.surface.destroyed)
	}
	cp, err := h.store.Checkpoint(ctx, "ep-7")
	if err != nil || cp.Position != 321 {
		t.Fatalf("final checkpoint = %+v, %v", cp, err)
	}
	h.ctrl.Close(ctx)
}

func TestStreaming_EngineErrors(t *testing.T) {
	newStreaming := func(hooks Hooks) (*Controller, *fakeEngine, *fakeNotifier) {
		engine := &fakeEngine{}
		notifier := &fakeNotifier{}
		variant, _ := NewVariant(domain.SourceStreaming, VariantDeps{
			Engine:    engine,
			Hooks:     hooks,
			TokenRule: manifest.TokenRule{Hosts: []string{"signed.example.com"}},
		})
		sess := testSession()
		sess.Qualities = []domain.Quality{{Label: "720p", URL: "https://cdn.signed.example.com/720/index.m3u8?token=abc&expires=99"}}
		ctrl, _ := NewController(sess, Config{ResumePolicy: ResumeOff}, Deps{
			Surfaces: &fakeFactory{surface: newFakeSurface(1420)},
			Variant:  variant,
			Notifier: notifier,
		})
		_ = ctrl.Replace(context.Background())
		engine.fireReady()
		return ctrl, engine, notifier
	}

	t.Run("token rewriter installed", func(t *testing.T) {
		ctrl, engine, _ := newStreaming(Hooks{})
		defer ctrl.Close(context.Background())
		if engine.rewriter == nil {
			t.Fatal("no rewriter for signed host")
		}
		got := engine.rewriter("https://cdn.signed.example.com/720/seg1.ts")
		if got != "https://cdn.signed.example.com/720/seg1.ts?expires=99&token=abc" {
			t.Fatalf("rewritten = %q", got)
		}
	})

	t.Run("auth expiry reported once", func(t *testing.T) {
		ctrl, engine, notifier := newStreaming(Hooks{})
		defer ctrl.Close(context.Background())
		engine.fireError(ports.EngineFailure{Status: http.StatusForbidden, URL: "seg3.ts", Fatal: true})
		engine.fireError(ports.EngineFailure{Status: http.StatusForbidden, URL: "seg4.ts", Fatal: true})
		if notifier.count() != 1 {
			t.Fatalf("toasts = %d, want 1", notifier.count())
		}
		if notifier.toasts[0].Kind != domain.ToastError {
			t.Fatalf("toast = %+v", notifier.toasts[0])
		}
	})

	t.Run("refresh hook reloads", func(t *testing.T) {
		refreshed := 0
		ctrl, engine, notifier := newStreaming(Hooks{RefreshToken: func(ports.EngineFailure) bool { refreshed++; return true }})
		defer ctrl.Close(context.Background())
		engine.fireError(ports.EngineFailure{Status: http.StatusUnauthorized, Fatal: true})
		if refreshed != 1 || engine.loadCount() != 2 || notifier.count() != 0 {
			t.Fatalf("refreshed=%d loads=%d toasts=%d", refreshed, engine.loadCount(), notifier.count())
		}
	})

	t.Run("rate limit hook", func(t *testing.T) {
		var seen int
		ctrl, engine, notifier := newStreaming(Hooks{Backoff: func(f ports.EngineFailure) bool { seen = f.Status; return false }})
		defer ctrl.Close(context.Background())
		engine.fireError(ports.EngineFailure{Status: http.StatusTooManyRequests})
		if seen != http.StatusTooManyRequests || notifier.count() != 1 {
			t.Fatalf("seen=%d toasts=%d", seen, notifier.count())
		}
	})

	t.Run("non-fatal transport ignored", func(t *testing.T) {
		ctrl, engine, notifier := newStreaming(Hooks{})
		defer ctrl.Close(context.Background())
		engine.fireError(ports.EngineFailure{Status: http.StatusBadGateway})
		if notifier.count() != 0 {
			t.Fatal("non-fatal error surfaced")
		}
	})
}

type outcomeLog struct {
	mu   sync.Mutex
	errs []error
}

func (o *outcomeLog) record(_ context.Context, err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

func (o *outcomeLog) all() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

type streamingRig struct {
	ctrl     *Controller
	engine   *fakeEngine
	surface  *fakeSurface
	widget   *fakeWidget
	notifier *fakeNotifier
	outcomes *outcomeLog
}

func newStreamingRig(t *testing.T) *streamingRig {
	t.Helper()
	r := &streamingRig{
		engine:   &fakeEngine{},
		surface:  newFakeSurface(1420),
		widget:   &fakeWidget{},
		notifier: &fakeNotifier{},
		outcomes: &outcomeLog{},
	}
	variant, err := NewVariant(domain.SourceStreaming, VariantDeps{Engine: r.engine})
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}
	sess := testSession()
	sess.SourceKind = domain.SourceStreaming
	sess.InChildContext = true
	sess.Qualities = []domain.Quality{
		{Label: "720p", URL: "https://cdn.example.com/720/index.m3u8", Height: 720},
		{Label: "1080p", URL: "https://cdn.example.com/1080/index.m3u8", Height: 1080},
	}
	sess.CurrentQuality = "720p"
	ctrl, err := NewController(sess, Config{ResumePolicy: ResumeOff}, Deps{
		Surfaces: &fakeFactory{surface: r.surface},
		Widget:   r.widget,
		Variant:  variant,
		Notifier: r.notifier,
		Outcome:  r.outcomes.record,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	r.ctrl = ctrl
	t.Cleanup(func() { ctrl.Close(context.Background()) })
	return r
}

func TestController_StreamingOutcome(t *testing.T) {
	t.Run("success reported on first ready", func(t *testing.T) {
		r := newStreamingRig(t)
		if err := r.ctrl.Replace(context.Background()); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		if got := r.outcomes.all(); len(got) != 0 {
			t.Fatalf("outcome sent before manifest ready: %v", got)
		}
		r.engine.fireReady()
		got := r.outcomes.all()
		if len(got) != 1 || got[0] != nil {
			t.Fatalf("outcomes after ready = %v, want one success", got)
		}

		if err := r.ctrl.ChangeQuality(context.Background(), "1080p"); err != nil {
			t.Fatalf("ChangeQuality: %v", err)
		}
		r.engine.fireReady()
		if n := len(r.outcomes.all()); n != 1 {
			t.Fatalf("quality switch resent the outcome: %d outcomes", n)
		}
	})

	t.Run("manifest error before ready fails the replace", func(t *testing.T) {
		r := newStreamingRig(t)
		if err := r.ctrl.Replace(context.Background()); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		r.engine.fireError(ports.EngineFailure{Status: http.StatusNotFound, URL: "index.m3u8", Fatal: true})

		if st := r.ctrl.State(); st != StateReplaceFailed {
			t.Fatalf("state = %s, want replace-failed", st)
		}
		got := r.outcomes.all()
		if len(got) != 1 || !errors.Is(got[0], domain.ErrReplaceFailed) {
			t.Fatalf("outcomes = %v, want one ErrReplaceFailed", got)
		}
		if r.surface.errPanel == "" {
			t.Fatal("error panel not shown")
		}
		if !r.widget.unbound {
			t.Fatal("controls left bound after failure")
		}
		if r.notifier.count() != 1 {
			t.Fatalf("toasts = %d, want 1", r.notifier.count())
		}
		waitResume(t, r.ctrl)

		r.engine.fireReady()
		r.engine.fireError(ports.EngineFailure{Status: http.StatusNotFound, Fatal: true})
		if st := r.ctrl.State(); st != StateReplaceFailed {
			t.Fatalf("late engine events moved state to %s", st)
		}
		if n := len(r.outcomes.all()); n != 1 {
			t.Fatalf("outcomes = %d after late events, want 1", n)
		}
	})
}

func TestController_FailedQualitySwitchRecovers(t *testing.T) {
	r := newStreamingRig(t)
	ctx := context.Background()
	_ = r.ctrl.Replace(ctx)
	r.engine.fireReady()
	if err := r.ctrl.TogglePlay(); err != nil {
		t.Fatalf("TogglePlay: %v", err)
	}

	r.engine.mu.Lock()
	r.engine.loadErr = errBoom
	r.engine.mu.Unlock()
	if err := r.ctrl.ChangeQuality(ctx, "1080p"); err == nil {
		t.Fatal("ChangeQuality succeeded with a failing engine")
	}
	if st := r.ctrl.State(); st != StatePlaying {
		t.Fatalf("state after failed switch = %s, want playing", st)
	}
	if q := r.ctrl.Quality(); q != "720p" {
		t.Fatalf("quality after failed switch = %q, want 720p", q)
	}
	if err := r.ctrl.TogglePlay(); err != nil {
		t.Fatalf("TogglePlay after failed switch: %v", err)
	}
	if err := r.ctrl.Seek(30); err != nil {
		t.Fatalf("Seek after failed switch: %v", err)
	}
	if r.notifier.count() != 1 {
		t.Fatalf("toasts = %d, want 1", r.notifier.count())
	}

	r.engine.mu.Lock()
	r.engine.loadErr = nil
	r.engine.mu.Unlock()
	if err := r.ctrl.ChangeQuality(ctx, "1080p"); err != nil {
		t.Fatalf("retry ChangeQuality: %v", err)
	}
	r.engine.fireReady()
	if r.ctrl.State() != StateReady || r.ctrl.Quality() != "1080p" {
		t.Fatalf("after retry: state=%s quality=%q", r.ctrl.State(), r.ctrl.Quality())
	}
}

func TestClassifyEngineFailure(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, domain.ErrAuthExpired},
		{403, domain.ErrAuthExpired},
		{429, domain.ErrRateLimited},
		{500, domain.ErrTransport},
		{0, domain.ErrTransport},
	}
	for _, tc := range tests {
		if err := classifyEngineFailure(ports.EngineFailure{Status: tc.status}); !errors.Is(err, tc.want) {
			t.Errorf("status %d: %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestParseResumePolicy(t *testing.T) {
	for raw, want := range map[string]ResumePolicy{"": ResumeAuto, "ASK": ResumeAsk, " off ": ResumeOff} {
		got, err := ParseResumePolicy(raw)
		if err != nil || got != want {
			t.Errorf("ParseResumePolicy(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseResumePolicy("sometimes"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("bad policy err = %v", err)
	}
	if d := DefaultConfig(); d.PromptTimeout != 10*time.Second || d.SkipDebounce != 200*time.Millisecond {
		t.Fatalf("defaults = %+v", d)
	}
}

func TestState_String(t *testing.T) {
	if StateQualitySwitching.String() != "quality-switching" {
		t.Fatal(StateQualitySwitching.String())
	}
	if State(99).String() != "unknown(99)" {
		t.Fatal(State(99).String())
	}
}
