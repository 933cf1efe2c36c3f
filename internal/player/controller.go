package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
	"watchcompanion/internal/metrics"
)

// ErrNotReady is returned by operations that need a loaded source.
var ErrNotReady = errors.New("player: no source loaded")

// SessionStore is the part of the session state store the controller uses.
type SessionStore interface {
	Checkpoint(ctx context.Context, episodeID string) (domain.ResumeCheckpoint, error)
	SaveCheckpoint(ctx context.Context, cp domain.ResumeCheckpoint, duration float64) (bool, error)
	RemoveCheckpoint(ctx context.Context, episodeID string) error
	AddBookmark(ctx context.Context, b domain.Bookmark, duration float64) (domain.Bookmark, error)
}

// Deps are the collaborators of one controller. Only Surfaces and Variant are
// required.
type Deps struct {
	Surfaces  ports.SurfaceFactory
	Widget    ports.ControlWidget
	Variant   Variant
	Store     SessionStore
	Requests  ports.OpenRequestQueue
	Prompter  ports.Prompter
	Navigator ports.Navigator
	Notifier  ports.Notifier
	// Outcome reports the result of Replace to the host page when the
	// controller runs inside the embedded frame. err is nil on success.
	Outcome func(ctx context.Context, err error)
	Logger  *slog.Logger
}

// Controller owns one playback surface for one episode.
type Controller struct {
	cfg     Config
	deps    Deps
	session domain.PlaybackSession
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	surface   ports.Surface
	quality   string
	loadGen   int
	resumed   bool
	ended     bool
	skipTimer *time.Timer
	skipDelta float64
	switchPos float64
	reported  map[error]bool

	resumeDone chan struct{}
	resumeOnce sync.Once
	wg         sync.WaitGroup
}

func NewController(session domain.PlaybackSession, cfg Config, deps Deps) (*Controller, error) {
	if deps.Surfaces == nil {
		return nil, fmt.Errorf("%w: surface factory is required", domain.ErrInvalidArgument)
	}
	if deps.Variant == nil {
		return nil, fmt.Errorf("%w: variant is required", domain.ErrInvalidArgument)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		session: session,
		logger: logger.With(
			slog.String("episodeId", session.EpisodeID),
			slog.String("variant", string(deps.Variant.Kind())),
		),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateUninitialized,
		reported:   make(map[error]bool),
		resumeDone: make(chan struct{}),
	}, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Session() domain.PlaybackSession { return c.session }

// Quality is the label of the loaded quality.
func (c *Controller) Quality() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// ResumeDone is closed once the first-Ready resume step has finished, whether
// or not it seeked, or when the controller fails or closes first.
func (c *Controller) ResumeDone() <-chan struct{} { return c.resumeDone }

// transitionTo must be called with c.mu held.
func (c *Controller) transitionTo(s State) {
	from := c.state
	if from == s {
		return
	}
	c.state = s
	metrics.PlayerStateTransitionsTotal.WithLabelValues(from.String(), s.String()).Inc()
	c.logger.Info("player state transition",
		slog.String("from", from.String()),
		slog.String("to", s.String()),
	)
}

// Replace builds the surface, binds the control widget and loads the default
// quality. On failure the partial surface is torn down, the error panel is
// shown and the controller stays in ReplaceFailed.
func (c *Controller) Replace(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: replace called in state %s", domain.ErrInvalidArgument, state)
	}
	c.transitionTo(StateReplacing)
	c.mu.Unlock()

	if err := c.replace(ctx); err != nil {
		c.replaceFailed(ctx, err)
		return err
	}
	return nil
}

func (c *Controller) replace(ctx context.Context) error {
	q, ok := c.session.DefaultQuality()
	if !ok || q.URL == "" {
		return fmt.Errorf("%w: no qualities", domain.ErrReplaceFailed)
	}

	surface, err := c.deps.Surfaces.NewSurface(ctx, c.session)
	if err != nil {
		return fmt.Errorf("%w: create surface: %v", domain.ErrReplaceFailed, err)
	}
	c.mu.Lock()
	c.surface = surface
	c.quality = q.Label
	c.mu.Unlock()

	if err := c.deps.Variant.Attach(surface, c.variantFailure); err != nil {
		return fmt.Errorf("%w: attach: %v", domain.ErrReplaceFailed, err)
	}
	if c.deps.Widget != nil {
		labels := make([]string, 0, len(c.session.Qualities))
		for _, sq := range c.session.Qualities {
			labels = append(labels, sq.Label)
		}
		onQuality := func(label string) {
			if err := c.ChangeQuality(c.ctx, label); err != nil {
				c.logger.Warn("quality change failed", slog.String("quality", label), slog.String("error", err.Error()))
			}
		}
		if err := c.deps.Widget.Bind(surface, labels, onQuality); err != nil {
			return fmt.Errorf("%w: bind controls: %v", domain.ErrReplaceFailed, err)
		}
	}

	gen := c.nextLoad()
	return c.deps.Variant.Load(q, func() { c.onLoaded(gen, -1, false) })
}

// replaceFailed is a no-op unless the controller is still Replacing.
func (c *Controller) replaceFailed(ctx context.Context, err error) {
	c.mu.Lock()
	if c.state != StateReplacing {
		c.mu.Unlock()
		return
	}
	surface := c.surface
	c.loadGen++
	c.transitionTo(StateReplaceFailed)
	c.mu.Unlock()

	metrics.PlayerErrorsTotal.WithLabelValues("replace").Inc()
	c.logger.Error("player replace failed", slog.String("error", err.Error()))

	c.deps.Variant.Close()
	if c.deps.Widget != nil {
		c.deps.Widget.Unbind()
	}
	if surface != nil {
		surface.ShowError("This episode can't be played here.")
	}
	c.report(ctx, domain.ErrReplaceFailed, err)
	c.finishResume()
	c.sendOutcome(ctx, err)
}

// sendOutcome tells the host page how Replace ended. Success is only known on
// the first Ready.
func (c *Controller) sendOutcome(ctx context.Context, err error) {
	if c.session.InChildContext && c.deps.Outcome != nil {
		c.deps.Outcome(ctx, err)
	}
}

func (c *Controller) nextLoad() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadGen++
	return c.loadGen
}

// onLoaded runs when the variant signals the surface can seek. restore < 0
// means there is no position to restore.
func (c *Controller) onLoaded(gen int, restore float64, resumePlay bool) {
	c.mu.Lock()
	if gen != c.loadGen || c.state == StateTerminated || c.state == StateReplaceFailed {
		c.mu.Unlock()
		return
	}
	surface := c.surface
	c.transitionTo(StateReady)
	firstReady := !c.resumed
	c.resumed = true
	if firstReady {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if restore >= 0 && surface != nil {
		surface.Seek(restore)
	}

	if resumePlay && surface != nil {
		if err := surface.Play(); err != nil {
			c.logger.Debug("resume play after quality switch failed", slog.String("error", err.Error()))
		} else {
			c.setState(StatePlaying)
		}
	}
	if firstReady {
		c.logger.Info("player replaced", slog.String("quality", c.Quality()))
		c.sendOutcome(c.ctx, nil)
		go func() {
			defer c.wg.Done()
			c.applyResume(c.ctx)
		}()
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.transitionTo(s)
	c.mu.Unlock()
}

// ChangeQuality loads label and restores the current position once the new
// source is ready.
func (c *Controller) ChangeQuality(ctx context.Context, label string) error {
	q, ok := c.session.Quality(label)
	if !ok {
		return fmt.Errorf("%w: unknown quality %q", domain.ErrInvalidArgument, label)
	}

	c.mu.Lock()
	if !c.state.active() && c.state != StateQualitySwitching {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotReady, state)
	}
	surface := c.surface
	position := surface.CurrentTime()
	wasPlaying := !surface.Paused()
	prevLabel, prevState := c.quality, c.state
	if c.state == StateQualitySwitching {
		// the new source may not report a position yet
		position = c.switchPos
		prevState = StateReady
	}
	c.switchPos = position
	c.quality = label
	c.loadGen++
	gen := c.loadGen
	c.transitionTo(StateQualitySwitching)
	c.mu.Unlock()

	c.logger.Info("quality switch",
		slog.String("quality", label),
		slog.Float64("position", position),
	)
	if err := c.deps.Variant.Load(q, func() { c.onLoaded(gen, position, wasPlaying) }); err != nil {
		// the previous source is still attached; go back to it
		c.mu.Lock()
		if c.loadGen == gen && c.state == StateQualitySwitching {
			c.quality = prevLabel
			c.transitionTo(prevState)
		}
		c.mu.Unlock()
		c.logger.Warn("quality switch failed",
			slog.String("quality", label),
			slog.String("restored", prevLabel),
			slog.String("error", err.Error()),
		)
		c.report(ctx, domain.ErrTransport, err)
		return err
	}
	return nil
}

// applyResume runs once after the first Ready. A matching pending open request
// wins over the stored checkpoint and is consumed.
func (c *Controller) applyResume(ctx context.Context) {
	defer c.finishResume()

	if c.applyOpenRequest(ctx) {
		return
	}
	if c.deps.Store == nil || c.cfg.ResumePolicy == ResumeOff {
		return
	}
	cp, err := c.deps.Store.Checkpoint(ctx, c.session.EpisodeID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("resume checkpoint lookup failed", slog.String("error", err.Error()))
		}
		return
	}
	if !domain.InResumableRange(cp.Position, c.duration()) {
		return
	}

	switch c.cfg.ResumePolicy {
	case ResumeAuto:
		c.seekTo(cp.Position)
		c.logger.Info("resumed from checkpoint", slog.Float64("position", cp.Position))
	case ResumeAsk:
		if c.deps.Prompter == nil {
			return
		}
		askCtx, cancel := context.WithTimeout(ctx, c.cfg.PromptTimeout)
		defer cancel()
		yes, err := c.deps.Prompter.Ask(askCtx, cp)
		if err != nil || askCtx.Err() != nil {
			c.deps.Prompter.Dismiss()
			c.logger.Debug("resume prompt dismissed without answer")
			return
		}
		if yes {
			c.seekTo(cp.Position)
			c.logger.Info("resumed from checkpoint after prompt", slog.Float64("position", cp.Position))
		}
	}
}

func (c *Controller) finishResume() {
	c.resumeOnce.Do(func() { close(c.resumeDone) })
}

func (c *Controller) applyOpenRequest(ctx context.Context) bool {
	if c.deps.Requests == nil {
		return false
	}
	for _, kind := range []domain.OpenRequestKind{domain.OpenBookmark, domain.OpenResume} {
		reqs, err := c.deps.Requests.List(ctx, kind)
		if err != nil {
			c.logger.Warn("open request lookup failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
			continue
		}
		for _, req := range reqs {
			if req.EpisodeID != c.session.EpisodeID {
				continue
			}
			if err := c.deps.Requests.Remove(ctx, kind, req.ID); err != nil {
				c.logger.Warn("open request remove failed", slog.String("id", req.ID), slog.String("error", err.Error()))
			}
			if req.Position != nil {
				c.seekTo(*req.Position)
			}
			c.logger.Info("opened from pending request",
				slog.String("kind", string(kind)),
				slog.String("id", req.ID),
			)
			return true
		}
	}
	return false
}

func (c *Controller) activeSurface() (ports.Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.active() || c.surface == nil {
		return nil, fmt.Errorf("%w: state %s", ErrNotReady, c.state)
	}
	return c.surface, nil
}

func (c *Controller) duration() float64 {
	c.mu.Lock()
	surface := c.surface
	c.mu.Unlock()
	if surface == nil {
		return 0
	}
	d := surface.Duration()
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return d
}

func (c *Controller) seekTo(position float64) {
	surface, err := c.activeSurface()
	if err != nil {
		return
	}
	if position < 0 {
		position = 0
	}
	if d := c.duration(); d > 0 && position > d {
		position = d
	}
	surface.Seek(position)
}

// CurrentTime returns the playback position, or 0 without a surface.
func (c *Controller) CurrentTime() float64 {
	c.mu.Lock()
	surface := c.surface
	c.mu.Unlock()
	if surface == nil {
		return 0
	}
	return surface.CurrentTime()
}

func (c *Controller) Seek(delta float64) error {
	surface, err := c.activeSurface()
	if err != nil {
		return err
	}
	c.seekTo(surface.CurrentTime() + delta)
	return nil
}

// SeekPercentage jumps to p percent of the duration. Unknown durations are
// ignored.
func (c *Controller) SeekPercentage(p float64) error {
	if _, err := c.activeSurface(); err != nil {
		return err
	}
	d := c.duration()
	if d <= 0 {
		return nil
	}
	p = math.Max(0, math.Min(100, p))
	c.seekTo(d * p / 100)
	return nil
}

func (c *Controller) SkipForward(delta float64)  { c.skip(math.Abs(c.skipSize(delta))) }
func (c *Controller) SkipBackward(delta float64) { c.skip(-math.Abs(c.skipSize(delta))) }

func (c *Controller) skipSize(delta float64) float64 {
	if delta == 0 {
		return c.cfg.SkipSeconds
	}
	return delta
}

// skip debounces on the trailing edge: presses inside the window collapse into
// one seek by the latest delta.
func (c *Controller) skip(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateTerminated {
		return
	}
	c.skipDelta = delta
	if c.skipTimer != nil {
		c.skipTimer.Stop()
	}
	c.skipTimer = time.AfterFunc(c.cfg.SkipDebounce, c.flushSkip)
}

func (c *Controller) flushSkip() {
	c.mu.Lock()
	delta := c.skipDelta
	c.skipDelta = 0
	c.skipTimer = nil
	c.mu.Unlock()
	if delta != 0 {
		_ = c.Seek(delta)
	}
}

func (c *Controller) TogglePlay() error {
	surface, err := c.activeSurface()
	if err != nil {
		return err
	}
	if surface.Paused() {
		if err := surface.Play(); err != nil {
			return fmt.Errorf("play: %w", err)
		}
		c.setState(StatePlaying)
		return nil
	}
	surface.Pause()
	c.setState(StatePaused)
	return nil
}

func (c *Controller) VolumeUp() error   { return c.adjustVolume(c.cfg.VolumeStep) }
func (c *Controller) VolumeDown() error { return c.adjustVolume(-c.cfg.VolumeStep) }

func (c *Controller) adjustVolume(step float64) error {
	surface, err := c.activeSurface()
	if err != nil {
		return err
	}
	v := math.Round((surface.Volume()+step)*100) / 100
	surface.SetVolume(math.Max(0, math.Min(1, v)))
	return nil
}

func (c *Controller) ToggleMute() error {
	surface, err := c.activeSurface()
	if err != nil {
		return err
	}
	surface.SetMuted(!surface.Muted())
	return nil
}

func (c *Controller) ToggleFullscreen() error {
	surface, err := c.activeSurface()
	if err != nil {
		return err
	}
	surface.ToggleFullscreen()
	return nil
}

func (c *Controller) NextEpisode(ctx context.Context) error {
	c.saveCheckpoint(ctx, "next")
	return c.advance(ctx, ports.DirectionNext)
}

func (c *Controller) PreviousEpisode(ctx context.Context) error {
	c.saveCheckpoint(ctx, "previous")
	return c.advance(ctx, ports.DirectionPrevious)
}

func (c *Controller) advance(ctx context.Context, dir ports.Direction) error {
	if c.deps.Navigator == nil {
		return nil
	}
	if err := c.deps.Navigator.Advance(ctx, dir); err != nil {
		c.logger.Warn("episode navigation failed", slog.String("direction", string(dir)), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// AddBookmark stores a bookmark at the current position.
func (c *Controller) AddBookmark(ctx context.Context, title, description string) (domain.Bookmark, error) {
	surface, err := c.activeSurface()
	if err != nil {
		return domain.Bookmark{}, err
	}
	if c.deps.Store == nil {
		return domain.Bookmark{}, fmt.Errorf("%w: no session store", domain.ErrInvalidArgument)
	}
	b, err := c.deps.Store.AddBookmark(ctx, domain.Bookmark{
		AnimeID:       c.session.AnimeID,
		EpisodeID:     c.session.EpisodeID,
		EpisodeNumber: c.session.EpisodeNumber,
		Title:         title,
		Description:   description,
		Position:      surface.CurrentTime(),
	}, c.duration())
	if err != nil {
		return domain.Bookmark{}, err
	}
	c.notify(ctx, domain.Toast{Kind: domain.ToastSuccess, Title: "Bookmark added", Description: b.Title})
	return b, nil
}

// OnPlay and OnPause mirror the surface's play/pause events.
func (c *Controller) OnPlay() {
	c.mu.Lock()
	if c.state.active() {
		c.transitionTo(StatePlaying)
	}
	c.mu.Unlock()
}

func (c *Controller) OnPause(ctx context.Context) {
	c.mu.Lock()
	if c.state.active() {
		c.transitionTo(StatePaused)
	}
	c.mu.Unlock()
	c.saveCheckpoint(ctx, "pause")
}

func (c *Controller) OnUnload(ctx context.Context) { c.saveCheckpoint(ctx, "unload") }

func (c *Controller) OnVisibilityHidden(ctx context.Context) { c.saveCheckpoint(ctx, "hidden") }

// OnTimeUpdate raises Ending once the remaining time drops to the configured
// threshold.
func (c *Controller) OnTimeUpdate(ctx context.Context) {
	if c.cfg.AutoAdvanceThreshold <= 0 {
		return
	}
	d := c.duration()
	if d <= 0 {
		return
	}
	if d-c.CurrentTime() <= c.cfg.AutoAdvanceThreshold {
		c.enterEnding(ctx, "threshold")
	}
}

// OnEnded handles natural completion: the checkpoint is dropped and Ending is
// raised unless the threshold already did.
func (c *Controller) OnEnded(ctx context.Context) {
	if c.deps.Store != nil {
		if err := c.deps.Store.RemoveCheckpoint(ctx, c.session.EpisodeID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("remove checkpoint failed", slog.String("error", err.Error()))
		}
	}
	c.enterEnding(ctx, "ended")
}

func (c *Controller) enterEnding(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.ended || c.state == StateTerminated || c.state == StateReplaceFailed {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.transitionTo(StateEnding)
	c.mu.Unlock()

	c.logger.Info("episode ending", slog.String("reason", reason))
	_ = c.advance(ctx, ports.DirectionAutoNext)
}

func (c *Controller) saveCheckpoint(ctx context.Context, reason string) {
	if c.deps.Store == nil {
		return
	}
	c.mu.Lock()
	surface := c.surface
	ok := surface != nil && c.state.active()
	c.mu.Unlock()
	if !ok {
		return
	}
	cp := domain.ResumeCheckpoint{
		AnimeID:       c.session.AnimeID,
		AnimeTitle:    c.session.AnimeTitle,
		EpisodeID:     c.session.EpisodeID,
		EpisodeNumber: c.session.EpisodeNumber,
		Position:      surface.CurrentTime(),
		LocationURL:   c.session.PageURL,
	}
	written, err := c.deps.Store.SaveCheckpoint(ctx, cp, c.duration())
	switch {
	case errors.Is(err, domain.ErrOutOfRange):
		c.logger.Debug("checkpoint skipped near episode edge", slog.String("reason", reason), slog.Float64("position", cp.Position))
	case err != nil:
		c.logger.Warn("checkpoint save failed", slog.String("reason", reason), slog.String("error", err.Error()))
	case written:
		c.logger.Debug("checkpoint saved", slog.String("reason", reason), slog.Float64("position", cp.Position))
	}
}

// variantFailure receives engine errors reported after loading.
func (c *Controller) variantFailure(err error) {
	kind, class := "transport", domain.ErrTransport
	switch {
	case errors.Is(err, domain.ErrAuthExpired):
		kind, class = "auth-expired", domain.ErrAuthExpired
	case errors.Is(err, domain.ErrRateLimited):
		kind, class = "rate-limited", domain.ErrRateLimited
	}
	metrics.PlayerErrorsTotal.WithLabelValues(kind).Inc()
	c.logger.Error("playback error", slog.String("kind", kind), slog.String("error", err.Error()))

	c.mu.Lock()
	replacing := c.state == StateReplacing
	c.mu.Unlock()
	if replacing {
		// the source never became ready, so there is nothing to play
		c.replaceFailed(c.ctx, fmt.Errorf("%w: %w", domain.ErrReplaceFailed, err))
		return
	}
	c.report(c.ctx, class, err)
}

// report notifies the user once per error class for the controller's life.
func (c *Controller) report(ctx context.Context, class error, err error) {
	c.mu.Lock()
	if c.reported[class] {
		c.mu.Unlock()
		return
	}
	c.reported[class] = true
	c.mu.Unlock()

	title := "Playback error"
	switch class {
	case domain.ErrReplaceFailed:
		title = "Playback unavailable"
	case domain.ErrAuthExpired:
		title = "Stream access expired"
	case domain.ErrRateLimited:
		title = "Stream is rate limited"
	}
	c.notify(ctx, domain.Toast{Kind: domain.ToastError, Title: title, Description: err.Error()})
}

func (c *Controller) notify(ctx context.Context, t domain.Toast) {
	if c.deps.Notifier != nil {
		c.deps.Notifier.Notify(ctx, t)
	}
}

// Close saves a final checkpoint and destroys the surface.
func (c *Controller) Close(ctx context.Context) {
	c.saveCheckpoint(ctx, "close")

	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	if c.skipTimer != nil {
		c.skipTimer.Stop()
		c.skipTimer = nil
	}
	surface := c.surface
	c.surface = nil
	c.transitionTo(StateTerminated)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.finishResume()
	c.deps.Variant.Close()
	if c.deps.Widget != nil {
		c.deps.Widget.Unbind()
	}
	if surface != nil {
		surface.Destroy()
	}
}
