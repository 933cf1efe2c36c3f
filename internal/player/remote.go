package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"watchcompanion/internal/channel"
	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
)

// DefaultCurrentTimeTimeout bounds the GetCurrentTime round trip.
const DefaultCurrentTimeTimeout = 2 * time.Second

// HostCallbacks receive what the embedded frame reports back.
type HostCallbacks struct {
	OnToast         func(domain.Toast)
	OnNavigate      func(ports.Direction)
	OnReplaced      func()
	OnReplaceFailed func(reason string)
}

// HostAdapter drives a controller living in the embedded frame. Every command
// waits for the frame's FrameLoaded announcement first.
type HostAdapter struct {
	mb      *channel.Mailbox
	cb      HostCallbacks
	timeout time.Duration
	logger  *slog.Logger

	reqMu   sync.Mutex
	replyMu sync.Mutex
	reply   chan float64
}

func NewHostAdapter(mb *channel.Mailbox, cb HostCallbacks, timeout time.Duration, logger *slog.Logger) *HostAdapter {
	if timeout <= 0 {
		timeout = DefaultCurrentTimeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &HostAdapter{mb: mb, cb: cb, timeout: timeout, logger: logger}

	mb.Handle(channel.KindCurrentTime, h.onCurrentTime)
	mb.Handle(channel.KindToast, func(_ context.Context, msg channel.Message) {
		var t domain.Toast
		if err := msg.Bind(&t); err != nil {
			h.logger.Debug("bad toast payload", slog.String("error", err.Error()))
			return
		}
		if h.cb.OnToast != nil {
			h.cb.OnToast(t)
		}
	})
	for kind, dir := range map[channel.Kind]ports.Direction{
		channel.KindNextEpisode:     ports.DirectionNext,
		channel.KindPreviousEpisode: ports.DirectionPrevious,
		channel.KindAutoNextEpisode: ports.DirectionAutoNext,
	} {
		dir := dir
		mb.Handle(kind, func(context.Context, channel.Message) {
			if h.cb.OnNavigate != nil {
				h.cb.OnNavigate(dir)
			}
		})
	}
	mb.Handle(channel.KindPlayerReplaced, func(context.Context, channel.Message) {
		if h.cb.OnReplaced != nil {
			h.cb.OnReplaced()
		}
	})
	mb.Handle(channel.KindPlayerReplaceFailed, func(_ context.Context, msg channel.Message) {
		var p channel.ReplaceFailed
		_ = msg.Bind(&p)
		if h.cb.OnReplaceFailed != nil {
			h.cb.OnReplaceFailed(p.Reason)
		}
	})
	return h
}

func (h *HostAdapter) send(ctx context.Context, kind channel.Kind, payload any) error {
	if err := h.mb.WaitReady(ctx); err != nil {
		return err
	}
	return h.mb.Send(ctx, kind, payload)
}

// ReplacePlayer asks the frame to build its controller for session.
func (h *HostAdapter) ReplacePlayer(ctx context.Context, session domain.PlaybackSession) error {
	return h.send(ctx, channel.KindReplacePlayer, channel.ReplacePlayer{
		Title:         session.AnimeTitle,
		EpisodeNumber: session.EpisodeNumber,
		EpisodeID:     session.EpisodeID,
		AnimeID:       session.AnimeID,
		Fansubs:       session.Fansubs,
	})
}

func (h *HostAdapter) TogglePlay(ctx context.Context) error {
	return h.send(ctx, channel.KindTogglePlay, nil)
}

func (h *HostAdapter) VolumeUp(ctx context.Context) error {
	return h.send(ctx, channel.KindVolUp, nil)
}

func (h *HostAdapter) VolumeDown(ctx context.Context) error {
	return h.send(ctx, channel.KindVolDown, nil)
}

func (h *HostAdapter) ToggleMute(ctx context.Context) error {
	return h.send(ctx, channel.KindToggleMute, nil)
}

func (h *HostAdapter) ToggleFullscreen(ctx context.Context) error {
	return h.send(ctx, channel.KindToggleFullscreen, nil)
}

func (h *HostAdapter) Seek(ctx context.Context, delta float64) error {
	return h.send(ctx, channel.KindSeek, channel.Seek{DeltaSeconds: delta})
}

func (h *HostAdapter) SeekPercentage(ctx context.Context, p float64) error {
	return h.send(ctx, channel.KindSeekPercentage, channel.SeekPercentage{Percentage: p})
}

// CurrentTime is the only request/response exchange on the channel. Calls are
// serialised; a missing answer yields ErrChannelTimeout.
func (h *HostAdapter) CurrentTime(ctx context.Context) (float64, error) {
	h.reqMu.Lock()
	defer h.reqMu.Unlock()

	reply := make(chan float64, 1)
	h.replyMu.Lock()
	h.reply = reply
	h.replyMu.Unlock()
	defer func() {
		h.replyMu.Lock()
		h.reply = nil
		h.replyMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.send(ctx, channel.KindGetCurrentTime, nil); err != nil {
		return 0, err
	}
	select {
	case seconds := <-reply:
		return seconds, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: no CurrentTime reply", domain.ErrChannelTimeout)
	}
}

func (h *HostAdapter) onCurrentTime(_ context.Context, msg channel.Message) {
	var ct channel.CurrentTime
	if err := msg.Bind(&ct); err != nil {
		h.logger.Debug("bad CurrentTime payload", slog.String("error", err.Error()))
		return
	}
	h.replyMu.Lock()
	defer h.replyMu.Unlock()
	if h.reply == nil {
		return
	}
	select {
	case h.reply <- ct.Seconds:
	default:
	}
}

// FrameServices are the channel-backed collaborators a frame controller gets.
type FrameServices struct {
	Navigator ports.Navigator
	Notifier  ports.Notifier
	Outcome   func(ctx context.Context, err error)
}

// BuildFunc creates the frame's controller for a ReplacePlayer request. The
// returned controller has not been replaced yet.
type BuildFunc func(ctx context.Context, req channel.ReplacePlayer, svc FrameServices) (*Controller, error)

// FrameBridge runs inside the embedded frame: it owns the frame's controller
// and maps channel commands onto it.
type FrameBridge struct {
	mb     *channel.Mailbox
	build  BuildFunc
	logger *slog.Logger

	mu   sync.Mutex
	ctrl *Controller
}

func NewFrameBridge(mb *channel.Mailbox, build BuildFunc, logger *slog.Logger) *FrameBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameBridge{mb: mb, build: build, logger: logger}
}

// Start installs the command handlers and then announces the frame.
func (b *FrameBridge) Start(ctx context.Context) error {
	b.mb.Handle(channel.KindReplacePlayer, b.onReplace)
	b.mb.Handle(channel.KindTogglePlay, b.command(func(c *Controller, _ channel.Message) error { return c.TogglePlay() }))
	b.mb.Handle(channel.KindVolUp, b.command(func(c *Controller, _ channel.Message) error { return c.VolumeUp() }))
	b.mb.Handle(channel.KindVolDown, b.command(func(c *Controller, _ channel.Message) error { return c.VolumeDown() }))
	b.mb.Handle(channel.KindToggleMute, b.command(func(c *Controller, _ channel.Message) error { return c.ToggleMute() }))
	b.mb.Handle(channel.KindToggleFullscreen, b.command(func(c *Controller, _ channel.Message) error { return c.ToggleFullscreen() }))
	b.mb.Handle(channel.KindSeek, b.command(func(c *Controller, msg channel.Message) error {
		var s channel.Seek
		if err := msg.Bind(&s); err != nil {
			return err
		}
		return c.Seek(s.DeltaSeconds)
	}))
	b.mb.Handle(channel.KindSeekPercentage, b.command(func(c *Controller, msg channel.Message) error {
		var p channel.SeekPercentage
		if err := msg.Bind(&p); err != nil {
			return err
		}
		return c.SeekPercentage(p.Percentage)
	}))
	b.mb.Handle(channel.KindGetCurrentTime, func(ctx context.Context, _ channel.Message) {
		seconds := 0.0
		if c := b.Controller(); c != nil {
			seconds = c.CurrentTime()
		}
		if err := b.mb.Send(ctx, channel.KindCurrentTime, channel.CurrentTime{Seconds: seconds}); err != nil {
			b.logger.Debug("CurrentTime reply failed", slog.String("error", err.Error()))
		}
	})
	return b.mb.AnnounceLoaded(ctx)
}

func (b *FrameBridge) Controller() *Controller {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctrl
}

func (b *FrameBridge) command(fn func(*Controller, channel.Message) error) channel.Handler {
	return func(_ context.Context, msg channel.Message) {
		c := b.Controller()
		if c == nil {
			b.logger.Debug("command before player exists", slog.String("kind", string(msg.Kind)))
			return
		}
		if err := fn(c, msg); err != nil {
			b.logger.Debug("command not applied", slog.String("kind", string(msg.Kind)), slog.String("error", err.Error()))
		}
	}
}

func (b *FrameBridge) onReplace(ctx context.Context, msg channel.Message) {
	var req channel.ReplacePlayer
	if err := msg.Bind(&req); err != nil {
		b.logger.Warn("bad ReplacePlayer payload", slog.String("error", err.Error()))
		return
	}

	b.mu.Lock()
	prev := b.ctrl
	b.ctrl = nil
	b.mu.Unlock()
	if prev != nil {
		if prev.Session().EpisodeID == req.EpisodeID && prev.State() != StateReplaceFailed {
			b.mu.Lock()
			b.ctrl = prev
			b.mu.Unlock()
			return
		}
		prev.Close(ctx)
	}

	svc := FrameServices{
		Navigator: channelNavigator{mb: b.mb},
		Notifier:  channelNotifier{mb: b.mb, logger: b.logger},
		Outcome:   b.reportOutcome,
	}
	ctrl, err := b.build(ctx, req, svc)
	if err != nil {
		b.reportOutcome(ctx, err)
		return
	}
	b.mu.Lock()
	b.ctrl = ctrl
	b.mu.Unlock()
	_ = ctrl.Replace(ctx)
}

func (b *FrameBridge) reportOutcome(ctx context.Context, err error) {
	if err == nil {
		_ = b.mb.Send(ctx, channel.KindPlayerReplaced, nil)
		return
	}
	_ = b.mb.Send(ctx, channel.KindPlayerReplaceFailed, channel.ReplaceFailed{Reason: err.Error()})
}

// Close tears down the frame's controller.
func (b *FrameBridge) Close(ctx context.Context) {
	b.mu.Lock()
	c := b.ctrl
	b.ctrl = nil
	b.mu.Unlock()
	if c != nil {
		c.Close(ctx)
	}
}

type channelNavigator struct {
	mb *channel.Mailbox
}

var _ ports.Navigator = channelNavigator{}

func (n channelNavigator) Advance(ctx context.Context, dir ports.Direction) error {
	kind := channel.KindNextEpisode
	switch dir {
	case ports.DirectionPrevious:
		kind = channel.KindPreviousEpisode
	case ports.DirectionAutoNext:
		kind = channel.KindAutoNextEpisode
	}
	return n.mb.Send(ctx, kind, nil)
}

type channelNotifier struct {
	mb     *channel.Mailbox
	logger *slog.Logger
}

var _ ports.Notifier = channelNotifier{}

func (n channelNotifier) Notify(ctx context.Context, t domain.Toast) {
	if err := n.mb.SendMessage(ctx, channel.ToastMessage(t)); err != nil {
		n.logger.Debug("toast not delivered", slog.String("error", err.Error()))
	}
}
