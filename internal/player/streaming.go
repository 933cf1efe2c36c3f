package player

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
	"watchcompanion/internal/manifest"
)

// Streaming drives a segmented manifest through a StreamingEngine.
type Streaming struct {
	engine ports.StreamingEngine
	rule   manifest.TokenRule
	hooks  Hooks
	logger *slog.Logger

	mu        sync.Mutex
	current   string
	pending   func()
	onFailure func(error)
}

func (s *Streaming) Kind() domain.SourceKind { return domain.SourceStreaming }

func (s *Streaming) Attach(surface ports.Surface, onFailure func(error)) error {
	s.mu.Lock()
	s.onFailure = onFailure
	s.mu.Unlock()
	return s.engine.Attach(surface, ports.EngineEvents{
		ManifestReady: s.manifestReady,
		Error:         s.engineError,
	})
}

func (s *Streaming) Load(q domain.Quality, ready func()) error {
	s.mu.Lock()
	prev := s.current
	s.current = q.URL
	s.pending = ready
	s.mu.Unlock()

	s.engine.SetRequestRewriter(s.rewriterFor(q.URL))
	if err := s.engine.Load(q.URL); err != nil {
		s.mu.Lock()
		s.pending = nil
		s.current = prev
		s.mu.Unlock()
		// keep signing requests for the manifest that is still playing
		s.engine.SetRequestRewriter(s.rewriterFor(prev))
		return fmt.Errorf("%w: %v", domain.ErrReplaceFailed, err)
	}
	return nil
}

func (s *Streaming) rewriterFor(manifestURL string) func(string) string {
	if manifestURL == "" || !s.rule.Matches(manifestURL) {
		return nil
	}
	return s.rule.Rewriter(manifestURL)
}

func (s *Streaming) Close() {
	s.mu.Lock()
	s.pending = nil
	s.onFailure = nil
	s.mu.Unlock()
	s.engine.Destroy()
}

func (s *Streaming) manifestReady() {
	s.mu.Lock()
	ready := s.pending
	s.pending = nil
	s.mu.Unlock()
	if ready != nil {
		ready()
	}
}

func (s *Streaming) engineError(f ports.EngineFailure) {
	err := classifyEngineFailure(f)
	s.logger.Warn("streaming engine error",
		slog.Int("status", f.Status),
		slog.String("url", f.URL),
		slog.Bool("fatal", f.Fatal),
		slog.String("error", err.Error()),
	)

	var hook func(ports.EngineFailure) bool
	switch f.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		hook = s.hooks.RefreshToken
	case http.StatusTooManyRequests:
		hook = s.hooks.Backoff
	default:
		if !f.Fatal {
			return
		}
	}
	if hook != nil && hook(f) {
		s.reload()
		return
	}

	s.mu.Lock()
	onFailure := s.onFailure
	s.mu.Unlock()
	if onFailure != nil {
		onFailure(err)
	}
}

func (s *Streaming) reload() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	if current == "" {
		return
	}
	if err := s.engine.Load(current); err != nil {
		s.logger.Warn("streaming reload failed", slog.String("error", err.Error()))
	}
}

func classifyEngineFailure(f ports.EngineFailure) error {
	detail := f.Details
	if detail == "" {
		detail = f.URL
	}
	switch f.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", domain.ErrAuthExpired, f.Status, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, detail)
	default:
		if f.Status > 0 {
			return fmt.Errorf("%w: status %d: %s", domain.ErrTransport, f.Status, detail)
		}
		return fmt.Errorf("%w: %s", domain.ErrTransport, detail)
	}
}
