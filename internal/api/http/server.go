package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"watchcompanion/internal/app"
	"watchcompanion/internal/domain"
	domainports "watchcompanion/internal/domain/ports"
	"watchcompanion/internal/manifest"
)

type SessionStore interface {
	SaveCheckpoint(ctx context.Context, cp domain.ResumeCheckpoint, duration float64) (bool, error)
	Checkpoint(ctx context.Context, episodeID string) (domain.ResumeCheckpoint, error)
	RemoveCheckpoint(ctx context.Context, episodeID string) error
	ResumeList(ctx context.Context) ([]domain.ResumeGroup, error)
	MergeCheckpoints(ctx context.Context, cps []domain.ResumeCheckpoint) (int, error)
	AddBookmark(ctx context.Context, b domain.Bookmark, duration float64) (domain.Bookmark, error)
	EditBookmark(ctx context.Context, id int64, title, description string) (domain.Bookmark, error)
	Bookmark(ctx context.Context, id int64) (domain.Bookmark, error)
	DeleteBookmark(ctx context.Context, id int64) error
	Bookmarks(ctx context.Context, episodeID string) ([]domain.Bookmark, error)
	AllBookmarks(ctx context.Context) ([]domain.Bookmark, error)
}

type OpenEntryUseCase interface {
	OpenBookmark(ctx context.Context, id int64, url string) (domain.PendingOpenRequest, error)
	OpenResume(ctx context.Context, episodeID string) (domain.PendingOpenRequest, error)
}

type DownloadService interface {
	Start(job domain.DownloadJob) (domain.DownloadState, error)
	Retry(id string) (domain.DownloadState, error)
	Get(id string) (domain.DownloadState, error)
	List() []domain.DownloadState
}

type PlayerSettingsController interface {
	Get() app.PlayerSettings
	Update(settings app.PlayerSettings) error
}

type Server struct {
	store          SessionStore
	openQueue      domainports.OpenRequestQueue
	openEntry      OpenEntryUseCase
	downloads      DownloadService
	player         PlayerSettingsController
	tokenRule      manifest.TokenRule
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	relay          *relayHub
}

type ServerOption func(*Server)

func WithOpenRequests(queue domainports.OpenRequestQueue, entry OpenEntryUseCase) ServerOption {
	return func(s *Server) {
		s.openQueue = queue
		s.openEntry = entry
	}
}

func WithDownloads(svc DownloadService) ServerOption {
	return func(s *Server) {
		s.downloads = svc
	}
}

func WithPlayerSettings(ctrl PlayerSettingsController) ServerOption {
	return func(s *Server) {
		s.player = ctrl
	}
}

// WithTokenRule publishes the signed-origin rule pages hand to their
// streaming variant.
func WithTokenRule(rule manifest.TokenRule) ServerOption {
	return func(s *Server) {
		s.tokenRule = rule
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRateLimit sets the global token bucket. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(store SessionStore, opts ...ServerOption) *Server {
	s := &Server{
		store:     store,
		rateRPS:   100,
		rateBurst: 200,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.relay = newRelayHub(s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/open/", s.handleOpenRequests)
	mux.HandleFunc("/resume", s.handleResumeList)
	mux.HandleFunc("/resume/import", s.handleResumeImport)
	mux.HandleFunc("/resume/", s.handleResumeByEpisode)
	mux.HandleFunc("/bookmarks", s.handleBookmarks)
	mux.HandleFunc("/bookmarks/", s.handleBookmarkByID)
	mux.HandleFunc("/downloads", s.handleDownloads)
	mux.HandleFunc("/downloads/", s.handleDownloadByID)
	mux.HandleFunc("/sniff", s.handleSniff)
	mux.HandleFunc("/settings/player", s.handlePlayerSettings)
	mux.HandleFunc("/settings/token-rule", s.handleTokenRule)
	mux.HandleFunc("/relay/", s.handleRelay)
	mux.Handle("/metrics", promhttp.Handler())

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "watchcompanion",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects relay peers. Download jobs are owned by the caller.
func (s *Server) Close() {
	s.relay.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"relaySessions":  s.relay.sessionCount(),
		"openRequests":   s.openQueue != nil,
		"downloads":      s.downloads != nil,
		"playerSettings": s.player != nil,
	})
}
