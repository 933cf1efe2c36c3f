package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
	"watchcompanion/internal/metrics"
)

// Store persists resume checkpoints and bookmarks. It enforces the edge guard
// and last-write-wins on UpdatedAtMs. Writers in different tabs are not
// coordinated beyond that: two concurrent saves for one episode race and the
// later timestamp wins.
type Store struct {
	resume    ports.ResumeRepository
	bookmarks ports.BookmarkRepository
	logger    *slog.Logger
	now       func() time.Time

	idMu   sync.Mutex
	lastID int64
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(resume ports.ResumeRepository, bookmarks ports.BookmarkRepository, opts ...Option) *Store {
	s := &Store{
		resume:    resume,
		bookmarks: bookmarks,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveCheckpoint records cp when its position lies inside the resumable range
// of an episode of the given duration. It returns ErrOutOfRange for positions
// inside the edge guard and reports false when a newer checkpoint already
// exists.
func (s *Store) SaveCheckpoint(ctx context.Context, cp domain.ResumeCheckpoint, duration float64) (bool, error) {
	if strings.TrimSpace(cp.EpisodeID) == "" {
		return false, fmt.Errorf("%w: episodeId is required", domain.ErrInvalidArgument)
	}
	if !domain.InResumableRange(cp.Position, duration) {
		metrics.ResumeWritesTotal.WithLabelValues("rejected").Inc()
		return false, domain.ErrOutOfRange
	}
	if cp.UpdatedAtMs == 0 {
		cp.UpdatedAtMs = s.now().UnixMilli()
	}
	written, err := s.resume.Upsert(ctx, cp)
	if err != nil {
		return false, err
	}
	if !written {
		metrics.ResumeWritesTotal.WithLabelValues("stale").Inc()
		s.logger.Debug("resume checkpoint superseded",
			slog.String("episodeId", cp.EpisodeID),
			slog.Int64("updatedAtMs", cp.UpdatedAtMs),
		)
		return false, nil
	}
	metrics.ResumeWritesTotal.WithLabelValues("written").Inc()
	return true, nil
}

func (s *Store) Checkpoint(ctx context.Context, episodeID string) (domain.ResumeCheckpoint, error) {
	return s.resume.Get(ctx, episodeID)
}

func (s *Store) RemoveCheckpoint(ctx context.Context, episodeID string) error {
	return s.resume.Delete(ctx, episodeID)
}

// ResumeList groups checkpoints by anime. Groups and the episodes inside them
// are ordered newest first.
func (s *Store) ResumeList(ctx context.Context) ([]domain.ResumeGroup, error) {
	cps, err := s.resume.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cps, func(i, j int) bool { return cps[i].UpdatedAtMs > cps[j].UpdatedAtMs })

	index := make(map[string]int)
	var groups []domain.ResumeGroup
	for _, cp := range cps {
		i, ok := index[cp.AnimeID]
		if !ok {
			i = len(groups)
			index[cp.AnimeID] = i
			groups = append(groups, domain.ResumeGroup{AnimeID: cp.AnimeID, AnimeTitle: cp.AnimeTitle})
		}
		if groups[i].AnimeTitle == "" {
			groups[i].AnimeTitle = cp.AnimeTitle
		}
		groups[i].Episodes = append(groups[i].Episodes, cp)
	}
	return groups, nil
}

// MergeCheckpoints imports checkpoints from another device or an export; the
// newest entry per episode wins. Entries without a timestamp, and positions
// inside the start guard, are skipped. Imports carry no duration, so the end
// guard cannot be checked.
func (s *Store) MergeCheckpoints(ctx context.Context, cps []domain.ResumeCheckpoint) (int, error) {
	written, guarded := 0, 0
	for _, cp := range cps {
		if cp.EpisodeID == "" || cp.UpdatedAtMs == 0 {
			continue
		}
		if !domain.InResumableRange(cp.Position, 0) {
			guarded++
			continue
		}
		ok, err := s.resume.Upsert(ctx, cp)
		if err != nil {
			return written, err
		}
		if ok {
			written++
		}
	}
	s.logger.Info("resume checkpoints merged",
		slog.Int("received", len(cps)),
		slog.Int("written", written),
		slog.Int("outOfRange", guarded),
	)
	return written, nil
}

// SweepCheckpoints deletes checkpoints not touched for olderThan.
func (s *Store) SweepCheckpoints(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	n, err := s.resume.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.ResumeSweptTotal.Add(float64(n))
	return n, nil
}

// AddBookmark stores b at its position. The id is the creation time in
// milliseconds, bumped so ids stay strictly increasing within this process.
func (s *Store) AddBookmark(ctx context.Context, b domain.Bookmark, duration float64) (domain.Bookmark, error) {
	if strings.TrimSpace(b.EpisodeID) == "" {
		return domain.Bookmark{}, fmt.Errorf("%w: episodeId is required", domain.ErrInvalidArgument)
	}
	if !domain.InResumableRange(b.Position, duration) {
		return domain.Bookmark{}, domain.ErrOutOfRange
	}
	b.ID = s.nextID()
	if strings.TrimSpace(b.Title) == "" {
		b.Title = "Bookmark at " + FormatPosition(b.Position)
	}
	if err := s.bookmarks.Create(ctx, b); err != nil {
		return domain.Bookmark{}, err
	}
	s.logger.Info("bookmark added",
		slog.Int64("bookmarkId", b.ID),
		slog.String("episodeId", b.EpisodeID),
		slog.Float64("position", b.Position),
	)
	return b, nil
}

// EditBookmark changes the title and description; position is fixed.
func (s *Store) EditBookmark(ctx context.Context, id int64, title, description string) (domain.Bookmark, error) {
	b, err := s.bookmarks.Get(ctx, id)
	if err != nil {
		return domain.Bookmark{}, err
	}
	if strings.TrimSpace(title) != "" {
		b.Title = title
	}
	b.Description = description
	if err := s.bookmarks.Update(ctx, b); err != nil {
		return domain.Bookmark{}, err
	}
	return b, nil
}

func (s *Store) Bookmark(ctx context.Context, id int64) (domain.Bookmark, error) {
	return s.bookmarks.Get(ctx, id)
}

func (s *Store) DeleteBookmark(ctx context.Context, id int64) error {
	return s.bookmarks.Delete(ctx, id)
}

func (s *Store) Bookmarks(ctx context.Context, episodeID string) ([]domain.Bookmark, error) {
	return s.bookmarks.ListByEpisode(ctx, episodeID)
}

func (s *Store) AllBookmarks(ctx context.Context) ([]domain.Bookmark, error) {
	return s.bookmarks.List(ctx)
}

func (s *Store) nextID() int64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

// FormatPosition renders seconds as m:ss or h:mm:ss.
func FormatPosition(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	h, m, sec := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
