// Package memory holds map-backed repositories used when no MONGO_URI is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
)

type ResumeRepository struct {
	mu   sync.RWMutex
	byID map[string]domain.ResumeCheckpoint
}

var _ ports.ResumeRepository = (*ResumeRepository)(nil)

func NewResumeRepository() *ResumeRepository {
	return &ResumeRepository{byID: make(map[string]domain.ResumeCheckpoint)}
}

func (r *ResumeRepository) Upsert(_ context.Context, cp domain.ResumeCheckpoint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[cp.EpisodeID]; ok && !cp.Newer(cur) {
		return false, nil
	}
	r.byID[cp.EpisodeID] = cp
	return true, nil
}

func (r *ResumeRepository) Get(_ context.Context, episodeID string) (domain.ResumeCheckpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp, ok := r.byID[episodeID]
	if !ok {
		return domain.ResumeCheckpoint{}, domain.ErrNotFound
	}
	return cp, nil
}

func (r *ResumeRepository) List(_ context.Context) ([]domain.ResumeCheckpoint, error) {
	r.mu.RLock()
	out := make([]domain.ResumeCheckpoint, 0, len(r.byID))
	for _, cp := range r.byID {
		out = append(out, cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAtMs == out[j].UpdatedAtMs {
			return out[i].EpisodeID < out[j].EpisodeID
		}
		return out[i].UpdatedAtMs > out[j].UpdatedAtMs
	})
	return out, nil
}

func (r *ResumeRepository) Delete(_ context.Context, episodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[episodeID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.byID, episodeID)
	return nil
}

func (r *ResumeRepository) DeleteOlderThan(_ context.Context, cutoffMs int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, cp := range r.byID {
		if cp.UpdatedAtMs < cutoffMs {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

type BookmarkRepository struct {
	mu   sync.RWMutex
	byID map[int64]domain.Bookmark
}

var _ ports.BookmarkRepository = (*BookmarkRepository)(nil)

func NewBookmarkRepository() *BookmarkRepository {
	return &BookmarkRepository{byID: make(map[int64]domain.Bookmark)}
}

func (r *BookmarkRepository) Create(_ context.Context, b domain.Bookmark) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[b.ID]; ok {
		return fmt.Errorf("%w: bookmark %d already exists", domain.ErrInvalidArgument, b.ID)
	}
	r.byID[b.ID] = b
	return nil
}

func (r *BookmarkRepository) Update(_ context.Context, b domain.Bookmark) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[b.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Title = b.Title
	cur.Description = b.Description
	r.byID[b.ID] = cur
	return nil
}

func (r *BookmarkRepository) Get(_ context.Context, id int64) (domain.Bookmark, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	if !ok {
		return domain.Bookmark{}, domain.ErrNotFound
	}
	return b, nil
}

func (r *BookmarkRepository) ListByEpisode(_ context.Context, episodeID string) ([]domain.Bookmark, error) {
	r.mu.RLock()
	var out []domain.Bookmark
	for _, b := range r.byID {
		if b.EpisodeID == episodeID {
			out = append(out, b)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].ID < out[j].ID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (r *BookmarkRepository) List(_ context.Context) ([]domain.Bookmark, error) {
	r.mu.RLock()
	out := make([]domain.Bookmark, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, b)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *BookmarkRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}
