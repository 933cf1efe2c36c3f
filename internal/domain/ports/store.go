package ports

import (
	"context"

	"watchcompanion/internal/domain"
)

type ResumeRepository interface {
	// Upsert stores cp unless a newer checkpoint for the episode exists.
	// It reports whether cp was written.
	Upsert(ctx context.Context, cp domain.ResumeCheckpoint) (bool, error)
	Get(ctx context.Context, episodeID string) (domain.ResumeCheckpoint, error)
	List(ctx context.Context) ([]domain.ResumeCheckpoint, error)
	Delete(ctx context.Context, episodeID string) error
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}

type BookmarkRepository interface {
	Create(ctx context.Context, b domain.Bookmark) error
	Update(ctx context.Context, b domain.Bookmark) error
	Get(ctx context.Context, id int64) (domain.Bookmark, error)
	ListByEpisode(ctx context.Context, episodeID string) ([]domain.Bookmark, error)
	List(ctx context.Context) ([]domain.Bookmark, error)
	Delete(ctx context.Context, id int64) error
}

// OpenRequestQueue is the pending "open this item" queue kept by the background process.
type OpenRequestQueue interface {
	Push(ctx context.Context, req domain.PendingOpenRequest) (domain.PendingOpenRequest, error)
	List(ctx context.Context, kind domain.OpenRequestKind) ([]domain.PendingOpenRequest, error)
	// Remove is idempotent: removing an unknown id is not an error.
	Remove(ctx context.Context, kind domain.OpenRequestKind, id string) error
}
