package usecase

import (
	"context"
	"errors"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
)

type BookmarkLookup interface {
	Bookmark(ctx context.Context, id int64) (domain.Bookmark, error)
}

type CheckpointLookup interface {
	Checkpoint(ctx context.Context, episodeID string) (domain.ResumeCheckpoint, error)
}

// OpenEntry queues the request a list entry makes when the user picks it: the
// controller that loads the matching episode consumes it and seeks.
type OpenEntry struct {
	Bookmarks   BookmarkLookup
	Checkpoints CheckpointLookup
	Queue       ports.OpenRequestQueue
}

// OpenBookmark queues a bookmark request. url is the page the caller is about
// to open for the bookmark's episode.
func (o OpenEntry) OpenBookmark(ctx context.Context, id int64, url string) (domain.PendingOpenRequest, error) {
	b, err := o.Bookmarks.Bookmark(ctx, id)
	if err != nil {
		return domain.PendingOpenRequest{}, passNotFound(err)
	}
	pos := b.Position
	req, err := o.Queue.Push(ctx, domain.PendingOpenRequest{
		Kind:      domain.OpenBookmark,
		EpisodeID: b.EpisodeID,
		URL:       url,
		Position:  &pos,
	})
	if err != nil {
		return domain.PendingOpenRequest{}, wrapRepo(err)
	}
	return req, nil
}

// OpenResume queues a resume request at the stored checkpoint.
func (o OpenEntry) OpenResume(ctx context.Context, episodeID string) (domain.PendingOpenRequest, error) {
	cp, err := o.Checkpoints.Checkpoint(ctx, episodeID)
	if err != nil {
		return domain.PendingOpenRequest{}, passNotFound(err)
	}
	pos := cp.Position
	req, err := o.Queue.Push(ctx, domain.PendingOpenRequest{
		Kind:      domain.OpenResume,
		EpisodeID: cp.EpisodeID,
		URL:       cp.LocationURL,
		Position:  &pos,
	})
	if err != nil {
		return domain.PendingOpenRequest{}, wrapRepo(err)
	}
	return req, nil
}

func passNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return wrapRepo(err)
}
