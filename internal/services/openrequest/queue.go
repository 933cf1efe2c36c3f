package openrequest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"watchcompanion/internal/domain"
	"watchcompanion/internal/domain/ports"
)

// DefaultTTL bounds how long an unconsumed open request stays queued.
const DefaultTTL = 2 * time.Minute

// Match returns the oldest pending request of kind for episodeID.
func Match(ctx context.Context, q ports.OpenRequestQueue, kind domain.OpenRequestKind, episodeID string) (domain.PendingOpenRequest, bool, error) {
	reqs, err := q.List(ctx, kind)
	if err != nil {
		return domain.PendingOpenRequest{}, false, err
	}
	for _, r := range reqs {
		if r.EpisodeID == episodeID {
			return r, true, nil
		}
	}
	return domain.PendingOpenRequest{}, false, nil
}

func prepare(req domain.PendingOpenRequest, now time.Time) (domain.PendingOpenRequest, error) {
	if !req.Kind.Valid() {
		return req, fmt.Errorf("%w: unknown open request kind %q", domain.ErrInvalidArgument, req.Kind)
	}
	if strings.TrimSpace(req.EpisodeID) == "" {
		return req, fmt.Errorf("%w: episodeId is required", domain.ErrInvalidArgument)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	return req, nil
}

func sortByCreated(reqs []domain.PendingOpenRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

// MemoryQueue keeps requests in process memory.
type MemoryQueue struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[domain.OpenRequestKind]map[string]domain.PendingOpenRequest
}

var _ ports.OpenRequestQueue = (*MemoryQueue)(nil)

func NewMemoryQueue(ttl time.Duration) *MemoryQueue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryQueue{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[domain.OpenRequestKind]map[string]domain.PendingOpenRequest),
	}
}

func (q *MemoryQueue) Push(_ context.Context, req domain.PendingOpenRequest) (domain.PendingOpenRequest, error) {
	req, err := prepare(req, q.now())
	if err != nil {
		return req, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	bucket, ok := q.items[req.Kind]
	if !ok {
		bucket = make(map[string]domain.PendingOpenRequest)
		q.items[req.Kind] = bucket
	}
	bucket[req.ID] = req
	return req, nil
}

func (q *MemoryQueue) List(_ context.Context, kind domain.OpenRequestKind) ([]domain.PendingOpenRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-q.ttl)
	out := make([]domain.PendingOpenRequest, 0, len(q.items[kind]))
	for id, req := range q.items[kind] {
		if req.CreatedAt.Before(cutoff) {
			delete(q.items[kind], id)
			continue
		}
		out = append(out, req)
	}
	sortByCreated(out)
	return out, nil
}

func (q *MemoryQueue) Remove(_ context.Context, kind domain.OpenRequestKind, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items[kind], id)
	return nil
}
