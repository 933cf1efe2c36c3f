package domain

import "time"

type OpenRequestKind string

const (
	OpenBookmark OpenRequestKind = "bookmark"
	OpenResume   OpenRequestKind = "resume"
)

func (k OpenRequestKind) Valid() bool {
	return k == OpenBookmark || k == OpenResume
}

// PendingOpenRequest records that the user asked to open an item from a list.
// The controller whose episode matches consumes it and seeks to Position.
type PendingOpenRequest struct {
	ID        string          `json:"id"`
	Kind      OpenRequestKind `json:"kind"`
	EpisodeID string          `json:"episodeId"`
	URL       string          `json:"url"`
	Position  *float64        `json:"positionSeconds,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
