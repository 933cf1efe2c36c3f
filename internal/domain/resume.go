package domain

import "math"

// EdgeGuardSeconds keeps checkpoints and bookmarks away from both ends of an episode.
const EdgeGuardSeconds = 5.0

// InResumableRange reports whether position is far enough from the start and the
// end of an episode to be worth persisting. An unknown duration (<= 0) only
// applies the start guard. Non-finite positions are never resumable.
func InResumableRange(position, duration float64) bool {
	if math.IsNaN(position) || math.IsInf(position, 0) {
		return false
	}
	if position <= EdgeGuardSeconds {
		return false
	}
	if duration > 0 && position >= duration-EdgeGuardSeconds {
		return false
	}
	return true
}

type ResumeCheckpoint struct {
	AnimeID       string  `json:"animeId"`
	AnimeTitle    string  `json:"animeTitle,omitempty"`
	EpisodeID     string  `json:"episodeId"`
	EpisodeNumber int     `json:"episodeNumber"`
	Position      float64 `json:"positionSeconds"`
	LocationURL   string  `json:"locationUrl"`
	UpdatedAtMs   int64   `json:"lastUpdatedAtMs"`
}

// Newer reports whether c should replace other under last-write-wins.
func (c ResumeCheckpoint) Newer(other ResumeCheckpoint) bool {
	return c.UpdatedAtMs > other.UpdatedAtMs
}

// ResumeGroup is the per-anime view of the resume list.
type ResumeGroup struct {
	AnimeID    string             `json:"animeId"`
	AnimeTitle string             `json:"animeTitle"`
	Episodes   []ResumeCheckpoint `json:"episodes"`
}
