package domain

// Bookmark is a user-created marker. ID is the creation time in milliseconds.
type Bookmark struct {
	ID            int64   `json:"bookmarkId"`
	AnimeID       string  `json:"animeId"`
	EpisodeID     string  `json:"episodeId"`
	EpisodeNumber int     `json:"episodeNumber"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Position      float64 `json:"positionSeconds"`
}
