package domain

// SourceKind tells which controller variant drives a session.
type SourceKind string

const (
	SourceDirect    SourceKind = "direct"
	SourceStreaming SourceKind = "streaming"
	SourceEmbedded  SourceKind = "embedded"
)

type Quality struct {
	Label  string `json:"label"`
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
}

// PlaybackSession lives for one loaded episode in one tab.
type PlaybackSession struct {
	EpisodeID      string     `json:"episodeId"`
	AnimeID        string     `json:"animeId"`
	AnimeTitle     string     `json:"animeTitle"`
	EpisodeNumber  int        `json:"episodeNumber"`
	SourceKind     SourceKind `json:"sourceKind"`
	Qualities      []Quality  `json:"qualities"`
	CurrentQuality string     `json:"currentQuality"`
	InChildContext bool       `json:"isInChildContext"`
	Fansubs        []string   `json:"fansubList,omitempty"`
	// PageURL is stored with checkpoints so the resume list can reopen the page.
	PageURL string `json:"pageUrl,omitempty"`
}

// Quality returns the quality with the given label.
func (s PlaybackSession) Quality(label string) (Quality, bool) {
	for _, q := range s.Qualities {
		if q.Label == label {
			return q, true
		}
	}
	return Quality{}, false
}

// DefaultQuality picks CurrentQuality when present, otherwise the tallest entry.
func (s PlaybackSession) DefaultQuality() (Quality, bool) {
	if q, ok := s.Quality(s.CurrentQuality); ok && s.CurrentQuality != "" {
		return q, true
	}
	if len(s.Qualities) == 0 {
		return Quality{}, false
	}
	best := s.Qualities[0]
	for _, q := range s.Qualities[1:] {
		if q.Height > best.Height {
			best = q
		}
	}
	return best, true
}
