package domain

import "time"

type DownloadStatus string

const (
	DownloadPending   DownloadStatus = "pending"
	DownloadRunning   DownloadStatus = "running"
	DownloadSucceeded DownloadStatus = "succeeded"
	DownloadFailed    DownloadStatus = "failed"
)

func (s DownloadStatus) IsFinished() bool {
	return s == DownloadSucceeded || s == DownloadFailed
}

// DownloadJob describes one episode to save from a manifest or a single file.
type DownloadJob struct {
	ID               string   `json:"id"`
	URL              string   `json:"url"`
	Title            string   `json:"title"`
	EpisodeNumber    int      `json:"episodeNumber"`
	Quality          string   `json:"quality"`
	Fansubs          []string `json:"fansubList,omitempty"`
	SourceTag        string   `json:"sourceTag"`
	FilenameTemplate string   `json:"filenameTemplate,omitempty"`
}

type DownloadProgress struct {
	Percentage          float64 `json:"percentage"`
	Done                int     `json:"doneCount"`
	Total               int     `json:"totalCount"`
	DoneBytes           int64   `json:"doneBytes"`
	EstimatedTotalBytes int64   `json:"estimatedTotalBytes"`
}

// DownloadState is the job snapshot exposed to callers.
type DownloadState struct {
	Job       DownloadJob      `json:"job"`
	Status    DownloadStatus   `json:"status"`
	Progress  DownloadProgress `json:"progress"`
	Filename  string           `json:"filename,omitempty"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"startedAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}
