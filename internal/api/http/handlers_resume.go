package apihttp

import (
	"net/http"
	"net/url"

	"watchcompanion/internal/domain"
)

type saveCheckpointBody struct {
	AnimeID       string  `json:"animeId"`
	AnimeTitle    string  `json:"animeTitle"`
	EpisodeNumber int     `json:"episodeNumber"`
	Position      float64 `json:"positionSeconds"`
	Duration      float64 `json:"durationSeconds"`
	LocationURL   string  `json:"locationUrl"`
	UpdatedAtMs   int64   `json:"lastUpdatedAtMs"`
}

func (s *Server) handleResumeList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	groups, err := s.store.ResumeList(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if groups == nil {
		groups = []domain.ResumeGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleResumeImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var cps []domain.ResumeCheckpoint
	if err := decodeJSON(r, &cps); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	written, err := s.store.MergeCheckpoints(r.Context(), cps)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"received": len(cps), "written": written})
}

func (s *Server) handleResumeByEpisode(w http.ResponseWriter, r *http.Request) {
	parts := pathTail(r.URL.Path, "/resume/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	episodeID, err := url.PathUnescape(parts[0])
	if err != nil || episodeID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid episodeId")
		return
	}

	switch r.Method {
	case http.MethodGet:
		cp, err := s.store.Checkpoint(r.Context(), episodeID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cp)

	case http.MethodPut:
		var body saveCheckpointBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		cp := domain.ResumeCheckpoint{
			AnimeID:       body.AnimeID,
			AnimeTitle:    body.AnimeTitle,
			EpisodeID:     episodeID,
			EpisodeNumber: body.EpisodeNumber,
			Position:      body.Position,
			LocationURL:   body.LocationURL,
			UpdatedAtMs:   body.UpdatedAtMs,
		}
		written, err := s.store.SaveCheckpoint(r.Context(), cp, body.Duration)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"written": written})

	case http.MethodDelete:
		if err := s.store.RemoveCheckpoint(r.Context(), episodeID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
