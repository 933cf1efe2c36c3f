package apihttp

import (
	"net/http"
	"strings"

	"watchcompanion/internal/domain"
)

type createBookmarkBody struct {
	AnimeID       string  `json:"animeId"`
	EpisodeID     string  `json:"episodeId"`
	EpisodeNumber int     `json:"episodeNumber"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Position      float64 `json:"positionSeconds"`
	Duration      float64 `json:"durationSeconds"`
}

type editBookmarkBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var (
			list []domain.Bookmark
			err  error
		)
		if episodeID := strings.TrimSpace(r.URL.Query().Get("episodeId")); episodeID != "" {
			list, err = s.store.Bookmarks(r.Context(), episodeID)
		} else {
			list, err = s.store.AllBookmarks(r.Context())
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if list == nil {
			list = []domain.Bookmark{}
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var body createBookmarkBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		b, err := s.store.AddBookmark(r.Context(), domain.Bookmark{
			AnimeID:       body.AnimeID,
			EpisodeID:     body.EpisodeID,
			EpisodeNumber: body.EpisodeNumber,
			Title:         body.Title,
			Description:   body.Description,
			Position:      body.Position,
		}, body.Duration)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBookmarkByID(w http.ResponseWriter, r *http.Request) {
	parts := pathTail(r.URL.Path, "/bookmarks/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	id, err := parseInt64ID(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid bookmark id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		b, err := s.store.Bookmark(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)

	case http.MethodPatch:
		var body editBookmarkBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		b, err := s.store.EditBookmark(r.Context(), id, body.Title, body.Description)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)

	case http.MethodDelete:
		if err := s.store.DeleteBookmark(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
