package apihttp

import (
	"net/http"
	"strings"

	"watchcompanion/internal/domain"
)

type openRequestBody struct {
	BookmarkID int64    `json:"bookmarkId"`
	EpisodeID  string   `json:"episodeId"`
	URL        string   `json:"url"`
	Position   *float64 `json:"positionSeconds"`
}

func openKindFromPath(segment string) (domain.OpenRequestKind, bool) {
	switch segment {
	case "bookmarks":
		return domain.OpenBookmark, true
	case "resume":
		return domain.OpenResume, true
	default:
		return "", false
	}
}

// handleOpenRequests serves /open/{bookmarks|resume}[/{id}].
func (s *Server) handleOpenRequests(w http.ResponseWriter, r *http.Request) {
	if s.openQueue == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "open requests not configured")
		return
	}
	parts := pathTail(r.URL.Path, "/open/")
	if len(parts) == 0 || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	kind, ok := openKindFromPath(parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := s.openQueue.Remove(r.Context(), kind, parts[1]); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.Method {
	case http.MethodGet:
		reqs, err := s.openQueue.List(r.Context(), kind)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if reqs == nil {
			reqs = []domain.PendingOpenRequest{}
		}
		writeJSON(w, http.StatusOK, reqs)
	case http.MethodPost:
		var body openRequestBody
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		req, err := s.pushOpenRequest(r, kind, body)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, req)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// pushOpenRequest resolves list references through the stores when the body
// names a bookmark or omits the resume position, and queues the body as-is
// otherwise.
func (s *Server) pushOpenRequest(r *http.Request, kind domain.OpenRequestKind, body openRequestBody) (domain.PendingOpenRequest, error) {
	ctx := r.Context()
	if s.openEntry != nil {
		switch {
		case kind == domain.OpenBookmark && body.BookmarkID > 0:
			return s.openEntry.OpenBookmark(ctx, body.BookmarkID, strings.TrimSpace(body.URL))
		case kind == domain.OpenResume && body.Position == nil:
			return s.openEntry.OpenResume(ctx, strings.TrimSpace(body.EpisodeID))
		}
	}
	return s.openQueue.Push(ctx, domain.PendingOpenRequest{
		Kind:      kind,
		EpisodeID: strings.TrimSpace(body.EpisodeID),
		URL:       strings.TrimSpace(body.URL),
		Position:  body.Position,
	})
}
