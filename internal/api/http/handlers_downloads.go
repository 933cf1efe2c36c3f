package apihttp

import (
	"net/http"

	"watchcompanion/internal/domain"
)

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	if s.downloads == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "downloads not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.downloads.List())
	case http.MethodPost:
		var job domain.DownloadJob
		if err := decodeJSON(r, &job); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		state, err := s.downloads.Start(job)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, state)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDownloadByID(w http.ResponseWriter, r *http.Request) {
	if s.downloads == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "downloads not configured")
		return
	}
	parts := pathTail(r.URL.Path, "/downloads/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		state, err := s.downloads.Get(parts[0])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	case len(parts) == 2 && parts[1] == "retry":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		state, err := s.downloads.Retry(parts[0])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, state)
	case len(parts) == 1:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}
