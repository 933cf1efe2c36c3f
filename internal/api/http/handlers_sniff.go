package apihttp

import (
	"net/http"

	"watchcompanion/internal/player"
)

type sniffBody struct {
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
	BaseURL     string `json:"baseUrl"`
}

// handleSniff runs dispatch over a source response the page already fetched.
func (s *Server) handleSniff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body sniffBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	src, err := player.Sniff(body.ContentType, []byte(body.Body), body.BaseURL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}
