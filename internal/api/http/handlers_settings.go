package apihttp

import (
	"net/http"

	"watchcompanion/internal/manifest"
)

func (s *Server) handlePlayerSettings(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "player settings not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.player.Get())
	case http.MethodPut, http.MethodPatch:
		body := s.player.Get()
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		if err := s.player.Update(body); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.player.Get())
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type tokenRuleResponse struct {
	Hosts  []string `json:"hosts"`
	Params []string `json:"params"`
}

func (s *Server) handleTokenRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := tokenRuleResponse{Hosts: s.tokenRule.Hosts, Params: s.tokenRule.Params}
	if resp.Hosts == nil {
		resp.Hosts = []string{}
	}
	if len(resp.Params) == 0 {
		resp.Params = manifest.DefaultTokenParams
	}
	writeJSON(w, http.StatusOK, resp)
}
