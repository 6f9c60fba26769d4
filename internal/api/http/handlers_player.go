package apihttp

import (
	"net/http"

	"torrentplay/internal/domain"
)

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.playback == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "playback not configured")
		return
	}
	session, ok := s.playback.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no active session")
		return
	}
	writeJSON(w, http.StatusOK, session.Status())
}

func (s *Server) handlePlayerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.playback == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "playback not configured")
		return
	}
	if !s.playback.Stop(domain.OutcomeStopped) {
		writeError(w, http.StatusNotFound, "not_found", "no active session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type playerList struct {
	Items []string `json:"items"`
	Count int      `json:"count"`
}

// handlePlayers lists connected players, most recent last.
func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ids := s.players.ids()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, playerList{Items: ids, Count: len(ids)})
}
