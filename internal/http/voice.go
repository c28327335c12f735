package http

import (
	"net/http"
)

type muteRequest struct {
	Muted bool `json:"muted"`
}

type streamRequest struct {
	Streaming bool `json:"streaming"`
}

func (s *Server) handleVoiceJoin(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	p, err := s.voice.Join(r.Context(), channelID, userID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleVoiceLeave(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	if err := s.voice.Leave(r.Context(), userID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoiceMuteSelf(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	var req muteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	p, err := s.voice.SetMuteSelf(r.Context(), userID, req.Muted)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleVoiceMuteOther(w http.ResponseWriter, r *http.Request) {
	actorID, _ := UserIDFrom(r.Context())
	targetID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req muteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	p, err := s.voice.MuteOther(r.Context(), actorID, targetID, req.Muted)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleVoiceStream(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())

	var req streamRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	p, err := s.voice.SetStream(r.Context(), userID, req.Streaming)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleVoiceRoster(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	roster, err := s.voice.Roster(r.Context(), channelID, userID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}
