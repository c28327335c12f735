package http

import (
	"net/http"
	"strconv"

	"github.com/parlorchat/parlor-server/internal/messages"
)

type createMessageRequest struct {
	Text     string   `json:"text" validate:"required,max=4000"`
	RoleTags []int64  `json:"role_tags" validate:"max=32"`
	UserTags []string `json:"user_tags" validate:"max=32"`
	ReplyTo  *int64   `json:"reply_to"`
	ThreadID *int64   `json:"thread_id"`
}

type updateMessageRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req createMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	msg, err := s.messages.Create(r.Context(), channelID, userID, messages.CreateInput{
		Text:     req.Text,
		RoleTags: req.RoleTags,
		UserTags: req.UserTags,
		ReplyTo:  req.ReplyTo,
		ThreadID: req.ThreadID,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	messageID, err := pathID(r, "messageID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req updateMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	msg, err := s.messages.Update(r.Context(), channelID, messageID, userID, req.Text)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	messageID, err := pathID(r, "messageID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.messages.Delete(r.Context(), channelID, messageID, userID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var beforeID int64
	if v := r.URL.Query().Get("before"); v != "" {
		beforeID, _ = strconv.ParseInt(v, 10, 64)
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	page, err := s.messages.List(r.Context(), channelID, userID, beforeID, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
