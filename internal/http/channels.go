package http

import (
	"net/http"

	"github.com/parlorchat/parlor-server/internal/apperr"
	"github.com/parlorchat/parlor-server/internal/channels"
	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/store"
)

type createChannelRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Kind     string `json:"kind" validate:"required"`
	ParentID *int64 `json:"parent_id"`
	Capacity int    `json:"capacity" validate:"min=0,max=999"`
}

type updateGrantsRequest struct {
	CanView  []int64 `json:"can_view"`
	CanWrite []int64 `json:"can_write"`
	CanJoin  []int64 `json:"can_join"`
	Notified []int64 `json:"notified"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	serverID, err := pathID(r, "serverID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req createChannelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	kind, ok := models.ParseChannelKind(req.Kind)
	if !ok {
		writeError(w, s.logger, apperr.InvalidArgument(apperr.SubjectChannel, "unknown channel kind"))
		return
	}

	ch, err := s.channels.Create(r.Context(), serverID, userID, channels.CreateInput{
		Name:     req.Name,
		Kind:     kind,
		ParentID: req.ParentID,
		Capacity: req.Capacity,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleUpdateGrants(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req updateGrantsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	ch, err := s.channels.UpdateGrants(r.Context(), channelID, userID, store.GrantSets{
		CanView:  models.NewRoleSet(req.CanView...),
		CanWrite: models.NewRoleSet(req.CanWrite...),
		CanJoin:  models.NewRoleSet(req.CanJoin...),
		Notified: models.NewRoleSet(req.Notified...),
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleRetireChannel(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.channels.Retire(r.Context(), channelID, userID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreChannel(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	ch, err := s.channels.Restore(r.Context(), channelID, userID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	serverID, err := pathID(r, "serverID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	list, err := s.channels.List(r.Context(), serverID, userID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
