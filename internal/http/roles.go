package http

import (
	"net/http"

	"github.com/parlorchat/parlor-server/internal/models"
)

type createRoleRequest struct {
	Name         string              `json:"name" validate:"required,max=100"`
	Color        string              `json:"color" validate:"max=16"`
	Capabilities models.Capabilities `json:"capabilities"`
}

type transferOwnershipRequest struct {
	NewOwnerID int64 `json:"new_owner_id" validate:"required,gt=0"`
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	serverID, err := pathID(r, "serverID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	role, err := s.roles.Create(r.Context(), serverID, userID, req.Name, req.Color, req.Capabilities)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	roleID, err := pathID(r, "roleID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.roles.Delete(r.Context(), roleID, userID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	actorID, _ := UserIDFrom(r.Context())
	serverID, err := pathID(r, "serverID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	targetID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.roles.Assign(r.Context(), serverID, actorID, targetID, roleID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnassignRole(w http.ResponseWriter, r *http.Request) {
	actorID, _ := UserIDFrom(r.Context())
	serverID, err := pathID(r, "serverID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	targetID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.roles.Unassign(r.Context(), serverID, actorID, targetID, roleID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	actorID, _ := UserIDFrom(r.Context())
	serverID, err := pathID(r, "serverID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req transferOwnershipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := s.roles.TransferOwnership(r.Context(), serverID, actorID, req.NewOwnerID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFrom(r.Context())
	serverID, err := pathID(r, "serverID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	list, err := s.roles.List(r.Context(), serverID, userID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
