package api

import (
	"net/http"
	"strconv"
)

func (s *Server) handleListLabs(w http.ResponseWriter, r *http.Request) {
	labs := s.manager.Labs(r.Context())
	s.logger.Debug("list labs", "count", len(labs))
	writeJSON(w, http.StatusOK, labs)
}

func (s *Server) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	labID := r.PathValue("id")
	if err := validateLabID(labID); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	owner := requesterID(r)
	if owner == "" {
		writeValidationError(w, identityHeader+" header is required")
		return
	}

	s.logger.Debug("start instance request", "lab_id", labID, "owner_id", owner)
	inst, err := s.manager.StartInstance(r.Context(), owner, labID)
	if err != nil {
		s.logger.Error("start instance", "lab_id", labID, "owner_id", owner, "error", err)
		writeAPIError(w, err)
		return
	}
	s.logger.Debug("instance started", "instance_id", inst.ID, "lab_id", labID, "status", inst.Status)
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	owner := requesterID(r)
	if owner == "" {
		writeValidationError(w, identityHeader+" header is required")
		return
	}

	instances, err := s.manager.List(r.Context(), owner)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.logger.Debug("list instances", "owner_id", owner, "count", len(instances))
	writeJSON(w, http.StatusOK, instances)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateInstanceID(id); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	owner := requesterID(r)
	if owner == "" {
		writeValidationError(w, identityHeader+" header is required")
		return
	}

	inst, err := s.manager.Get(r.Context(), id, owner)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleStopInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateInstanceID(id); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	owner := requesterID(r)
	if owner == "" {
		writeValidationError(w, identityHeader+" header is required")
		return
	}

	s.logger.Debug("stop instance", "instance_id", id, "owner_id", owner)
	if err := s.manager.StopInstance(r.Context(), id, owner); err != nil {
		s.logger.Error("stop instance", "instance_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleInstanceLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateInstanceID(id); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	owner := requesterID(r)
	if owner == "" {
		writeValidationError(w, identityHeader+" header is required")
		return
	}

	tail := 200
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeValidationError(w, "tail must be an integer")
			return
		}
		tail = n
	}
	if err := validateTail(tail); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	logs, err := s.manager.Logs(r.Context(), id, owner, tail)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}
