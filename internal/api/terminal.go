package api

import (
	"net/http"

	"github.com/d-hoffmann/labrange/internal/bridge"
)

// handleTerminal upgrades the request to a websocket and bridges it to an
// interactive shell inside the instance's container. The shell is opened
// before the upgrade so that policy failures still map to HTTP errors.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
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

	exec, err := s.manager.OpenShell(r.Context(), id, owner)
	if err != nil {
		s.logger.Error("open shell", "instance_id", id, "owner_id", owner, "error", err)
		writeAPIError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Error("websocket upgrade", "instance_id", id, "error", err)
		exec.Close()
		return
	}

	s.logger.Info("terminal attached", "instance_id", id, "owner_id", owner)
	// Blocks until either side disconnects or the server shuts down.
	bridge.New(id, conn, exec, s.logger).Run(r.Context())
	s.logger.Info("terminal detached", "instance_id", id, "owner_id", owner)
}
