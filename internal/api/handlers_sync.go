package api

import (
	"errors"
	"net/http"

	syncengine "github.com/org/journalsync/internal/sync"
	"github.com/org/journalsync/pkg/models"
)

// SyncPushHandler handles POST /v1/sync/push
func (s *Server) SyncPushHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	var req models.PushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.engine.Push(r.Context(), id.UserID, id.DeviceID, &req)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	syncPushesTotal.Inc()
	if len(resp.Conflicts) > 0 {
		syncConflictsTotal.Add(float64(len(resp.Conflicts)))
	}
	writeJSON(w, http.StatusOK, resp)
}

// SyncPullHandler handles POST /v1/sync/pull
func (s *Server) SyncPullHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	var req models.PullRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.engine.Pull(r.Context(), id.UserID, id.DeviceID, &req)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SyncStatusHandler handles GET /v1/sync/status
func (s *Server) SyncStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	resp, err := s.engine.Status(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sync status failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeSyncError(w http.ResponseWriter, err error) {
	if errors.Is(err, syncengine.ErrSyncDisabled) {
		writeError(w, http.StatusForbidden, "sync add-on not active")
		return
	}
	writeError(w, http.StatusInternalServerError, "sync failed")
}
