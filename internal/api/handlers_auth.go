package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/org/journalsync/internal/auth"
)

// SignInHandler handles POST /v1/auth/signin
func (s *Server) SignInHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SignInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "provider and id_token are required")
		return
	}

	resp, err := s.authSvc.SignIn(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnknownProvider):
			writeError(w, http.StatusBadRequest, "unknown provider")
		case errors.Is(err, auth.ErrOAuthVerification):
			writeError(w, http.StatusUnauthorized, "oauth verification failed")
		default:
			writeError(w, http.StatusInternalServerError, "sign-in failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RefreshHandler handles POST /v1/auth/refresh
func (s *Server) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	resp, err := s.authSvc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		writeError(w, http.StatusInternalServerError, "token refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DevicesHandler handles GET /v1/auth/devices
func (s *Server) DevicesHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	devices, err := s.authSvc.ListDevices(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing devices failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// DeviceDeleteHandler handles DELETE /v1/auth/devices/{deviceID}
func (s *Server) DeviceDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	if err := s.authSvc.DeleteDevice(r.Context(), id.UserID, deviceID); err != nil {
		writeError(w, http.StatusInternalServerError, "deleting device failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deviceID})
}
