package api

import (
	"errors"
	"net/http"

	"github.com/org/journalsync/internal/entitlement"
)

// AddOnsStatusHandler handles GET /v1/addons/status
func (s *Server) AddOnsStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	status, err := s.entitlements.Status(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "add-on status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// FeaturesHandler handles GET /v1/addons/features
func (s *Server) FeaturesHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	flags, err := s.entitlements.Features(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "feature flags unavailable")
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

// VerifyReceiptHandler handles POST /v1/addons/verify-receipt
func (s *Server) VerifyReceiptHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	var req struct {
		Platform    string `json:"platform"`
		ReceiptData string `json:"receipt_data"`
		ProductID   string `json:"product_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Platform == "" || req.ReceiptData == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "platform, receipt_data, and product_id are required")
		return
	}

	addOn, err := s.entitlements.VerifyAndActivate(r.Context(), id.UserID, req.Platform, req.ReceiptData, req.ProductID)
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrReceiptAlreadyUsed):
			writeError(w, http.StatusConflict, "receipt already processed")
		case errors.Is(err, entitlement.ErrInvalidReceipt):
			writeError(w, http.StatusBadRequest, "receipt verification failed")
		default:
			writeError(w, http.StatusInternalServerError, "receipt processing failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "verified",
		"add_on": addOn,
	})
}
