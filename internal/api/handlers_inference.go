package api

import (
	"errors"
	"net/http"

	"github.com/org/journalsync/internal/inference"
	"github.com/org/journalsync/internal/llm"
	"github.com/org/journalsync/internal/quota"
	"github.com/org/journalsync/pkg/models"
)

// PublicKeyHandler handles GET /v1/inference/public-key
func (s *Server) PublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	info, err := s.broker.PublicKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key unavailable")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// InferenceExecuteHandler handles POST /v1/inference/execute
func (s *Server) InferenceExecuteHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	var req models.InferenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.broker.Execute(r.Context(), id.UserID, &req)
	if err != nil {
		s.writeInferenceError(w, r, id.UserID, err)
		return
	}
	inferenceRequestsTotal.WithLabelValues(req.Task).Inc()
	writeJSON(w, http.StatusOK, resp)
}

// InferenceUsageHandler handles GET /v1/inference/usage
func (s *Server) InferenceUsageHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	usage, err := s.broker.Usage(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "usage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// InferenceProviderHandler handles GET /v1/inference/provider
func (s *Server) InferenceProviderHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.ProviderInfo())
}

// writeInferenceError maps pipeline failures onto status codes. Crypto
// failures share one generic message so the response doesn't reveal which
// check failed.
func (s *Server) writeInferenceError(w http.ResponseWriter, r *http.Request, userID string, err error) {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		quotaRejectionsTotal.Inc()
		usage, usageErr := s.broker.Usage(r.Context(), userID)
		if usageErr != nil {
			writeError(w, http.StatusTooManyRequests, "daily quota exceeded")
			return
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"errors": []string{"daily quota exceeded"},
			"usage":  usage,
		})
	case errors.Is(err, inference.ErrDecryption), errors.Is(err, inference.ErrKeyExchange):
		writeError(w, http.StatusUnprocessableEntity, "decryption failed")
	case errors.Is(err, inference.ErrUnknownTask):
		writeError(w, http.StatusBadRequest, "unknown task")
	case errors.Is(err, llm.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "inference provider unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "inference failed")
	}
}
