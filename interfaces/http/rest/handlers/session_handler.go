package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"arbor-backend/infrastructure/sessioncache"
	appErrors "arbor-backend/pkg/errors"
)

// SessionHandler exposes the TTL-backed session state store.
type SessionHandler struct {
	cache  *sessioncache.Cache
	logger *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(cache *sessioncache.Cache, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		cache:  cache,
		logger: logger,
	}
}

// PutSessionRequest carries a session value and an optional TTL override.
type PutSessionRequest struct {
	Value      json.RawMessage `json:"value" validate:"required"`
	TTLSeconds int             `json:"ttlSeconds" validate:"omitempty,min=1,max=86400"`
}

// SessionResponse returns a stored session value.
type SessionResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// PutSession handles PUT /sessions/{key}.
func (h *SessionHandler) PutSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req PutSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondAppError(w, err)
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.cache.Set(key, req.Value, ttl); err != nil {
		h.logger.Error("failed to store session value", zap.String("key", key), zap.Error(err))
		respondAppError(w, appErrors.NewInternal("failed to store session value", err))
		return
	}

	respondJSON(w, http.StatusOK, SessionResponse{Key: key, Value: req.Value})
}

// GetSession handles GET /sessions/{key}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := h.cache.Get(key)
	if err != nil {
		if errors.Is(err, sessioncache.ErrNotFound) {
			respondAppError(w, appErrors.NewNotFound("session '"+key+"' not found"))
			return
		}
		h.logger.Error("failed to read session value", zap.String("key", key), zap.Error(err))
		respondAppError(w, appErrors.NewInternal("failed to read session value", err))
		return
	}

	respondJSON(w, http.StatusOK, SessionResponse{Key: key, Value: value})
}

// DeleteSession handles DELETE /sessions/{key}. Deleting an absent key
// succeeds.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.cache.Delete(key); err != nil {
		h.logger.Error("failed to delete session value", zap.String("key", key), zap.Error(err))
		respondAppError(w, appErrors.NewInternal("failed to delete session value", err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
