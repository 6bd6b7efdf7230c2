package handlers

import (
	"encoding/base64"
	"net/http"

	"go.uber.org/zap"

	"arbor-backend/infrastructure/secrets"
	appErrors "arbor-backend/pkg/errors"
)

// SecretHandler seals and opens small payloads with the master key.
type SecretHandler struct {
	service *secrets.Service
	logger  *zap.Logger
}

// NewSecretHandler creates a new secret handler
func NewSecretHandler(service *secrets.Service, logger *zap.Logger) *SecretHandler {
	return &SecretHandler{
		service: service,
		logger:  logger,
	}
}

// SealRequest carries a base64-encoded plaintext to encrypt.
type SealRequest struct {
	Plaintext string `json:"plaintext" validate:"required,base64"`
}

// SealResponse returns the sealed ciphertext.
type SealResponse struct {
	Sealed string `json:"sealed"`
}

// OpenRequest carries a sealed ciphertext to decrypt.
type OpenRequest struct {
	Sealed string `json:"sealed" validate:"required"`
}

// OpenResponse returns the base64-encoded plaintext.
type OpenResponse struct {
	Plaintext string `json:"plaintext"`
}

// Seal handles POST /secrets/seal.
func (h *SecretHandler) Seal(w http.ResponseWriter, r *http.Request) {
	var req SealRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondAppError(w, err)
		return
	}

	plaintext, err := base64.StdEncoding.DecodeString(req.Plaintext)
	if err != nil {
		respondAppError(w, appErrors.NewValidation("plaintext must be base64-encoded"))
		return
	}

	sealed, err := h.service.Seal(plaintext)
	if err != nil {
		h.logger.Error("failed to seal payload", zap.Error(err))
		respondAppError(w, appErrors.NewInternal("failed to seal payload", err))
		return
	}

	respondJSON(w, http.StatusOK, SealResponse{Sealed: sealed})
}

// Open handles POST /secrets/open. A malformed or tampered ciphertext
// is a validation failure, not a server error.
func (h *SecretHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondAppError(w, err)
		return
	}

	plaintext, err := h.service.Open(req.Sealed)
	if err != nil {
		respondAppError(w, appErrors.NewValidation("sealed payload could not be opened"))
		return
	}

	respondJSON(w, http.StatusOK, OpenResponse{
		Plaintext: base64.StdEncoding.EncodeToString(plaintext),
	})
}
