// Package handlers contains the HTTP handlers for the REST surface.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"arbor-backend/internal/domain"
	appErrors "arbor-backend/pkg/errors"
)

// validate is the shared request validator.
var validate = validator.New()

// NodeResponse is the wire representation of a node.
type NodeResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	ParentID  string         `json:"parentId,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
	Position  int            `json:"position"`
	Tags      []string       `json:"tags"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedBy string         `json:"createdBy"`
	UpdatedBy string         `json:"updatedBy"`
	CreatedAt string         `json:"createdAt"`
	UpdatedAt string         `json:"updatedAt"`
}

func toNodeResponse(node *domain.Node) NodeResponse {
	return NodeResponse{
		ID:        node.ID,
		Type:      string(node.Type),
		Name:      node.Name,
		Slug:      node.Slug,
		ParentID:  node.ParentID,
		Content:   node.Content,
		Position:  node.Position,
		Tags:      node.Tags,
		Metadata:  node.Metadata,
		CreatedBy: node.CreatedBy,
		UpdatedBy: node.UpdatedBy,
		CreatedAt: node.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: node.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func toNodeResponses(nodes []*domain.Node) []NodeResponse {
	out := make([]NodeResponse, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, toNodeResponse(node))
	}
	return out
}

// ErrorResponse is the wire representation of a failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondAppError maps typed application errors onto HTTP statuses:
// validation 400, not found 404, cycle 409, everything else 500.
func respondAppError(w http.ResponseWriter, err error) {
	var appErr *appErrors.AppError
	status := http.StatusInternalServerError
	errType := string(appErrors.ErrorTypeInternal)
	message := "Internal server error"

	if e, ok := err.(*appErrors.AppError); ok {
		appErr = e
	} else if unwrapped, ok := unwrapAppError(err); ok {
		appErr = unwrapped
	}

	if appErr != nil {
		errType = string(appErr.Type)
		switch appErr.Type {
		case appErrors.ErrorTypeValidation:
			status = http.StatusBadRequest
			message = appErr.Message
		case appErrors.ErrorTypeNotFound:
			status = http.StatusNotFound
			message = appErr.Message
		case appErrors.ErrorTypeCycle:
			status = http.StatusConflict
			message = appErr.Message
		}
	}

	respondJSON(w, status, ErrorResponse{Error: message, Type: errType})
}

func unwrapAppError(err error) (*appErrors.AppError, bool) {
	for err != nil {
		if appErr, ok := err.(*appErrors.AppError); ok {
			return appErr, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

// decodeAndValidate parses the JSON body into dst and runs struct validation.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return appErrors.NewValidation("invalid request body: " + err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return appErrors.NewValidation("validation error: " + err.Error())
	}
	return nil
}
