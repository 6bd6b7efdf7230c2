package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"arbor-backend/internal/repository"
	"arbor-backend/internal/service/tree"
	appErrors "arbor-backend/pkg/errors"
)

// SearchHandler answers tag queries against the tag index.
type SearchHandler struct {
	store  *tree.Service
	logger *zap.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(store *tree.Service, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		store:  store,
		logger: logger,
	}
}

// SearchResponse wraps a tag query result set.
type SearchResponse struct {
	Nodes []NodeResponse `json:"nodes"`
	Count int            `json:"count"`
}

// SearchByTags handles GET /search?tags=a,b&operator=and.
// The operator defaults to "or" (any tag matches); "and" requires
// every queried tag on each result.
func (h *SearchHandler) SearchByTags(w http.ResponseWriter, r *http.Request) {
	var tags []string
	for _, raw := range strings.Split(r.URL.Query().Get("tags"), ",") {
		if tag := strings.TrimSpace(raw); tag != "" {
			tags = append(tags, tag)
		}
	}

	op := repository.TagOperatorOr
	if raw := r.URL.Query().Get("operator"); raw != "" {
		op = repository.TagOperator(strings.ToUpper(raw))
		if !op.Valid() {
			respondAppError(w, appErrors.NewValidation("operator must be 'and' or 'or'"))
			return
		}
	}

	nodes, err := h.store.NodesByTags(r.Context(), tags, op)
	if err != nil {
		respondAppError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, SearchResponse{
		Nodes: toNodeResponses(nodes),
		Count: len(nodes),
	})
}
