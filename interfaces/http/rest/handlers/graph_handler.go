package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"arbor-backend/application/loaders"
	"arbor-backend/application/resolver"
	"arbor-backend/internal/service/tree"
	appErrors "arbor-backend/pkg/errors"
)

// GraphHandler answers nested graph queries.
type GraphHandler struct {
	store  *tree.Service
	logger *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(store *tree.Service, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{
		store:  store,
		logger: logger,
	}
}

// NodeGraphResponse is a node with its relations expanded.
type NodeGraphResponse struct {
	NodeResponse
	Parent    *NodeResponse       `json:"parent,omitempty"`
	Container *NodeResponse       `json:"container,omitempty"`
	Children  []NodeGraphResponse `json:"children,omitempty"`
}

// GetGraph handles GET /graph/{nodeID}?depth=n: the node with parent,
// owning container, and children expanded depth levels down, resolved
// through the request's batching context.
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	depth := 1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondAppError(w, appErrors.NewValidation("depth must be an integer"))
			return
		}
		depth = parsed
	}

	l, ok := loaders.FromContext(r.Context())
	if !ok {
		respondMessage(w, http.StatusInternalServerError, "no batching context")
		return
	}
	res := resolver.New(h.store, l, h.logger)

	graph, err := res.ResolveGraph(r.Context(), nodeID, depth)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if graph == nil {
		respondAppError(w, appErrors.NewNotFound("node '"+nodeID+"' not found"))
		return
	}
	respondJSON(w, http.StatusOK, toGraphResponse(graph))
}

func toGraphResponse(graph *resolver.NodeGraph) NodeGraphResponse {
	out := NodeGraphResponse{NodeResponse: toNodeResponse(graph.Node)}
	if graph.Parent != nil {
		parent := toNodeResponse(graph.Parent)
		out.Parent = &parent
	}
	if graph.Container != nil {
		container := toNodeResponse(graph.Container)
		out.Container = &container
	}
	for _, child := range graph.Children {
		out.Children = append(out.Children, toGraphResponse(child))
	}
	return out
}
