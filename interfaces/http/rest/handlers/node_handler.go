package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"arbor-backend/application/loaders"
	"arbor-backend/application/resolver"
	"arbor-backend/internal/domain"
	"arbor-backend/internal/service/tree"
	appErrors "arbor-backend/pkg/errors"
	"arbor-backend/pkg/observability"
)

// NodeHandler handles node CRUD and relation lookups.
type NodeHandler struct {
	store   *tree.Service
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(store *tree.Service, metrics *observability.Collector, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// CreateNodeRequest represents the request body for creating a node
type CreateNodeRequest struct {
	Type     string         `json:"type" validate:"required,oneof=container folder item"`
	Name     string         `json:"name" validate:"required,min=1,max=200"`
	ParentID string         `json:"parentId,omitempty"`
	Content  map[string]any `json:"content,omitempty"`
	Position *int           `json:"position,omitempty"`
	Tags     []string       `json:"tags,omitempty" validate:"omitempty,max=50,dive,min=1,max=64"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Actor    string         `json:"actor" validate:"required"`
}

// UpdateNodeRequest represents the request body for updating a node.
// Absent fields are left unchanged.
type UpdateNodeRequest struct {
	Name     *string         `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Type     *string         `json:"type,omitempty" validate:"omitempty,oneof=container folder item"`
	ParentID *string         `json:"parentId,omitempty"`
	Content  *map[string]any `json:"content,omitempty"`
	Position *int            `json:"position,omitempty"`
	Tags     *[]string       `json:"tags,omitempty" validate:"omitempty,max=50,dive,min=1,max=64"`
	Metadata *map[string]any `json:"metadata,omitempty"`
	Actor    string          `json:"actor" validate:"required"`
}

// DeleteNodeResponse reports how many nodes a cascade delete removed.
type DeleteNodeResponse struct {
	Deleted int `json:"deleted"`
}

// resolverFrom builds a request-scoped resolver from the batching context
// installed by the loaders middleware.
func (h *NodeHandler) resolverFrom(r *http.Request) (*resolver.Resolver, bool) {
	l, ok := loaders.FromContext(r.Context())
	if !ok {
		return nil, false
	}
	return resolver.New(h.store, l, h.logger), true
}

// CreateNode handles POST /nodes
func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondAppError(w, err)
		return
	}

	actor, err := domain.ParseActor(req.Actor)
	if err != nil {
		respondAppError(w, err)
		return
	}

	node, err := h.store.CreateNode(r.Context(), tree.CreateNodeInput{
		Type:     domain.NodeType(req.Type),
		Name:     req.Name,
		ParentID: req.ParentID,
		Content:  req.Content,
		Position: req.Position,
		Tags:     req.Tags,
		Metadata: req.Metadata,
		Actor:    actor,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}

	h.metrics.NodesCreated.Inc()
	respondJSON(w, http.StatusCreated, toNodeResponse(node))
}

// GetNode handles GET /nodes/{nodeID}
func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	node, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if node == nil {
		respondAppError(w, appErrors.NewNotFound("node '"+nodeID+"' not found"))
		return
	}
	respondJSON(w, http.StatusOK, toNodeResponse(node))
}

// UpdateNode handles PUT /nodes/{nodeID}
func (h *NodeHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	var req UpdateNodeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondAppError(w, err)
		return
	}

	actor, err := domain.ParseActor(req.Actor)
	if err != nil {
		respondAppError(w, err)
		return
	}

	patch := tree.UpdateNodeInput{
		Name:     req.Name,
		ParentID: req.ParentID,
		Content:  req.Content,
		Position: req.Position,
		Tags:     req.Tags,
		Metadata: req.Metadata,
		Actor:    actor,
	}
	if req.Type != nil {
		nodeType := domain.NodeType(*req.Type)
		patch.Type = &nodeType
	}

	node, err := h.store.UpdateNode(r.Context(), nodeID, patch)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toNodeResponse(node))
}

// DeleteNode handles DELETE /nodes/{nodeID}
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	deleted, err := h.store.DeleteNode(r.Context(), nodeID)
	if err != nil {
		respondAppError(w, err)
		return
	}

	h.metrics.NodesDeleted.Add(float64(deleted))
	respondJSON(w, http.StatusOK, DeleteNodeResponse{Deleted: deleted})
}

// ListRoots handles GET /nodes
func (h *NodeHandler) ListRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := h.store.ListRoots(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toNodeResponses(roots))
}

// ListChildren handles GET /nodes/{nodeID}/children
func (h *NodeHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	res, ok := h.resolverFrom(r)
	if !ok {
		respondMessage(w, http.StatusInternalServerError, "no batching context")
		return
	}

	node, err := res.Node(r.Context(), nodeID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if node == nil {
		respondAppError(w, appErrors.NewNotFound("node '"+nodeID+"' not found"))
		return
	}

	children, err := res.Children(r.Context(), node)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toNodeResponses(children))
}

// GetParent handles GET /nodes/{nodeID}/parent
func (h *NodeHandler) GetParent(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	res, ok := h.resolverFrom(r)
	if !ok {
		respondMessage(w, http.StatusInternalServerError, "no batching context")
		return
	}

	node, err := res.Node(r.Context(), nodeID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if node == nil {
		respondAppError(w, appErrors.NewNotFound("node '"+nodeID+"' not found"))
		return
	}

	parent, err := res.Parent(r.Context(), node)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if parent == nil {
		// Containers have no parent; the relation is absent, not an error.
		respondJSON(w, http.StatusOK, nil)
		return
	}
	respondJSON(w, http.StatusOK, toNodeResponse(parent))
}

// GetContainer handles GET /nodes/{nodeID}/container
func (h *NodeHandler) GetContainer(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	res, ok := h.resolverFrom(r)
	if !ok {
		respondMessage(w, http.StatusInternalServerError, "no batching context")
		return
	}

	node, err := res.Node(r.Context(), nodeID)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if node == nil {
		respondAppError(w, appErrors.NewNotFound("node '"+nodeID+"' not found"))
		return
	}

	container, err := res.OwningContainer(r.Context(), node)
	if err != nil {
		respondAppError(w, err)
		return
	}
	if container == nil {
		respondJSON(w, http.StatusOK, nil)
		return
	}
	respondJSON(w, http.StatusOK, toNodeResponse(container))
}
