// Package memory provides a mutex-guarded in-memory implementation of the
// repository interface. It backs unit tests and local single-process runs
// without requiring a real database, while honoring the same transactional
// contract as the DynamoDB engine.
package memory

import (
	"context"
	"sync"

	"arbor-backend/internal/domain"
	"arbor-backend/internal/repository"
)

// Repository is the in-memory engine. All operations run under one lock, so
// every write is trivially atomic with respect to concurrent callers.
type Repository struct {
	mu sync.RWMutex

	nodes    map[string]*domain.Node // nodeID -> node
	byParent map[string][]string     // parentID -> child nodeIDs

	// For testing error scenarios
	shouldFailOn map[string]error
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		nodes:        make(map[string]*domain.Node),
		byParent:     make(map[string][]string),
		shouldFailOn: make(map[string]error),
	}
}

// SetError configures the repository to return an error for a specific
// method. Useful for testing error handling in services.
func (r *Repository) SetError(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shouldFailOn[method] = err
}

// ClearErrors removes all configured errors.
func (r *Repository) ClearErrors() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shouldFailOn = make(map[string]error)
}

func (r *Repository) failure(method string) error {
	return r.shouldFailOn[method]
}

// CreateNode stores a copy of the node.
func (r *Repository) CreateNode(ctx context.Context, node *domain.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("CreateNode"); err != nil {
		return err
	}

	stored := cloneNode(node)
	r.nodes[stored.ID] = stored
	r.byParent[stored.ParentID] = append(r.byParent[stored.ParentID], stored.ID)
	return nil
}

// FindNodeByID returns a copy of the node, or nil when absent.
func (r *Repository) FindNodeByID(ctx context.Context, id string) (*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure("FindNodeByID"); err != nil {
		return nil, err
	}

	node, ok := r.nodes[id]
	if !ok {
		return nil, nil
	}
	return cloneNode(node), nil
}

// FindNodesByIDs returns the found subset keyed by ID.
func (r *Repository) FindNodesByIDs(ctx context.Context, ids []string) (map[string]*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure("FindNodesByIDs"); err != nil {
		return nil, err
	}

	result := make(map[string]*domain.Node, len(ids))
	for _, id := range ids {
		if node, ok := r.nodes[id]; ok {
			result[id] = cloneNode(node)
		}
	}
	return result, nil
}

// UpdateNode overwrites the stored node, reindexing if the parent changed.
func (r *Repository) UpdateNode(ctx context.Context, node *domain.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("UpdateNode"); err != nil {
		return err
	}

	previous, ok := r.nodes[node.ID]
	if !ok {
		return nil
	}
	if previous.ParentID != node.ParentID {
		r.byParent[previous.ParentID] = removeID(r.byParent[previous.ParentID], node.ID)
		r.byParent[node.ParentID] = append(r.byParent[node.ParentID], node.ID)
	}
	r.nodes[node.ID] = cloneNode(node)
	return nil
}

// DeleteNodes removes all listed nodes under one lock, so no partial
// subtree removal is observable.
func (r *Repository) DeleteNodes(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("DeleteNodes"); err != nil {
		return err
	}

	for _, id := range ids {
		node, ok := r.nodes[id]
		if !ok {
			continue
		}
		r.byParent[node.ParentID] = removeID(r.byParent[node.ParentID], id)
		delete(r.byParent, id)
		delete(r.nodes, id)
	}
	return nil
}

// FindChildren returns the ordered direct children of a parent.
func (r *Repository) FindChildren(ctx context.Context, parentID string) ([]*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure("FindChildren"); err != nil {
		return nil, err
	}
	return r.childrenLocked(parentID), nil
}

// FindChildrenByParentIDs returns ordered child lists keyed by parent ID.
func (r *Repository) FindChildrenByParentIDs(ctx context.Context, parentIDs []string) (map[string][]*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure("FindChildrenByParentIDs"); err != nil {
		return nil, err
	}

	result := make(map[string][]*domain.Node, len(parentIDs))
	for _, parentID := range parentIDs {
		result[parentID] = r.childrenLocked(parentID)
	}
	return result, nil
}

// FindRoots returns all container-type nodes.
func (r *Repository) FindRoots(ctx context.Context) ([]*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure("FindRoots"); err != nil {
		return nil, err
	}
	return r.childrenLocked(""), nil
}

// FindNodesByTags runs the tag-set query against the in-memory index.
func (r *Repository) FindNodesByTags(ctx context.Context, tags []string, op repository.TagOperator) ([]*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure("FindNodesByTags"); err != nil {
		return nil, err
	}

	if len(tags) == 0 {
		return []*domain.Node{}, nil
	}

	matched := []*domain.Node{}
	for _, node := range r.nodes {
		var match bool
		if op == repository.TagOperatorAnd {
			match = node.HasAllTags(tags)
		} else {
			match = node.HasAnyTag(tags)
		}
		if match {
			matched = append(matched, cloneNode(node))
		}
	}
	repository.SortSiblings(matched)
	return matched, nil
}

// Len reports the number of stored nodes.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

func (r *Repository) childrenLocked(parentID string) []*domain.Node {
	ids := r.byParent[parentID]
	children := make([]*domain.Node, 0, len(ids))
	for _, id := range ids {
		if node, ok := r.nodes[id]; ok {
			children = append(children, cloneNode(node))
		}
	}
	repository.SortSiblings(children)
	return children
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// cloneNode copies a node so callers never share mutable state with the
// stored instance.
func cloneNode(node *domain.Node) *domain.Node {
	clone := *node
	clone.Tags = append([]string(nil), node.Tags...)
	if node.Content != nil {
		clone.Content = make(map[string]any, len(node.Content))
		for k, v := range node.Content {
			clone.Content[k] = v
		}
	}
	if node.Metadata != nil {
		clone.Metadata = make(map[string]any, len(node.Metadata))
		for k, v := range node.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
