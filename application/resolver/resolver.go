// Package resolver composes the node store and the batch resolution layer
// into a request-scoped read API for graph-shaped queries, plus mutation
// passthrough to the store.
package resolver

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arbor-backend/application/loaders"
	"arbor-backend/internal/domain"
	"arbor-backend/internal/repository"
	"arbor-backend/internal/service/tree"
	appErrors "arbor-backend/pkg/errors"
)

// MaxGraphDepth caps how many relation levels one graph query may expand.
const MaxGraphDepth = 10

// Resolver answers one request's graph queries. Construct a new one per
// request with that request's batching context.
type Resolver struct {
	store   *tree.Service
	loaders *loaders.Loaders
	logger  *zap.Logger
}

// New creates a resolver bound to a request-scoped batching context.
func New(store *tree.Service, l *loaders.Loaders, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:   store,
		loaders: l,
		logger:  logger,
	}
}

// NodeGraph is a resolved node with its relations expanded. Children are
// present down to the requested depth.
type NodeGraph struct {
	Node      *domain.Node
	Parent    *domain.Node
	Container *domain.Node
	Children  []*NodeGraph
}

// Node resolves a point lookup. Unknown or malformed IDs resolve to nil,
// never an error, so a composite response can degrade around one bad
// reference.
func (r *Resolver) Node(ctx context.Context, id string) (*domain.Node, error) {
	if uuid.Validate(id) != nil {
		return nil, nil
	}
	return r.loaders.Node.Load(ctx, id)
}

// Parent resolves the node's parent; nil for containers.
func (r *Resolver) Parent(ctx context.Context, node *domain.Node) (*domain.Node, error) {
	return r.loaders.Parent.Load(ctx, node.ID)
}

// Children resolves the node's ordered children.
func (r *Resolver) Children(ctx context.Context, node *domain.Node) ([]*domain.Node, error) {
	return r.loaders.Children.Load(ctx, node.ID)
}

// OwningContainer resolves the container at the top of the node's ancestor
// chain. A container owns itself.
func (r *Resolver) OwningContainer(ctx context.Context, node *domain.Node) (*domain.Node, error) {
	return r.loaders.OwningContainer(ctx, node.ID)
}

// NodesByTags is a set query, independent of the batching layer.
func (r *Resolver) NodesByTags(ctx context.Context, tags []string, op repository.TagOperator) ([]*domain.Node, error) {
	return r.store.NodesByTags(ctx, tags, op)
}

// ResolveGraph answers the nested graph query: the node, its parent, its
// owning container, and its descendants expanded depth levels down.
// Children are fetched one batched ChildrenOf retrieval per level.
func (r *Resolver) ResolveGraph(ctx context.Context, id string, depth int) (*NodeGraph, error) {
	if depth < 0 {
		return nil, appErrors.NewValidation("depth cannot be negative")
	}
	if depth > MaxGraphDepth {
		depth = MaxGraphDepth
	}

	node, err := r.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}

	root := &NodeGraph{Node: node}
	if root.Parent, err = r.Parent(ctx, node); err != nil {
		return nil, err
	}
	if root.Container, err = r.OwningContainer(ctx, node); err != nil {
		return nil, err
	}

	level := []*NodeGraph{root}
	for d := 0; d < depth && len(level) > 0; d++ {
		if err := r.expandLevel(ctx, level); err != nil {
			return nil, err
		}
		next := make([]*NodeGraph, 0, len(level))
		for _, g := range level {
			next = append(next, g.Children...)
		}
		level = next
	}
	return root, nil
}

// expandLevel fetches children for every node in a level concurrently so
// the lookups coalesce into one batched retrieval.
func (r *Resolver) expandLevel(ctx context.Context, level []*NodeGraph) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, g := range level {
		wg.Add(1)
		go func(g *NodeGraph) {
			defer wg.Done()

			children, err := r.loaders.Children.Load(ctx, g.Node.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			g.Children = make([]*NodeGraph, 0, len(children))
			for _, child := range children {
				g.Children = append(g.Children, &NodeGraph{Node: child})
			}
		}(g)
	}

	wg.Wait()
	return firstErr
}

// Mutations pass through to the node store with its contracts unchanged.
// Requests missing required parameters fail before any store call.

// CreateNode creates a node.
func (r *Resolver) CreateNode(ctx context.Context, input tree.CreateNodeInput) (*domain.Node, error) {
	if input.Name == "" || input.Type == "" {
		return nil, appErrors.NewValidation("name and type are required")
	}
	return r.store.CreateNode(ctx, input)
}

// UpdateNode patches a node.
func (r *Resolver) UpdateNode(ctx context.Context, id string, patch tree.UpdateNodeInput) (*domain.Node, error) {
	if id == "" {
		return nil, appErrors.NewValidation("node id is required")
	}
	return r.store.UpdateNode(ctx, id, patch)
}

// DeleteNode cascade-deletes a subtree and returns the removed count.
func (r *Resolver) DeleteNode(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, appErrors.NewValidation("node id is required")
	}
	return r.store.DeleteNode(ctx, id)
}
