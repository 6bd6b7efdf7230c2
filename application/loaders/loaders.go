// Package loaders is the batch resolution layer. It coalesces relation
// lookups (ParentOf, ChildrenOf, OwningContainerOf) issued while resolving
// one request into batched repository calls and memoizes the results for
// the request's lifetime, eliminating N+1 retrieval patterns.
package loaders

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arbor-backend/internal/domain"
	"arbor-backend/internal/repository"
	appErrors "arbor-backend/pkg/errors"
	"arbor-backend/pkg/observability"
)

// Relation kind labels used for metrics and diagnostics.
const (
	RelationNode     = "node"
	RelationParent   = "parent"
	RelationChildren = "children"
)

// DefaultMaxDepth bounds the owning-container ancestor walk.
const DefaultMaxDepth = 64

// Options tunes the batching behavior. Zero values fall back to the
// batcher defaults.
type Options struct {
	BatchWindow  time.Duration
	MaxBatchSize int
	MaxDepth     int
}

// Loaders is one request's batching context. It must be constructed fresh
// per external request and discarded when the request completes; sharing a
// Loaders value across independent requests would leak memoized results
// between them.
type Loaders struct {
	// Node resolves point lookups by node ID.
	Node *Loader[string, *domain.Node]
	// Parent resolves ParentOf(nodeID); nil for containers and unknown IDs.
	Parent *Loader[string, *domain.Node]
	// Children resolves ChildrenOf(parentID) as an ordered list.
	Children *Loader[string, []*domain.Node]

	maxDepth int
	logger   *zap.Logger
}

// New creates a fresh batching context over the repository.
func New(repo repository.NodeRepository, opts Options, metrics *observability.Collector, logger *zap.Logger) *Loaders {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	l := &Loaders{
		maxDepth: maxDepth,
		logger:   logger,
	}

	observe := func(relation string, size int) {
		if metrics != nil {
			metrics.ObserveLoaderBatch(relation, size)
		}
	}

	nodeBatch := func(ctx context.Context, keys []string) (map[string]*domain.Node, error) {
		observe(RelationNode, len(keys))
		return repo.FindNodesByIDs(ctx, keys)
	}

	parentBatch := func(ctx context.Context, keys []string) (map[string]*domain.Node, error) {
		observe(RelationParent, len(keys))

		nodes, err := repo.FindNodesByIDs(ctx, keys)
		if err != nil {
			return nil, err
		}

		parentIDs := make([]string, 0, len(nodes))
		seen := make(map[string]bool, len(nodes))
		for _, node := range nodes {
			if node.ParentID != "" && !seen[node.ParentID] {
				seen[node.ParentID] = true
				parentIDs = append(parentIDs, node.ParentID)
			}
		}

		parents, err := repo.FindNodesByIDs(ctx, parentIDs)
		if err != nil {
			return nil, err
		}

		result := make(map[string]*domain.Node, len(nodes))
		for id, node := range nodes {
			// Seed the point-lookup cache with nodes fetched here anyway.
			l.Node.Prime(id, node)
			if node.ParentID == "" {
				continue // container: ParentOf is absent
			}
			if parent, ok := parents[node.ParentID]; ok {
				result[id] = parent
				l.Node.Prime(parent.ID, parent)
			}
		}
		return result, nil
	}

	childrenBatch := func(ctx context.Context, keys []string) (map[string][]*domain.Node, error) {
		observe(RelationChildren, len(keys))
		return repo.FindChildrenByParentIDs(ctx, keys)
	}

	l.Node = NewLoader(NewBatcher(nodeBatch, opts.BatchWindow, opts.MaxBatchSize, logger))
	l.Parent = NewLoader(NewBatcher(parentBatch, opts.BatchWindow, opts.MaxBatchSize, logger))
	l.Children = NewLoader(NewBatcher(childrenBatch, opts.BatchWindow, opts.MaxBatchSize, logger))
	return l
}

// OwningContainer walks the parent chain upward until a container node is
// reached, one memoized ParentOf lookup per step. The walk is bounded by
// the configured max depth as defense-in-depth; the tree is acyclic by
// invariant, so the bound should never trigger on healthy data.
func (l *Loaders) OwningContainer(ctx context.Context, nodeID string) (*domain.Node, error) {
	node, err := l.Node.Load(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	for depth := 0; node != nil; depth++ {
		if depth >= l.maxDepth {
			return nil, appErrors.NewInternal(
				fmt.Sprintf("ancestor walk for node '%s' exceeded max depth %d", nodeID, l.maxDepth), nil)
		}
		if node.IsContainer() {
			return node, nil
		}
		node, err = l.Parent.Load(ctx, node.ID)
		if err != nil {
			return nil, err
		}
	}
	return nil, nil // chain broken by a missing node: absent, not an error
}
