// Package tree implements the node store: CRUD over the content tree with
// invariant enforcement, cascade delete, and the tag-set query. The service
// exclusively owns node lifetime; no other component constructs, mutates,
// or deletes nodes directly.
package tree

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arbor-backend/internal/domain"
	"arbor-backend/internal/repository"
	appErrors "arbor-backend/pkg/errors"
)

// DefaultMaxDepth bounds ancestor walks. Acyclicity is an invariant, so the
// guard only matters if the store is corrupted underneath us.
const DefaultMaxDepth = 64

// Service is the node store.
type Service struct {
	repo     repository.NodeRepository
	logger   *zap.Logger
	maxDepth int
}

// NewService creates a node store backed by the given repository.
func NewService(repo repository.NodeRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		logger:   logger,
		maxDepth: DefaultMaxDepth,
	}
}

// SetMaxDepth overrides the ancestor-walk depth guard.
func (s *Service) SetMaxDepth(depth int) {
	if depth > 0 {
		s.maxDepth = depth
	}
}

// CreateNodeInput carries the parameters for CreateNode.
type CreateNodeInput struct {
	Type     domain.NodeType
	Name     string
	ParentID string
	Content  map[string]any
	Position *int
	Tags     []string
	Metadata map[string]any
	Actor    domain.Actor
}

// UpdateNodeInput is a patch; nil fields are left unchanged.
type UpdateNodeInput struct {
	Name     *string
	Type     *domain.NodeType
	ParentID *string
	Content  *map[string]any
	Position *int
	Tags     *[]string
	Metadata *map[string]any
	Actor    domain.Actor
}

// CreateNode validates the type/parent invariant, assigns id, timestamps,
// and a default position at the end of the sibling list, and persists the
// node.
func (s *Service) CreateNode(ctx context.Context, input CreateNodeInput) (*domain.Node, error) {
	var node *domain.Node
	var err error
	switch input.Type {
	case domain.TypeContainer:
		node, err = domain.NewContainer(input.Name, input.Actor)
	case domain.TypeFolder:
		node, err = domain.NewFolder(input.Name, input.ParentID, input.Actor)
	case domain.TypeItem:
		node, err = domain.NewItem(input.Name, input.ParentID, input.Content, input.Actor)
	default:
		err = appErrors.NewValidation("unknown node type: " + string(input.Type))
	}
	if err != nil {
		return nil, err
	}

	if input.ParentID != "" {
		if err := s.checkParent(ctx, input.ParentID); err != nil {
			return nil, err
		}
	}

	node.Tags = domain.NormalizeTags(input.Tags)
	if input.Metadata != nil {
		node.Metadata = input.Metadata
	}

	if input.Position != nil {
		node.Position = *input.Position
	} else {
		position, err := s.nextPosition(ctx, input.ParentID)
		if err != nil {
			return nil, err
		}
		node.Position = position
	}

	if err := s.repo.CreateNode(ctx, node); err != nil {
		return nil, err
	}

	s.logger.Info("Node created",
		zap.String("nodeId", node.ID),
		zap.String("type", string(node.Type)),
		zap.String("actor", node.CreatedBy),
	)
	return node, nil
}

// GetNode resolves unknown or malformed IDs to nil, never an error.
func (s *Service) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	if uuid.Validate(id) != nil {
		return nil, nil
	}
	return s.repo.FindNodeByID(ctx, id)
}

// UpdateNode applies a patch. A parent reassignment re-validates the
// type/parent invariant and walks the proposed ancestor chain to reject
// cycles before anything is written.
func (s *Service) UpdateNode(ctx context.Context, id string, patch UpdateNodeInput) (*domain.Node, error) {
	if err := patch.Actor.Validate(); err != nil {
		return nil, err
	}

	node, err := s.repo.FindNodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, appErrors.NewNotFound(fmt.Sprintf("node '%s' not found", id))
	}

	newType := node.Type
	if patch.Type != nil {
		newType = *patch.Type
	}
	newParentID := node.ParentID
	if patch.ParentID != nil {
		newParentID = *patch.ParentID
	}

	if newType != node.Type || newParentID != node.ParentID {
		if err := domain.ValidateTypeParent(newType, newParentID); err != nil {
			return nil, err
		}
	}
	if newType == domain.TypeItem && node.Type != domain.TypeItem {
		children, err := s.repo.FindChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(children) > 0 {
			return nil, appErrors.NewValidation("item nodes are leaves and cannot have children")
		}
	}
	if newParentID != node.ParentID && newParentID != "" {
		if err := s.checkParent(ctx, newParentID); err != nil {
			return nil, err
		}
		if err := s.checkAcyclic(ctx, id, newParentID); err != nil {
			return nil, err
		}
	}

	node.Type = newType
	node.ParentID = newParentID
	if patch.Name != nil {
		if err := node.Rename(*patch.Name); err != nil {
			return nil, err
		}
	}
	if patch.Content != nil {
		node.Content = *patch.Content
	}
	if patch.Position != nil {
		node.Position = *patch.Position
	}
	if patch.Tags != nil {
		node.Tags = domain.NormalizeTags(*patch.Tags)
	}
	if patch.Metadata != nil {
		node.Metadata = *patch.Metadata
	}
	node.Touch(patch.Actor)

	if err := s.repo.UpdateNode(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// DeleteNode removes the node and every descendant atomically and returns
// the number of nodes removed. Descendants are collected with an iterative
// breadth-first traversal; the per-level children lookup is batched.
func (s *Service) DeleteNode(ctx context.Context, id string) (int, error) {
	node, err := s.repo.FindNodeByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if node == nil {
		return 0, appErrors.NewNotFound(fmt.Sprintf("node '%s' not found", id))
	}

	// Explicit queue instead of recursion so deep trees cannot blow the
	// stack.
	subtree := []string{id}
	frontier := []string{id}
	for len(frontier) > 0 {
		childrenByParent, err := s.repo.FindChildrenByParentIDs(ctx, frontier)
		if err != nil {
			return 0, err
		}
		frontier = frontier[:0]
		for _, children := range childrenByParent {
			for _, child := range children {
				subtree = append(subtree, child.ID)
				frontier = append(frontier, child.ID)
			}
		}
	}

	if err := s.repo.DeleteNodes(ctx, subtree); err != nil {
		return 0, err
	}

	s.logger.Info("Subtree deleted",
		zap.String("nodeId", id),
		zap.Int("removed", len(subtree)),
	)
	return len(subtree), nil
}

// ListChildren returns the ordered direct children of a parent.
func (s *Service) ListChildren(ctx context.Context, parentID string) ([]*domain.Node, error) {
	return s.repo.FindChildren(ctx, parentID)
}

// ListRoots returns all container-type nodes.
func (s *Service) ListRoots(ctx context.Context) ([]*domain.Node, error) {
	return s.repo.FindRoots(ctx)
}

// NodesByTags runs the tag-set query. The operator defaults to OR; an empty
// tag set returns no results rather than matching everything.
func (s *Service) NodesByTags(ctx context.Context, tags []string, op repository.TagOperator) ([]*domain.Node, error) {
	if op == "" {
		op = repository.TagOperatorOr
	}
	if !op.Valid() {
		return nil, appErrors.NewValidation("tag operator must be AND or OR")
	}
	tags = domain.NormalizeTags(tags)
	if len(tags) == 0 {
		return []*domain.Node{}, nil
	}
	return s.repo.FindNodesByTags(ctx, tags, op)
}

// checkParent verifies the parent exists and can hold children.
func (s *Service) checkParent(ctx context.Context, parentID string) error {
	parent, err := s.repo.FindNodeByID(ctx, parentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return appErrors.NewValidation(fmt.Sprintf("parent '%s' does not exist", parentID))
	}
	if parent.Type == domain.TypeItem {
		return appErrors.NewValidation("item nodes are leaves and cannot have children")
	}
	return nil
}

// checkAcyclic walks the proposed ancestor chain from the new parent; if it
// reaches the node being moved, the reassignment would create a cycle.
func (s *Service) checkAcyclic(ctx context.Context, nodeID, newParentID string) error {
	current := newParentID
	for depth := 0; current != ""; depth++ {
		if depth >= s.maxDepth {
			return appErrors.NewInternal(
				fmt.Sprintf("ancestor chain exceeds max depth %d", s.maxDepth), nil)
		}
		if current == nodeID {
			return appErrors.NewCycle(
				fmt.Sprintf("moving node '%s' under '%s' would create a cycle", nodeID, newParentID))
		}
		ancestor, err := s.repo.FindNodeByID(ctx, current)
		if err != nil {
			return err
		}
		if ancestor == nil {
			return nil // chain ends at a dangling reference; nothing to cycle into
		}
		current = ancestor.ParentID
	}
	return nil
}

// nextPosition places a new node at the end of its sibling list.
func (s *Service) nextPosition(ctx context.Context, parentID string) (int, error) {
	siblings, err := s.repo.FindChildren(ctx, parentID)
	if err != nil {
		return 0, err
	}
	if len(siblings) == 0 {
		return 0, nil
	}
	return siblings[len(siblings)-1].Position + 1, nil
}
