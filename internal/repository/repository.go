// Package repository defines the persistence port for the content tree.
// Engines (DynamoDB, in-memory) implement NodeRepository; everything above
// this interface is engine-agnostic.
package repository

import (
	"context"
	"sort"

	"arbor-backend/internal/domain"
)

// TagOperator selects the set-algebra mode for tag queries.
type TagOperator string

const (
	// TagOperatorOr matches nodes whose tag set intersects the query set.
	TagOperatorOr TagOperator = "OR"
	// TagOperatorAnd matches nodes whose tag set is a superset of the query set.
	TagOperatorAnd TagOperator = "AND"
)

// Valid reports whether the operator is a known mode.
func (op TagOperator) Valid() bool {
	return op == TagOperatorOr || op == TagOperatorAnd
}

// NodeRepository is the contract every persistence engine must satisfy.
//
// Read methods resolve unknown IDs to nil (or a missing map entry), never
// an error. Write methods are transactional: DeleteNodes in particular
// removes either every listed node or none of them.
type NodeRepository interface {
	// CreateNode persists a new node.
	CreateNode(ctx context.Context, node *domain.Node) error

	// FindNodeByID returns the node or nil when absent.
	FindNodeByID(ctx context.Context, id string) (*domain.Node, error)

	// FindNodesByIDs returns the found subset keyed by ID. Absent IDs are
	// simply missing from the map.
	FindNodesByIDs(ctx context.Context, ids []string) (map[string]*domain.Node, error)

	// UpdateNode overwrites the stored node, including its tag index entries.
	UpdateNode(ctx context.Context, node *domain.Node) error

	// DeleteNodes removes all listed nodes atomically.
	DeleteNodes(ctx context.Context, ids []string) error

	// FindChildren returns the direct children of a parent ordered by
	// position ascending, ties broken by creation time ascending.
	FindChildren(ctx context.Context, parentID string) ([]*domain.Node, error)

	// FindChildrenByParentIDs returns ordered child lists keyed by parent ID.
	// Parents without children map to an empty slice.
	FindChildrenByParentIDs(ctx context.Context, parentIDs []string) (map[string][]*domain.Node, error)

	// FindRoots returns all container-type nodes.
	FindRoots(ctx context.Context) ([]*domain.Node, error)

	// FindNodesByTags runs the indexed tag-set query. An empty tag set
	// returns no results regardless of operator.
	FindNodesByTags(ctx context.Context, tags []string, op TagOperator) ([]*domain.Node, error)
}

// SortSiblings orders nodes by position ascending with creation time as the
// stable tie-break. Duplicate positions are legal; the tie-break keeps the
// ordering deterministic.
func SortSiblings(nodes []*domain.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Position != nodes[j].Position {
			return nodes[i].Position < nodes[j].Position
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
}
