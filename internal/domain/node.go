// Package domain holds the core entities of the content tree.
package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	appErrors "arbor-backend/pkg/errors"
)

// NodeType discriminates the three kinds of tree nodes.
type NodeType string

const (
	// TypeContainer is the tree root type. Containers never have a parent.
	TypeContainer NodeType = "container"
	// TypeFolder is an intermediate grouping type.
	TypeFolder NodeType = "folder"
	// TypeItem is a leaf content type. Items carry the document payload.
	TypeItem NodeType = "item"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case TypeContainer, TypeFolder, TypeItem:
		return true
	}
	return false
}

// Node is a single entity in the content tree.
//
// The tree is represented flat: every node carries the ID of its parent
// rather than object references, so the whole structure is a map from ID
// to node plus a ParentID field. ParentID is empty if and only if the
// node is a container.
type Node struct {
	ID       string
	Type     NodeType
	Name     string
	Slug     string
	ParentID string
	Content  map[string]any
	Position int
	Tags     []string
	Metadata map[string]any

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewContainer creates a top-level container node.
func NewContainer(name string, actor Actor) (*Node, error) {
	return newNode(TypeContainer, name, "", actor)
}

// NewFolder creates a folder under the given parent.
func NewFolder(name, parentID string, actor Actor) (*Node, error) {
	return newNode(TypeFolder, name, parentID, actor)
}

// NewItem creates a leaf content item under the given parent.
func NewItem(name, parentID string, content map[string]any, actor Actor) (*Node, error) {
	node, err := newNode(TypeItem, name, parentID, actor)
	if err != nil {
		return nil, err
	}
	node.Content = content
	return node, nil
}

// newNode is the shared constructor. The type/parent invariant is enforced
// here so no caller can build a node that violates it.
func newNode(nodeType NodeType, name, parentID string, actor Actor) (*Node, error) {
	if err := ValidateTypeParent(nodeType, parentID); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, appErrors.NewValidation("name cannot be empty")
	}
	if err := actor.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Node{
		ID:        uuid.New().String(),
		Type:      nodeType,
		Name:      name,
		Slug:      Slugify(name),
		ParentID:  parentID,
		Tags:      []string{},
		Metadata:  map[string]any{},
		CreatedBy: actor.String(),
		UpdatedBy: actor.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidateTypeParent checks the nullability invariant: a parent reference
// is absent if and only if the node is a container.
func ValidateTypeParent(nodeType NodeType, parentID string) error {
	if !nodeType.Valid() {
		return appErrors.NewValidation("unknown node type: " + string(nodeType))
	}
	if nodeType == TypeContainer && parentID != "" {
		return appErrors.NewValidation("container nodes cannot have a parent")
	}
	if nodeType != TypeContainer && parentID == "" {
		return appErrors.NewValidation(string(nodeType) + " nodes require a parent")
	}
	return nil
}

// IsContainer reports whether the node is a tree root.
func (n *Node) IsContainer() bool {
	return n.Type == TypeContainer
}

// Rename updates the display name and rederives the slug.
func (n *Node) Rename(name string) error {
	if name == "" {
		return appErrors.NewValidation("name cannot be empty")
	}
	n.Name = name
	n.Slug = Slugify(name)
	return nil
}

// Touch records a mutation by the given actor.
func (n *Node) Touch(actor Actor) {
	n.UpdatedBy = actor.String()
	n.UpdatedAt = time.Now().UTC()
}

// HasTag reports whether the node carries the given tag.
func (n *Node) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAnyTag reports whether the node's tag set intersects the query set.
func (n *Node) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if n.HasTag(t) {
			return true
		}
	}
	return false
}

// HasAllTags reports whether the node's tag set is a superset of the query set.
func (n *Node) HasAllTags(tags []string) bool {
	for _, t := range tags {
		if !n.HasTag(t) {
			return false
		}
	}
	return true
}

// NormalizeTags removes duplicates and empty entries, preserving first
// occurrence order. Tag membership is a set; order is immaterial to queries.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Slugify derives a URL-safe slug from a display name. Slugs are not
// required to be unique.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true // suppress leading dashes
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
