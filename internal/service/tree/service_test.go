package tree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arbor-backend/internal/domain"
	"arbor-backend/internal/repository"
	"arbor-backend/internal/repository/memory"
	appErrors "arbor-backend/pkg/errors"
)

var actor = domain.Actor{Kind: domain.ActorUser, ID: "test"}

func newTestService() (*Service, *memory.Repository) {
	repo := memory.NewRepository()
	return NewService(repo, zap.NewNop()), repo
}

func mustCreate(t *testing.T, svc *Service, input CreateNodeInput) *domain.Node {
	t.Helper()
	input.Actor = actor
	node, err := svc.CreateNode(context.Background(), input)
	require.NoError(t, err)
	return node
}

// buildTree creates container -> folder -> (item1, item2) and a sibling
// folder under the container.
func buildTree(t *testing.T, svc *Service) (container, folder, item1, item2, sibling *domain.Node) {
	t.Helper()
	container = mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel"})
	folder = mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Act I", ParentID: container.ID})
	item1 = mustCreate(t, svc, CreateNodeInput{Type: domain.TypeItem, Name: "Scene 1", ParentID: folder.ID})
	item2 = mustCreate(t, svc, CreateNodeInput{Type: domain.TypeItem, Name: "Scene 2", ParentID: folder.ID})
	sibling = mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Act II", ParentID: container.ID})
	return
}

func TestService_CreateNode_Container(t *testing.T) {
	// Arrange
	svc, _ := newTestService()

	// Act
	node := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel"})

	// Assert
	assert.Equal(t, domain.TypeContainer, node.Type)
	assert.Empty(t, node.ParentID)
	assert.Equal(t, 0, node.Position)
}

func TestService_CreateNode_DefaultPositionAppends(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	container := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel"})

	// Act
	first := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Act I", ParentID: container.ID})
	second := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Act II", ParentID: container.ID})
	pos := 10
	explicit := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Appendix", ParentID: container.ID, Position: &pos})
	third := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Act III", ParentID: container.ID})

	// Assert
	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 1, second.Position)
	assert.Equal(t, 10, explicit.Position)
	assert.Equal(t, 11, third.Position)
}

func TestService_CreateNode_ParentMustExist(t *testing.T) {
	// Arrange
	svc, _ := newTestService()

	// Act
	_, err := svc.CreateNode(context.Background(), CreateNodeInput{
		Type: domain.TypeFolder, Name: "Orphan", ParentID: "nope", Actor: actor,
	})

	// Assert
	assert.True(t, appErrors.IsValidation(err))
}

func TestService_CreateNode_ItemCannotBeParent(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	container := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel"})
	item := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeItem, Name: "Scene", ParentID: container.ID})

	// Act
	_, err := svc.CreateNode(context.Background(), CreateNodeInput{
		Type: domain.TypeItem, Name: "Nested", ParentID: item.ID, Actor: actor,
	})

	// Assert
	assert.True(t, appErrors.IsValidation(err))
}

func TestService_CreateNode_NormalizesTags(t *testing.T) {
	// Arrange
	svc, _ := newTestService()

	// Act
	node := mustCreate(t, svc, CreateNodeInput{
		Type: domain.TypeContainer, Name: "Novel",
		Tags: []string{"draft", "", "draft", "fantasy"},
	})

	// Assert
	assert.Equal(t, []string{"draft", "fantasy"}, node.Tags)
}

func TestService_GetNode_MalformedIDIsAbsent(t *testing.T) {
	// Arrange
	svc, _ := newTestService()

	// Act
	node, err := svc.GetNode(context.Background(), "not-a-uuid")

	// Assert
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestService_GetNode_UnknownIDIsAbsent(t *testing.T) {
	// Arrange
	svc, _ := newTestService()

	// Act
	node, err := svc.GetNode(context.Background(), "01234567-89ab-cdef-0123-456789abcdef")

	// Assert
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestService_UpdateNode_Rename(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	container := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel"})
	name := "The Great Novel"

	// Act
	updated, err := svc.UpdateNode(context.Background(), container.ID, UpdateNodeInput{
		Name: &name, Actor: actor,
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "The Great Novel", updated.Name)
	assert.Equal(t, "the-great-novel", updated.Slug)
	assert.True(t, updated.UpdatedAt.After(container.UpdatedAt) || updated.UpdatedAt.Equal(container.UpdatedAt))
}

func TestService_UpdateNode_NotFound(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	name := "x"

	// Act
	_, err := svc.UpdateNode(context.Background(), "missing", UpdateNodeInput{Name: &name, Actor: actor})

	// Assert
	assert.True(t, appErrors.IsNotFound(err))
}

func TestService_UpdateNode_ContainerCannotGainParent(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	c1 := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "A"})
	c2 := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "B"})

	// Act
	_, err := svc.UpdateNode(context.Background(), c1.ID, UpdateNodeInput{
		ParentID: &c2.ID, Actor: actor,
	})

	// Assert
	assert.True(t, appErrors.IsValidation(err))
}

func TestService_UpdateNode_RejectsItemConversionWithChildren(t *testing.T) {
	// Arrange: container -> folder -> item
	svc, _ := newTestService()
	container := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel"})
	folder := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Act I", ParentID: container.ID})
	mustCreate(t, svc, CreateNodeInput{Type: domain.TypeItem, Name: "Chapter 1", ParentID: folder.ID})
	itemType := domain.TypeItem

	// Act: converting a populated folder would leave children under a leaf
	_, err := svc.UpdateNode(context.Background(), folder.ID, UpdateNodeInput{
		Type: &itemType, Actor: actor,
	})

	// Assert
	assert.True(t, appErrors.IsValidation(err))
	unchanged, gerr := svc.GetNode(context.Background(), folder.ID)
	require.NoError(t, gerr)
	assert.Equal(t, domain.TypeFolder, unchanged.Type)
}

func TestService_UpdateNode_ItemConversionOnEmptyFolder(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	container := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel"})
	folder := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Notes", ParentID: container.ID})
	itemType := domain.TypeItem

	// Act
	updated, err := svc.UpdateNode(context.Background(), folder.ID, UpdateNodeInput{
		Type: &itemType, Actor: actor,
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.TypeItem, updated.Type)
}

func TestService_UpdateNode_RejectsCycle(t *testing.T) {
	// Arrange: container -> folder -> subfolder
	svc, repo := newTestService()
	container := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel"})
	folder := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Act I", ParentID: container.ID})
	subfolder := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Part 1", ParentID: folder.ID})
	before := repo.Len()

	// Act: move folder under its own descendant
	_, err := svc.UpdateNode(context.Background(), folder.ID, UpdateNodeInput{
		ParentID: &subfolder.ID, Actor: actor,
	})

	// Assert: rejected and nothing changed
	assert.True(t, appErrors.IsCycle(err))
	assert.Equal(t, before, repo.Len())
	unchanged, err := svc.GetNode(context.Background(), folder.ID)
	require.NoError(t, err)
	assert.Equal(t, container.ID, unchanged.ParentID)
}

func TestService_UpdateNode_RejectsSelfParent(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	container := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel"})
	folder := mustCreate(t, svc, CreateNodeInput{Type: domain.TypeFolder, Name: "Act I", ParentID: container.ID})

	// Act
	_, err := svc.UpdateNode(context.Background(), folder.ID, UpdateNodeInput{
		ParentID: &folder.ID, Actor: actor,
	})

	// Assert
	assert.True(t, appErrors.IsCycle(err))
}

func TestService_UpdateNode_ValidReparent(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	_, _, item1, _, sibling := buildTree(t, svc)

	// Act
	updated, err := svc.UpdateNode(context.Background(), item1.ID, UpdateNodeInput{
		ParentID: &sibling.ID, Actor: actor,
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, sibling.ID, updated.ParentID)

	children, err := svc.ListChildren(context.Background(), sibling.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, item1.ID, children[0].ID)
}

func TestService_DeleteNode_CascadesEntireSubtree(t *testing.T) {
	// Arrange: container with two folders; Act I holds two items
	svc, repo := newTestService()
	container, folder, _, _, sibling := buildTree(t, svc)

	// Act: delete the container
	removed, err := svc.DeleteNode(context.Background(), container.ID)

	// Assert: all five nodes are gone in one shot
	require.NoError(t, err)
	assert.Equal(t, 5, removed)
	assert.Equal(t, 0, repo.Len())

	for _, id := range []string{container.ID, folder.ID, sibling.ID} {
		node, err := svc.GetNode(context.Background(), id)
		require.NoError(t, err)
		assert.Nil(t, node)
	}
}

func TestService_DeleteNode_SubtreeOnly(t *testing.T) {
	// Arrange
	svc, repo := newTestService()
	container, folder, _, _, sibling := buildTree(t, svc)

	// Act: delete the folder holding both items
	removed, err := svc.DeleteNode(context.Background(), folder.ID)

	// Assert: container and sibling survive
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 2, repo.Len())

	remaining, err := svc.ListChildren(context.Background(), container.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, sibling.ID, remaining[0].ID)
}

func TestService_DeleteNode_Leaf(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	_, _, item1, _, _ := buildTree(t, svc)

	// Act
	removed, err := svc.DeleteNode(context.Background(), item1.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestService_DeleteNode_NotFound(t *testing.T) {
	// Arrange
	svc, _ := newTestService()

	// Act
	_, err := svc.DeleteNode(context.Background(), "missing")

	// Assert
	assert.True(t, appErrors.IsNotFound(err))
}

func TestService_NodesByTags(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	taggedCreate := func(name string, tags ...string) *domain.Node {
		return mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: name, Tags: tags})
	}
	both := taggedCreate("Both", "draft", "fantasy")
	draftOnly := taggedCreate("DraftOnly", "draft")
	taggedCreate("Untagged")

	ctx := context.Background()

	// Act
	orMatch, err := svc.NodesByTags(ctx, []string{"draft", "fantasy"}, repository.TagOperatorOr)
	require.NoError(t, err)
	andMatch, err := svc.NodesByTags(ctx, []string{"draft", "fantasy"}, repository.TagOperatorAnd)
	require.NoError(t, err)

	// Assert: AND results are a subset of OR results
	assert.Len(t, orMatch, 2)
	require.Len(t, andMatch, 1)
	assert.Equal(t, both.ID, andMatch[0].ID)
	orIDs := map[string]bool{}
	for _, n := range orMatch {
		orIDs[n.ID] = true
	}
	assert.True(t, orIDs[both.ID])
	assert.True(t, orIDs[draftOnly.ID])
	for _, n := range andMatch {
		assert.True(t, orIDs[n.ID])
	}
}

func TestService_NodesByTags_EmptySetMatchesNothing(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "Novel", Tags: []string{"draft"}})

	// Act
	nodes, err := svc.NodesByTags(context.Background(), nil, repository.TagOperatorOr)

	// Assert
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestService_NodesByTags_DefaultsToOr(t *testing.T) {
	// Arrange
	svc, _ := newTestService()
	mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "A", Tags: []string{"x"}})
	mustCreate(t, svc, CreateNodeInput{Type: domain.TypeContainer, Name: "B", Tags: []string{"y"}})

	// Act
	nodes, err := svc.NodesByTags(context.Background(), []string{"x", "y"}, "")

	// Assert
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestService_NodesByTags_InvalidOperator(t *testing.T) {
	// Arrange
	svc, _ := newTestService()

	// Act
	_, err := svc.NodesByTags(context.Background(), []string{"x"}, repository.TagOperator("xor"))

	// Assert
	assert.True(t, appErrors.IsValidation(err))
}
