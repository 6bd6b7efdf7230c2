package rest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arbor-backend/application/loaders"
	"arbor-backend/infrastructure/config"
	"arbor-backend/infrastructure/secrets"
	"arbor-backend/infrastructure/sessioncache"
	"arbor-backend/internal/repository/memory"
	"arbor-backend/internal/service/tree"
	"arbor-backend/pkg/observability"
)

type apiFixture struct {
	server *httptest.Server
	repo   *memory.Repository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	repo := memory.NewRepository()
	store := tree.NewService(repo, logger)
	metrics := observability.NewCollector("arbor")

	loadersFactory := func() *loaders.Loaders {
		return loaders.New(repo, loaders.Options{
			BatchWindow:  5 * time.Millisecond,
			MaxBatchSize: 100,
		}, metrics, logger)
	}

	sessions, err := sessioncache.New(sessioncache.Config{
		InMemory:   true,
		DefaultTTL: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	masterKey, err := secrets.GenerateKey()
	require.NoError(t, err)
	secretsService, err := secrets.NewService(masterKey)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "test",
	}

	router := NewRouter(cfg, store, loadersFactory, sessions, secretsService, metrics, logger)
	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	return &apiFixture{server: server, repo: repo}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func (f *apiFixture) createNode(t *testing.T, nodeType, name, parentID string, tags ...string) string {
	t.Helper()
	payload := map[string]any{
		"type":  nodeType,
		"name":  name,
		"actor": "user:alice",
	}
	if parentID != "" {
		payload["parentId"] = parentID
	}
	if len(tags) > 0 {
		payload["tags"] = tags
	}
	resp, body := f.do(t, http.MethodPost, "/api/v1/nodes", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", body)
	return body["id"].(string)
}

func TestAPI_HealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, body := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, body["status"])
	}
}

func TestAPI_CreateAndGetNode(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)

	// Act
	id := f.createNode(t, "container", "My Novel", "")
	resp, body := f.do(t, http.MethodGet, "/api/v1/nodes/"+id, nil)

	// Assert
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "My Novel", body["name"])
	assert.Equal(t, "my-novel", body["slug"])
	assert.Equal(t, "container", body["type"])
	assert.Equal(t, "user:alice", body["createdBy"])
}

func TestAPI_CreateNode_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"missing name", map[string]any{"type": "container", "actor": "user:alice"}},
		{"unknown type", map[string]any{"type": "blob", "name": "x", "actor": "user:alice"}},
		{"missing actor", map[string]any{"type": "container", "name": "x"}},
		{"malformed actor", map[string]any{"type": "container", "name": "x", "actor": "alice"}},
		{"folder without parent", map[string]any{"type": "folder", "name": "x", "actor": "user:alice"}},
		{"container with parent", map[string]any{"type": "container", "name": "x", "parentId": "p", "actor": "user:alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/v1/nodes", tt.payload)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %v", body)
		})
	}
}

func TestAPI_GetNode_UnknownIDIs404(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/nodes/01234567-89ab-cdef-0123-456789abcdef", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// malformed ids resolve the same way
	resp, _ = f.do(t, http.MethodGet, "/api/v1/nodes/not-a-uuid", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_UpdateNode_Rename(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)
	id := f.createNode(t, "container", "Old Title", "")

	// Act
	resp, body := f.do(t, http.MethodPut, "/api/v1/nodes/"+id, map[string]any{
		"name":  "New Title",
		"actor": "agent:editor",
	})

	// Assert
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "New Title", body["name"])
	assert.Equal(t, "new-title", body["slug"])
	assert.Equal(t, "agent:editor", body["updatedBy"])
	assert.Equal(t, "user:alice", body["createdBy"])
}

func TestAPI_UpdateNode_CycleIs409(t *testing.T) {
	// Arrange: container -> folder -> subfolder
	f := newAPIFixture(t)
	container := f.createNode(t, "container", "Novel", "")
	folder := f.createNode(t, "folder", "Act I", container)
	subfolder := f.createNode(t, "folder", "Part 1", folder)

	// Act: move folder under its own descendant
	resp, body := f.do(t, http.MethodPut, "/api/v1/nodes/"+folder, map[string]any{
		"parentId": subfolder,
		"actor":    "user:alice",
	})

	// Assert
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "body: %v", body)
}

func TestAPI_DeleteNode_Cascade(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)
	container := f.createNode(t, "container", "Novel", "")
	folder := f.createNode(t, "folder", "Act I", container)
	f.createNode(t, "item", "Scene 1", folder)
	f.createNode(t, "item", "Scene 2", folder)

	// Act
	resp, body := f.do(t, http.MethodDelete, "/api/v1/nodes/"+container, nil)

	// Assert
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["deleted"])
	assert.Equal(t, 0, f.repo.Len())
}

func TestAPI_ListChildrenOrdered(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)
	container := f.createNode(t, "container", "Novel", "")
	first := f.createNode(t, "folder", "Act I", container)
	second := f.createNode(t, "folder", "Act II", container)

	// Act
	resp, err := http.Get(f.server.URL + "/api/v1/nodes/" + container + "/children")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var children []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&children))

	// Assert
	require.Len(t, children, 2)
	assert.Equal(t, first, children[0]["id"])
	assert.Equal(t, second, children[1]["id"])
}

func TestAPI_ParentAndContainer(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)
	container := f.createNode(t, "container", "Novel", "")
	folder := f.createNode(t, "folder", "Act I", container)
	item := f.createNode(t, "item", "Scene 1", folder)

	// Act / Assert: parent of the item is the folder
	resp, body := f.do(t, http.MethodGet, "/api/v1/nodes/"+item+"/parent", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, folder, body["id"])

	// owning container walks to the root
	resp, body = f.do(t, http.MethodGet, "/api/v1/nodes/"+item+"/container", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, container, body["id"])

	// a container owns itself
	resp, body = f.do(t, http.MethodGet, "/api/v1/nodes/"+container+"/container", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, container, body["id"])
}

func TestAPI_Graph(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)
	container := f.createNode(t, "container", "Novel", "")
	folder := f.createNode(t, "folder", "Act I", container)
	f.createNode(t, "item", "Scene 1", folder)

	// Act
	resp, body := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/graph/%s?depth=2", container), nil)

	// Assert
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, container, body["id"])
	children, ok := body["children"].([]any)
	require.True(t, ok)
	require.Len(t, children, 1)
	folderGraph := children[0].(map[string]any)
	assert.Equal(t, folder, folderGraph["id"])
	grandchildren, ok := folderGraph["children"].([]any)
	require.True(t, ok)
	assert.Len(t, grandchildren, 1)
}

func TestAPI_Graph_BadDepth(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createNode(t, "container", "Novel", "")

	resp, _ := f.do(t, http.MethodGet, "/api/v1/graph/"+id+"?depth=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_SearchByTags(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)
	f.createNode(t, "container", "Both", "", "draft", "fantasy")
	f.createNode(t, "container", "DraftOnly", "", "draft")
	f.createNode(t, "container", "Untagged", "")

	// Act / Assert: OR matches any
	resp, body := f.do(t, http.MethodGet, "/api/v1/search?tags=draft,fantasy", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])

	// AND requires all; operator casing is not significant
	for _, op := range []string{"and", "AND", "or", "OR"} {
		resp, body = f.do(t, http.MethodGet, "/api/v1/search?tags=draft,fantasy&operator="+op, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "operator %q", op)
	}
	resp, body = f.do(t, http.MethodGet, "/api/v1/search?tags=draft,fantasy&operator=and", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	// empty tag set matches nothing
	resp, body = f.do(t, http.MethodGet, "/api/v1/search?tags=", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])

	// unknown operator is a client error
	resp, _ = f.do(t, http.MethodGet, "/api/v1/search?tags=draft&operator=xor", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Sessions(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)
	value := map[string]any{"value": map[string]any{"cursor": "chapter-3"}}

	// Act: store, read back, delete
	resp, _ := f.do(t, http.MethodPut, "/api/v1/sessions/workspace", value)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/v1/sessions/workspace", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "workspace", body["key"])

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/sessions/workspace", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Assert: gone after delete
	resp, _ = f.do(t, http.MethodGet, "/api/v1/sessions/workspace", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Secrets_RoundTrip(t *testing.T) {
	// Arrange
	f := newAPIFixture(t)
	plaintext := base64.StdEncoding.EncodeToString([]byte("api-token-123"))

	// Act
	resp, body := f.do(t, http.MethodPost, "/api/v1/secrets/seal", map[string]any{"plaintext": plaintext})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sealed := body["sealed"].(string)
	require.NotEmpty(t, sealed)

	resp, body = f.do(t, http.MethodPost, "/api/v1/secrets/open", map[string]any{"sealed": sealed})

	// Assert
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, plaintext, body["plaintext"])
}

func TestAPI_Secrets_TamperedCiphertext(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/secrets/open", map[string]any{"sealed": "bm90LWEtcmVhbC1jaXBoZXJ0ZXh0"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
