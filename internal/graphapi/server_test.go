package graphapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bit-hyperfs/hyperfs/internal/blobstore"
	"github.com/bit-hyperfs/hyperfs/internal/catalog"
	"github.com/bit-hyperfs/hyperfs/internal/digestio"
	"github.com/bit-hyperfs/hyperfs/internal/fileservice"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	dir := t.TempDir()
	store, err := catalog.Open(filepath.Join(dir, "catalog.db"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	blobs := blobstore.New(filepath.Join(dir, "blobs"))
	require.NoError(t, blobs.EnsureDirs())
	tmp := digestio.NewTempArena(filepath.Join(dir, "tmp"))
	files := fileservice.New(store, blobs, tmp, zap.NewNop())
	return Deps{Files: files, Store: store}
}

func runQuery(t *testing.T, h http.Handler, query string) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]string{"query": query})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Nil(t, out["errors"], rec.Body.String())
	return out
}

func TestNodeQueryReturnsRootFolder(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	out := runQuery(t, h, `{ node(id: 0) { id name kind } }`)
	data := out["data"].(map[string]any)
	node := data["node"].(map[string]any)
	require.EqualValues(t, 0, node["id"])
	require.Equal(t, "directory", node["kind"])
}

func TestChildrenQueryListsUploadedFile(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	session, err := deps.Files.StartUpload()
	require.NoError(t, err)
	require.NoError(t, session.ProcessChunk([]byte("payload")))
	result, err := session.Finish()
	require.NoError(t, err)
	_, err = deps.Files.UploadCommit(context.Background(), catalog.RootID, "doc.txt", result)
	require.NoError(t, err)

	out := runQuery(t, h, `{ children(parentId: 0) { name size } }`)
	data := out["data"].(map[string]any)
	children := data["children"].([]any)
	require.Len(t, children, 1)
	require.Equal(t, "doc.txt", children[0].(map[string]any)["name"])
}

func TestStorageStatsComputesSavedBytesFromDedup(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt"} {
		session, err := deps.Files.StartUpload()
		require.NoError(t, err)
		require.NoError(t, session.ProcessChunk([]byte("same content")))
		result, err := session.Finish()
		require.NoError(t, err)
		_, err = deps.Files.UploadCommit(ctx, catalog.RootID, name, result)
		require.NoError(t, err)
	}

	out := runQuery(t, h, `{ storageStats { blobCount totalBytes totalRefs savedBytes } }`)
	data := out["data"].(map[string]any)
	stats := data["storageStats"].(map[string]any)
	require.EqualValues(t, 1, stats["blobCount"])
	require.EqualValues(t, 2, stats["totalRefs"])
	require.EqualValues(t, len("same content"), stats["savedBytes"])
}
