package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bit-hyperfs/hyperfs/internal/blobstore"
	"github.com/bit-hyperfs/hyperfs/internal/catalog"
	"github.com/bit-hyperfs/hyperfs/internal/digestio"
	"github.com/bit-hyperfs/hyperfs/internal/fileservice"
)

func newTestAPI(t *testing.T) *API {
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
	return New(files, zap.NewNop(), nil, 1000)
}

func uploadViaREST(t *testing.T, handler http.Handler, parentID int64, name, content string) int64 {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost,
		"/upload?parentId="+itoa(parentID)+"&filename="+name, bytes.NewBufferString(content))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		ID        int64 `json:"id"`
		Duplicate bool  `json:"duplicate"`
		Overwrite bool  `json:"overwrite"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.ID
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestHandleUploadThenHandleListShowsNewFile(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	id := uploadViaREST(t, handler, catalog.RootID, "hello.txt", "hello world")
	require.NotZero(t, id)

	req := httptest.NewRequest(http.MethodGet, "/list?parentId="+itoa(catalog.RootID), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hello.txt")
}

func TestHandleDownloadServesFullContent(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()
	id := uploadViaREST(t, handler, catalog.RootID, "f.txt", "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/download?id="+itoa(id), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0123456789", rec.Body.String())
	require.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "f.txt")
}

// Scenario: a suffix Range request ("bytes=-n") over the REST download
// endpoint returns only the last n bytes with a 206 and a correct
// Content-Range header.
func TestHandleDownloadHonorsSuffixRange(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()
	id := uploadViaREST(t, handler, catalog.RootID, "f.txt", "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/download?id="+itoa(id), nil)
	req.Header.Set("Range", "bytes=-4")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "6789", rec.Body.String())
	require.Equal(t, "bytes 6-9/10", rec.Header().Get("Content-Range"))
}

func TestHandleDownloadRejectsUnsatisfiableRangeWith416(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()
	id := uploadViaREST(t, handler, catalog.RootID, "f.txt", "short")

	req := httptest.NewRequest(http.MethodGet, "/download?id="+itoa(id), nil)
	req.Header.Set("Range", "bytes=100-200")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	require.Equal(t, "bytes */5", rec.Header().Get("Content-Range"))
}

func TestHandleDownloadMissingIDReturns400(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Error:")
}

func TestHandleDownloadUnknownIDReturns404(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download?id=99999", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteRemovesNode(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()
	id := uploadViaREST(t, handler, catalog.RootID, "gone.txt", "bye")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/delete?id="+itoa(id), nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/download?id="+itoa(id), nil))
	require.Equal(t, http.StatusNotFound, rec2.Code)
}

func TestHandleCreateFolderThenMoveFileIntoIt(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/folder?parentId="+itoa(catalog.RootID)+"&name=docs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var folder struct{ ID int64 `json:"id"` }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &folder))

	fileID := uploadViaREST(t, handler, catalog.RootID, "note.txt", "contents")

	body, err := json.Marshal(map[string]interface{}{"id": fileID, "targetParentId": folder.ID})
	require.NoError(t, err)
	moveRec := httptest.NewRecorder()
	handler.ServeHTTP(moveRec, httptest.NewRequest(http.MethodPost, "/move", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, moveRec.Code, moveRec.Body.String())

	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/list?parentId="+itoa(folder.ID), nil))
	require.Contains(t, listRec.Body.String(), "note.txt")
}

func TestHandleRenameRejectsConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()
	uploadViaREST(t, handler, catalog.RootID, "a.txt", "a")
	bID := uploadViaREST(t, handler, catalog.RootID, "b.txt", "b")

	body, err := json.Marshal(map[string]interface{}{"id": bID, "name": "a.txt"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rename", bytes.NewReader(body)))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebDAVOptionsAdvertisesMethods(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/webdav/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Allow"), "PROPFIND")
	require.Equal(t, "1", rec.Header().Get("DAV"))
}

func TestWebDAVPutThenGetRoundTrips(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	putRec := httptest.NewRecorder()
	handler.ServeHTTP(putRec, httptest.NewRequest(http.MethodPut, "/webdav/doc.txt", bytes.NewBufferString("payload")))
	require.Equal(t, http.StatusCreated, putRec.Code)

	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/webdav/doc.txt", nil))
	require.Equal(t, http.StatusOK, getRec.Code)
	require.Equal(t, "payload", getRec.Body.String())
	require.Empty(t, getRec.Header().Get("Content-Disposition"), "webdav GET must not set Content-Disposition")
}

func TestWebDAVMkcolThenPropfindListsChild(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	mkcolRec := httptest.NewRecorder()
	handler.ServeHTTP(mkcolRec, httptest.NewRequest("MKCOL", "/webdav/folder", nil))
	require.Equal(t, http.StatusCreated, mkcolRec.Code)

	putRec := httptest.NewRecorder()
	handler.ServeHTTP(putRec, httptest.NewRequest(http.MethodPut, "/webdav/folder/a.txt", bytes.NewBufferString("x")))
	require.Equal(t, http.StatusCreated, putRec.Code)

	propfindRec := httptest.NewRecorder()
	req := httptest.NewRequest("PROPFIND", "/webdav/folder", nil)
	req.Header.Set("Depth", "1")
	handler.ServeHTTP(propfindRec, req)
	require.Equal(t, http.StatusMultiStatus, propfindRec.Code)
	require.Contains(t, propfindRec.Body.String(), "a.txt")
}

func TestWebDAVMoveWithRenameConflictHeaderOverwriteFalse(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	for _, name := range []string{"src.txt", "dst.txt"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/webdav/"+name, bytes.NewBufferString(name)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest("MOVE", "/webdav/src.txt", nil)
	req.Header.Set("Destination", "/webdav/dst.txt")
	req.Header.Set("Overwrite", "F")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebDAVMoveOverwriteDefaultsToTrue(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	for _, name := range []string{"src2.txt", "dst2.txt"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/webdav/"+name, bytes.NewBufferString(name)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest("MOVE", "/webdav/src2.txt", nil)
	req.Header.Set("Destination", "/webdav/dst2.txt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/webdav/dst2.txt", nil))
	require.Equal(t, "src2.txt", getRec.Body.String())
}

func TestWebDAVMoveToRootIsRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/webdav/loose.txt", bytes.NewBufferString("x")))
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest("MOVE", "/webdav/loose.txt", nil)
	req.Header.Set("Destination", "/webdav/")
	moveRec := httptest.NewRecorder()
	handler.ServeHTTP(moveRec, req)
	require.Equal(t, http.StatusBadRequest, moveRec.Code)
}

func TestHealthzAndMetricsEndpointsAreReachable(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	metricsRec := httptest.NewRecorder()
	handler.ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metricsRec.Code)
}
