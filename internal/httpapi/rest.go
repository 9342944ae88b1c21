package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/catalog"
	"github.com/bit-hyperfs/hyperfs/internal/fileservice"
)

// nodeView is the JSON shape of a catalog node on the wire.
type nodeView struct {
	ID            int64  `json:"id"`
	ParentID      int64  `json:"parentId"`
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Digest        string `json:"digest,omitempty"`
	Size          int64  `json:"size"`
	UploadTimeMS  int64  `json:"uploadTime"`
	DownloadCount int64  `json:"downloadCount"`
}

func toNodeView(n catalog.Node) nodeView {
	return nodeView{
		ID:            n.ID,
		ParentID:      n.ParentID,
		Name:          n.Name,
		Kind:          string(n.Kind),
		Digest:        n.Digest,
		Size:          n.Size,
		UploadTimeMS:  n.UploadTimeMS,
		DownloadCount: n.DownloadCount,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// queryID parses the "id" query parameter, rejecting absent/invalid
// values with BadRequest.
func queryID(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, apperr.New(apperr.BadRequest, "missing "+key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.BadRequest, "invalid "+key)
	}
	return id, nil
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	parentID, err := queryID(r, "parentId")
	if err != nil {
		a.writeError(w, err)
		return
	}
	children, err := a.files.List(r.Context(), parentID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]nodeView, len(children))
	for i, c := range children {
		views[i] = toNodeView(c)
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	parentID, err := queryID(r, "parentId")
	if err != nil {
		a.writeError(w, err)
		return
	}
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		a.writeError(w, apperr.New(apperr.BadRequest, "missing filename"))
		return
	}

	session, err := a.files.StartUpload()
	if err != nil {
		a.writeError(w, err)
		return
	}

	buf := make([]byte, 256*1024)
	for {
		n, rerr := r.Body.Read(buf)
		if n > 0 {
			if cerr := session.ProcessChunk(buf[:n]); cerr != nil {
				session.Abort()
				a.writeError(w, cerr)
				return
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			session.Abort()
			a.writeError(w, apperr.Wrap(apperr.Transport, rerr, "read upload body"))
			return
		}
	}

	result, err := session.Finish()
	if err != nil {
		a.writeError(w, err)
		return
	}

	commit, err := a.files.UploadCommit(r.Context(), parentID, filename, result)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.recordUpload(commit)
	writeJSON(w, http.StatusOK, struct {
		ID        int64 `json:"id"`
		Duplicate bool  `json:"duplicate"`
		Overwrite bool  `json:"overwrite"`
	}{ID: commit.NodeID, Duplicate: commit.Duplicate, Overwrite: commit.Overwrite})
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "id")
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.files.Delete(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	parentID, err := queryID(r, "parentId")
	if err != nil {
		a.writeError(w, err)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		a.writeError(w, apperr.New(apperr.BadRequest, "missing name"))
		return
	}
	id, err := a.files.CreateFolder(r.Context(), parentID, name)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID int64 `json:"id"`
	}{ID: id})
}

type moveOrCopyRequest struct {
	ID             int64  `json:"id"`
	TargetParentID int64  `json:"targetParentId"`
	Strategy       string `json:"strategy,omitempty"`
	Name           string `json:"name,omitempty"`
}

func decodeJSONBody(r *http.Request, v interface{}) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxMetadataBody))
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.BadRequest, err, "decode request body")
	}
	return nil
}

func (a *API) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveOrCopyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	strategy := fileservice.ParseStrategy(req.Strategy)
	id, err := a.files.Move(r.Context(), req.ID, req.TargetParentID, req.Name, strategy)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID int64 `json:"id"`
	}{ID: id})
}

func (a *API) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req moveOrCopyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	strategy := fileservice.ParseStrategy(req.Strategy)
	id, err := a.files.Copy(r.Context(), req.ID, req.TargetParentID, req.Name, strategy)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ID int64 `json:"id"`
	}{ID: id})
}

type renameRequest struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (a *API) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSONBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.files.Rename(r.Context(), req.ID, req.Name); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
