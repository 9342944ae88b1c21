package httpapi

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/catalog"
	"github.com/bit-hyperfs/hyperfs/internal/fileservice"
)

// handleWebDAV dispatches methods under /webdav/<path>, per spec §4.5.
// Depth: infinity is not supported; it is treated as Depth: 1, per
// the specification's resolved open question.
func (a *API) handleWebDAV(w http.ResponseWriter, r *http.Request) {
	relPath := strings.TrimPrefix(r.URL.Path, "/webdav")
	if relPath == "" {
		relPath = "/"
	}

	switch r.Method {
	case "OPTIONS":
		a.webdavOptions(w)
	case "PROPFIND":
		a.webdavPropfind(w, r, relPath)
	case "MKCOL":
		a.webdavMkcol(w, r, relPath)
	case http.MethodPut:
		a.webdavPut(w, r, relPath)
	case http.MethodGet:
		a.webdavGet(w, r, relPath)
	case http.MethodDelete:
		a.webdavDelete(w, r, relPath)
	case "COPY":
		a.webdavCopy(w, r, relPath)
	case "MOVE":
		a.webdavMove(w, r, relPath)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (a *API) webdavOptions(w http.ResponseWriter) {
	w.Header().Set("Allow", "OPTIONS, PROPFIND, MKCOL, GET, PUT, DELETE, COPY, MOVE")
	w.Header().Set("DAV", "1")
	w.WriteHeader(http.StatusOK)
}

func (a *API) webdavPropfind(w http.ResponseWriter, r *http.Request, path string) {
	depth := 1
	if h := r.Header.Get("Depth"); h != "" {
		if parsed, err := strconv.Atoi(h); err == nil {
			depth = parsed
		}
		// "infinity" and anything else fall back to depth 1, per spec §9.
	}

	target, err := a.files.Resolve(r.Context(), path)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}

	ms := newMultiStatus()
	addResponse(ms, target, path)

	if target.Kind == catalog.KindDirectory && depth > 0 {
		children, err := a.files.List(r.Context(), target.ID)
		if err != nil {
			a.writeDAVStatus(w, err)
			return
		}
		base := strings.TrimSuffix(path, "/")
		for _, child := range children {
			addResponse(ms, child, base+"/"+child.Name)
		}
	}

	body, err := xml.Marshal(ms)
	if err != nil {
		a.writeDAVStatus(w, apperr.Wrap(apperr.Transport, err, "marshal propfind response"))
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (a *API) webdavMkcol(w http.ResponseWriter, r *http.Request, path string) {
	parentPath, name := splitPath(path)
	parent, err := a.files.Resolve(r.Context(), parentPath)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	if _, err := a.files.CreateFolder(r.Context(), parent.ID, name); err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *API) webdavDelete(w http.ResponseWriter, r *http.Request, path string) {
	target, err := a.files.Resolve(r.Context(), path)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	if err := a.files.Delete(r.Context(), target.ID); err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) webdavGet(w http.ResponseWriter, r *http.Request, path string) {
	target, err := a.files.Resolve(r.Context(), path)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	if target.Kind == catalog.KindDirectory {
		a.writeDAVStatus(w, apperr.New(apperr.BadRequest, "cannot GET a directory"))
		return
	}
	descriptor, err := a.files.PrepareDownload(r.Context(), target.ID)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	if a.metrics != nil {
		a.metrics.DownloadsTotal.Inc()
	}
	a.sendFile(w, r, descriptor.Path, descriptor.Size, descriptor.Name, false)
}

func (a *API) webdavPut(w http.ResponseWriter, r *http.Request, path string) {
	if strings.HasSuffix(path, "/") {
		a.writeDAVStatus(w, apperr.New(apperr.BadRequest, "cannot PUT to a directory"))
		return
	}
	parentPath, filename := splitPath(path)
	parent, err := a.files.Resolve(r.Context(), parentPath)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	if parent.Kind != catalog.KindDirectory {
		a.writeDAVStatus(w, apperr.New(apperr.BadTarget, "parent is not a collection"))
		return
	}

	session, err := a.files.StartUpload()
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	buf := make([]byte, 256*1024)
	for {
		n, rerr := r.Body.Read(buf)
		if n > 0 {
			if cerr := session.ProcessChunk(buf[:n]); cerr != nil {
				session.Abort()
				a.writeDAVStatus(w, cerr)
				return
			}
		}
		if rerr != nil {
			break
		}
	}
	result, err := session.Finish()
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	commit, err := a.files.UploadCommit(r.Context(), parent.ID, filename, result)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	a.recordUpload(commit)
	w.WriteHeader(http.StatusCreated)
}

func (a *API) webdavCopy(w http.ResponseWriter, r *http.Request, path string) {
	dest, err := destinationPath(r)
	if err != nil {
		a.writeDAVStatus(w, apperr.New(apperr.BadRequest, "missing or invalid Destination header"))
		return
	}

	source, err := a.files.Resolve(r.Context(), path)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	destParentPath, destName := splitPath(dest)
	destParent, err := a.files.Resolve(r.Context(), destParentPath)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	if destParent.Kind != catalog.KindDirectory {
		a.writeDAVStatus(w, apperr.New(apperr.BadTarget, "destination parent is not a collection"))
		return
	}

	strategy := overwriteStrategy(r)
	if _, err := a.files.Copy(r.Context(), source.ID, destParent.ID, destName, strategy); err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	if strategy == fileservice.StrategyOverwrite {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

func (a *API) webdavMove(w http.ResponseWriter, r *http.Request, path string) {
	dest, err := destinationPath(r)
	if err != nil {
		a.writeDAVStatus(w, apperr.New(apperr.BadRequest, "missing or invalid Destination header"))
		return
	}
	if dest == "/" {
		a.writeDAVStatus(w, apperr.New(apperr.BadTarget, "cannot move to root"))
		return
	}

	source, err := a.files.Resolve(r.Context(), path)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	destParentPath, destName := splitPath(dest)
	destParent, err := a.files.Resolve(r.Context(), destParentPath)
	if err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	if destParent.Kind != catalog.KindDirectory {
		a.writeDAVStatus(w, apperr.New(apperr.BadTarget, "destination parent is not a collection"))
		return
	}

	strategy := overwriteStrategy(r)
	if _, err := a.files.Move(r.Context(), source.ID, destParent.ID, destName, strategy); err != nil {
		a.writeDAVStatus(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// overwriteStrategy maps the Overwrite header to a conflict strategy,
// per spec §4.5: "T" -> OVERWRITE, "F" -> FAIL. Absent defaults to T,
// matching the original handler's header default.
func overwriteStrategy(r *http.Request) fileservice.ConflictStrategy {
	value := r.Header.Get("Overwrite")
	if value == "" {
		value = "T"
	}
	if strings.EqualFold(value, "T") {
		return fileservice.StrategyOverwrite
	}
	return fileservice.StrategyFail
}

// destinationPath extracts and URL-decodes the Destination header,
// stripping the /webdav prefix, per spec §4.5.
func destinationPath(r *http.Request) (string, error) {
	raw := r.Header.Get("Destination")
	if raw == "" {
		return "", apperr.New(apperr.BadRequest, "missing Destination header")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	decoded, err := url.PathUnescape(u.Path)
	if err != nil {
		return "", err
	}
	decoded = strings.TrimPrefix(decoded, "/webdav")
	if decoded == "" {
		decoded = "/"
	}
	return decoded, nil
}

// splitPath splits a '/'-separated path into (parentPath, name).
func splitPath(path string) (string, string) {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "/", trimmed
	}
	parent := trimmed[:idx]
	if parent == "" {
		parent = "/"
	}
	return parent, trimmed[idx+1:]
}
