package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
	"github.com/bit-hyperfs/hyperfs/internal/fileservice"
)

// recordUpload updates the upload/dedup counters for a completed
// UploadCommit, per the ambient metrics stack.
func (a *API) recordUpload(result fileservice.UploadResult) {
	if a.metrics == nil {
		return
	}
	switch {
	case result.Duplicate:
		a.metrics.UploadsTotal.WithLabelValues("duplicate").Inc()
	case result.Overwrite:
		a.metrics.UploadsTotal.WithLabelValues("overwrite").Inc()
	default:
		a.metrics.UploadsTotal.WithLabelValues("new").Inc()
	}
	if result.Duplicate || result.Refcount > 1 {
		a.metrics.DedupHitsTotal.Inc()
	}
}

// statusFor maps an apperr.Kind to the external HTTP status per spec
// §7's error taxonomy table.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.BadRequest, apperr.IsDirectory, apperr.BadTarget:
		return http.StatusBadRequest
	case apperr.NotFound, apperr.PathNotFound:
		return http.StatusNotFound
	case apperr.NameConflict, apperr.CycleForbidden:
		return http.StatusConflict
	case apperr.RangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case apperr.DigestCollision, apperr.InvariantViolation, apperr.MissingBlob, apperr.Transport:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the "Error: <message>" text line prescribed by
// spec §7, logging server-side (5xx) failures.
func (a *API) writeError(w http.ResponseWriter, err error) {
	kind := apperr.Of(err)
	status := statusFor(kind)
	if status >= 500 {
		a.logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("Error: " + err.Error()))
}

// writeDAVStatus maps an error to a bare WebDAV status code with an
// empty body, per spec §7 "WebDAV uses the corresponding status codes
// with empty bodies (except PROPFIND)".
func (a *API) writeDAVStatus(w http.ResponseWriter, err error) {
	kind := apperr.Of(err)
	status := statusFor(kind)
	if status >= 500 {
		a.logger.Error("webdav request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	w.WriteHeader(status)
}
