// Package httpapi is the HTTP/WebDAV adapter (component C6): it
// routes method+path to the file service orchestrator, translates
// query/JSON/header parameters into orchestrator calls, and renders
// results back as JSON, raw bytes, or WebDAV XML.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bit-hyperfs/hyperfs/internal/fileservice"
	"github.com/bit-hyperfs/hyperfs/internal/metrics"
	"github.com/bit-hyperfs/hyperfs/internal/ratelimit"
)

func init() {
	for _, m := range []string{"PROPFIND", "MKCOL", "COPY", "MOVE"} {
		chi.RegisterMethod(m)
	}
}

// MaxMetadataBody bounds request body aggregation for non-streaming
// (JSON/form) endpoints, per spec §5's resource budget. Streamed
// upload bodies are exempt.
const MaxMetadataBody = 6 * 1024 * 1024

// API holds the dependencies every handler needs.
type API struct {
	files   *fileservice.Service
	logger  *zap.Logger
	metrics *metrics.Registry
	limiter *ratelimit.Limiter
}

func New(files *fileservice.Service, logger *zap.Logger, reg *metrics.Registry, uploadRatePerSecond int) *API {
	return &API{files: files, logger: logger, metrics: reg, limiter: ratelimit.NewLimiter(uploadRatePerSecond)}
}

// Routes builds the chi router exposing the REST control endpoints
// (spec §4.5's routing table) and the WebDAV surface under /webdav.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/list", a.handleList)
	r.Get("/download", a.handleDownload)
	r.Head("/download", a.handleDownload)
	r.Post("/delete", a.handleDelete)
	r.Post("/folder", a.handleCreateFolder)
	r.Post("/move", a.handleMove)
	r.Post("/rename", a.handleRename)
	r.Post("/copy", a.handleCopy)

	throttled := a.limiter.Middleware(func(r *http.Request) string { return r.RemoteAddr })
	r.With(throttled).Post("/upload", a.handleUpload)

	r.With(throttled).Handle("/webdav", http.HandlerFunc(a.handleWebDAV))
	r.With(throttled).Handle("/webdav/*", http.HandlerFunc(a.handleWebDAV))

	return r
}
