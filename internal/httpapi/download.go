package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bit-hyperfs/hyperfs/internal/apperr"
)

// byteRange is an inclusive [start, end] span into a file of a known
// total length.
type byteRange struct {
	start, end int64
	partial    bool
}

// parseRange implements spec §4.5's three Range forms, falling back
// to a full, non-partial range on any parse failure.
func parseRange(header string, totalLength int64) byteRange {
	full := byteRange{start: 0, end: totalLength - 1, partial: false}
	if !strings.HasPrefix(header, "bytes=") {
		return full
	}
	spec := strings.TrimSpace(header[len("bytes="):])

	if strings.HasPrefix(spec, "-") {
		suffix, err := strconv.ParseInt(spec[1:], 10, 64)
		if err != nil {
			return full
		}
		start := totalLength - suffix
		if start < 0 {
			start = 0
		}
		return byteRange{start: start, end: totalLength - 1, partial: true}
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return full
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return full
	}
	end := totalLength - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return full
		}
	}
	return byteRange{start: start, end: end, partial: true}
}

// satisfiable reports whether the range is servable against
// totalLength, per spec §4.5 "a > b, a >= size, or b >= size" failure
// conditions.
func (rg byteRange) satisfiable(totalLength int64) bool {
	return rg.start >= 0 && rg.start <= rg.end && rg.end < totalLength
}

// encodeFilenameStar renders name for Content-Disposition's
// filename*=UTF-8''<pct-encoded> form, percent-encoding spaces as
// %20 (never '+'), per spec §4.5.
func encodeFilenameStar(name string) string {
	return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "id")
	if err != nil {
		a.writeError(w, err)
		return
	}
	descriptor, err := a.files.PrepareDownload(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if a.metrics != nil {
		a.metrics.DownloadsTotal.Inc()
	}
	a.sendFile(w, r, descriptor.Path, descriptor.Size, descriptor.Name, true)
}

// sendFile streams the file at path, honoring Range per spec §4.5.
// asAttachment controls whether Content-Disposition is set (REST
// downloads set it; WebDAV GET does not).
func (a *API) sendFile(w http.ResponseWriter, r *http.Request, path string, totalLength int64, filename string, asAttachment bool) {
	f, err := os.Open(path)
	if err != nil {
		a.writeError(w, apperr.Wrap(apperr.MissingBlob, err, "open blob file"))
		return
	}
	defer f.Close()

	rg := parseRange(r.Header.Get("Range"), totalLength)
	if rg.partial && !rg.satisfiable(totalLength) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", totalLength))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	contentLength := rg.end - rg.start + 1
	w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")
	if asAttachment {
		w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+encodeFilenameStar(filename))
	}
	if rg.partial {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rg.start, rg.end, totalLength))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if r.Method == http.MethodHead {
		return
	}

	if _, err := f.Seek(rg.start, io.SeekStart); err != nil {
		a.logger.Error("seek blob file", zap.Error(err))
		return
	}
	if _, err := io.CopyN(w, f, contentLength); err != nil && err != io.EOF {
		a.logger.Error("stream blob file", zap.Error(err))
	}
}
