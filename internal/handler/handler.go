// Package handler serves the image pipeline over HTTP.
//
// Routes:
//   - POST /process?format=png|ico|webp|avif|auto processes the request body
//   - GET /process?url=...&format=... processes a remote image or page icon
//   - GET /healthz reports liveness
//   - GET /metrics exposes counters in Prometheus text format
package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	imgpkg "roundicon/internal/image"
	"roundicon/internal/processor"
	"roundicon/internal/source"
	"roundicon/pkg/logger"
	"roundicon/pkg/metrics"
	"roundicon/pkg/ratelimit"
)

const DefaultMaxUploadBytes = 16 << 20

// Config holds what the handlers need. Fetcher may be nil, which disables
// GET /process?url=.
type Config struct {
	Processor      *processor.Processor
	Fetcher        source.Getter
	Limiter        *ratelimit.Limiter
	MaxUploadBytes int64
	BrowserMaxAge  time.Duration
	CDNMaxAge      time.Duration
}

// New returns the server's root handler.
func New(cfg *Config) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/process", ratelimit.Middleware(cfg.Limiter, ProcessHandler(cfg)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Get().Handler())
	return metrics.Middleware(mux)
}

// ProcessHandler runs the pipeline on an uploaded or remote image and
// answers with a single output.
//
// Query parameters:
//   - format: png (default), ico, webp, avif, or auto to negotiate by Accept
//   - url: remote image or page, GET only
func ProcessHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
		switch format {
		case "":
			format = "png"
		case "auto":
			format = pickFormatByAccept(r.Header.Get("Accept"))
			w.Header().Set("Vary", "Accept")
		case "png", "ico", "webp", "avif":
		default:
			http.Error(w, fmt.Sprintf("unsupported format %q", format), http.StatusBadRequest)
			return
		}

		var data []byte
		stem := "image"
		switch r.Method {
		case http.MethodPost:
			var status int
			data, status = readUpload(w, r, cfg.maxUpload())
			if status != 0 {
				return
			}
		case http.MethodGet:
			raw := strings.TrimSpace(r.URL.Query().Get("url"))
			if raw == "" {
				http.Error(w, "missing url parameter", http.StatusBadRequest)
				return
			}
			if cfg.Fetcher == nil {
				http.Error(w, "remote input disabled", http.StatusNotImplemented)
				return
			}
			if !source.IsURL(raw) {
				http.Error(w, "url must be http or https", http.StatusBadRequest)
				return
			}
			img, err := source.Fetch(r.Context(), cfg.Fetcher, raw)
			if err != nil {
				status := http.StatusBadGateway
				if errors.Is(err, imgpkg.ErrUnsupportedFormat) {
					status = http.StatusUnprocessableEntity
				}
				logger.Warn("Remote input %s failed: %v", raw, err)
				http.Error(w, err.Error(), status)
				return
			}
			data, stem = img.Data, img.Stem
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		out, ct, err := cfg.Processor.ProcessBytes(data, format)
		if err != nil {
			status := http.StatusInternalServerError
			switch processor.Stage(err) {
			case processor.StageDecode, processor.StageCrop:
				status = http.StatusUnprocessableEntity
			}
			logger.Warn("Processing failed: %v", err)
			http.Error(w, err.Error(), status)
			return
		}

		name := stem + cfg.Processor.Options().Suffix + imgpkg.ExtensionFor(ct)
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
		serveBytes(w, r, out, ct, cfg)
	}
}

// readUpload returns the request body, or a non-zero status after writing
// the error response.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, int) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("upload exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
			return nil, http.StatusRequestEntityTooLarge
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, http.StatusBadRequest
	}
	if len(body) == 0 {
		http.Error(w, "empty request body", http.StatusBadRequest)
		return nil, http.StatusBadRequest
	}
	return body, 0
}

func (cfg *Config) maxUpload() int64 {
	if cfg.MaxUploadBytes > 0 {
		return cfg.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

func serveBytes(w http.ResponseWriter, r *http.Request, body []byte, contentType string, cfg *Config) {
	etag := makeETag(body)
	w.Header().Set("ETag", etag)
	setCacheHeaders(w, cfg)

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// etagMatches applies the weak comparison of If-None-Match: "*" or any
// listed tag equal to etag once W/ prefixes are ignored.
func etagMatches(header, etag string) bool {
	etag = strings.TrimPrefix(etag, "W/")
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" || (tag != "" && strings.TrimPrefix(tag, "W/") == etag) {
			return true
		}
	}
	return false
}

func pickFormatByAccept(accept string) string {
	accept = strings.ToLower(accept)
	switch {
	case strings.Contains(accept, "image/avif") && imgpkg.Supported("avif"):
		return "avif"
	case strings.Contains(accept, "image/webp") && imgpkg.Supported("webp"):
		return "webp"
	}
	return "png"
}

func makeETag(b []byte) string {
	s := sha256.Sum256(b)
	return "\"" + hex.EncodeToString(s[:16]) + "\""
}

func setCacheHeaders(w http.ResponseWriter, cfg *Config) {
	bsec := int(cfg.BrowserMaxAge.Seconds())
	csec := int(cfg.CDNMaxAge.Seconds())
	if bsec <= 0 {
		bsec = 86400
	}
	if csec <= 0 {
		csec = bsec
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(bsec)+", s-maxage="+strconv.Itoa(csec))
}
