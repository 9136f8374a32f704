package middleware

import (
	"compress/gzip"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for the gzip middleware.
type CompressionConfig struct {
	Level int
	// ContentTypes lists compressible media type prefixes. Empty means the default set.
	ContentTypes []string
}

var defaultCompressibleTypes = []string{
	"application/json",
	"application/javascript",
	"application/xml",
	"text/",
	"image/svg+xml",
}

// Compression gzips responses for clients that accept it. Responses that
// already carry a Content-Encoding, bodiless statuses and HEAD requests are
// passed through untouched.
func Compression(config CompressionConfig) gin.HandlerFunc {
	level := config.Level
	if level == 0 || level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	types := config.ContentTypes
	if len(types) == 0 {
		types = defaultCompressibleTypes
	}

	pool := &sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, level)
			return w
		},
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead || !acceptsGzip(c.Request) {
			c.Next()
			return
		}

		cw := &compressWriter{ResponseWriter: c.Writer, pool: pool, types: types}
		c.Writer = cw
		defer cw.finish()

		c.Header("Vary", "Accept-Encoding")
		c.Next()
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(enc, "gzip") {
			return true
		}
	}
	return false
}

type compressWriter struct {
	gin.ResponseWriter
	pool    *sync.Pool
	types   []string
	gz      *gzip.Writer
	decided bool
}

// decide runs once, before the first body byte, while headers are still mutable.
func (w *compressWriter) decide() {
	if w.decided {
		return
	}
	w.decided = true

	h := w.Header()
	status := w.Status()
	if h.Get("Content-Encoding") != "" ||
		status < http.StatusOK || status == http.StatusNoContent || status == http.StatusNotModified ||
		!w.compressible(h.Get("Content-Type")) {
		return
	}

	h.Set("Content-Encoding", "gzip")
	h.Del("Content-Length")

	gz := w.pool.Get().(*gzip.Writer)
	gz.Reset(w.ResponseWriter)
	w.gz = gz
}

func (w *compressWriter) compressible(contentType string) bool {
	if contentType == "" {
		return false
	}
	for _, t := range w.types {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

func (w *compressWriter) Write(b []byte) (int, error) {
	w.decide()
	if w.gz == nil {
		return w.ResponseWriter.Write(b)
	}
	w.ResponseWriter.WriteHeaderNow()
	return w.gz.Write(b)
}

func (w *compressWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *compressWriter) Flush() {
	if w.gz != nil {
		_ = w.gz.Flush()
	}
	w.ResponseWriter.Flush()
}

func (w *compressWriter) finish() {
	if w.gz == nil {
		return
	}
	_ = w.gz.Close()
	w.gz.Reset(nil)
	w.pool.Put(w.gz)
	w.gz = nil
}
