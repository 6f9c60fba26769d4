package apihttp

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

// mediaSource is something a remote player can fetch by URL.
type mediaSource struct {
	name     string
	mimeType string
	modTime  time.Time
	open     func() (io.ReadSeekCloser, error)
}

// sourceRegistry hands out unguessable tokens for the direct and
// materialized rungs. A token lives until it is revoked.
type sourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]mediaSource
}

func newSourceRegistry() *sourceRegistry {
	return &sourceRegistry{sources: make(map[string]mediaSource)}
}

func (r *sourceRegistry) add(src mediaSource) string {
	token := newToken()
	r.mu.Lock()
	r.sources[token] = src
	r.mu.Unlock()
	return token
}

func (r *sourceRegistry) get(token string) (mediaSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[token]
	return src, ok
}

func (r *sourceRegistry) revoke(token string) {
	r.mu.Lock()
	delete(r.sources, token)
	r.mu.Unlock()
}

func (r *sourceRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

func directMediaSource(src ports.DirectSource) mediaSource {
	file := src.File()
	return mediaSource{
		name:     path.Base(file.Path),
		mimeType: src.MimeType(),
		open:     src.Open,
	}
}

func localMediaSource(handle domain.MaterializedHandle) mediaSource {
	return mediaSource{
		name:     handle.Name,
		mimeType: handle.MimeType,
		open: func() (io.ReadSeekCloser, error) {
			return os.Open(handle.Path)
		},
	}
}

func newToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func sourceURL(token string) string {
	return "/sources/" + token
}

// handleSource serves a registered source with range support.
func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/sources/")
	src, ok := s.sources.get(token)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "source not found")
		return
	}

	reader, err := src.open()
	if err != nil {
		s.logger.Warn("source open failed", slog.String("name", src.name), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open source")
		return
	}
	defer reader.Close()

	if src.mimeType != "" {
		w.Header().Set("Content-Type", src.mimeType)
	}
	http.ServeContent(w, r, src.name, src.modTime, reader)
}
