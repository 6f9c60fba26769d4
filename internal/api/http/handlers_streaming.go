package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"

	"torrentplay/internal/domain"
)

// handleStreamFile serves a torrent file over plain HTTP with single byte
// ranges, blocking on pieces that have not arrived yet.
func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request, id string, fileIndex int) {
	if s.streamFile == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream use case not configured")
		return
	}

	result, err := s.streamFile.Execute(r.Context(), domain.TorrentID(id), fileIndex)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if result.Reader == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream reader not available")
		return
	}
	defer result.Reader.Close()

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Accept-Ranges", "bytes")
	// Close the connection after streaming to prevent keep-alive from holding
	// the reader open after the player stops playback.
	w.Header().Set("Connection", "close")

	size := result.File.Length
	logAttrs := []any{slog.String("torrentId", id), slog.Int("fileIndex", fileIndex)}

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, result.Reader); err != nil {
			s.logger.Debug("stream copy interrupted", append(logAttrs, slog.String("error", err.Error()))...)
		}
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	switch {
	case errors.Is(err, errInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
		return
	case errors.Is(err, errRangeNotSatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if _, err := result.Reader.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek stream")
		return
	}
	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, result.Reader, length); err != nil {
		s.logger.Debug("stream range copy interrupted", append(logAttrs, slog.String("error", err.Error()))...)
	}
}

// handleDownloadFile waits for the whole file and sends it as an attachment.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request, id string, fileIndex int) {
	if s.downloadFile == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "download use case not configured")
		return
	}

	handle, err := s.downloadFile.Execute(r.Context(), domain.TorrentID(id), fileIndex)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeUseCaseError(w, err)
		return
	}

	f, err := os.Open(handle.Path)
	if err != nil {
		s.logger.Warn("downloaded file missing",
			slog.String("torrentId", id),
			slog.String("path", handle.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to open file")
		return
	}
	defer f.Close()

	name := path.Base(handle.Name)
	if name == "." || name == "/" {
		name = path.Base(handle.Path)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Type", domain.MimeType(name))
	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	http.ServeContent(w, r, name, modTime, f)
}
