package apihttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"torrentplay/internal/usecase"
)

const (
	// Hashing a large upload takes a while.
	seedTimeout      = 5 * time.Minute
	seedFormMemory   = 32 << 20
	defaultSeedName  = "upload"
	seedFilesField   = "files"
	seedTrackerField = "trackers"
)

// handleSeed takes one or more uploaded files, stores them in the data dir
// and starts seeding them as a new torrent. A single file is seeded as is;
// several files, or any upload with a name, become a directory torrent.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.seedFiles == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "seed use case not configured")
		return
	}
	if s.uploadDir == "" {
		writeError(w, http.StatusInternalServerError, "internal_error", "data directory not configured")
		return
	}

	if err := r.ParseMultipartForm(seedFormMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File[seedFilesField]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing files")
		return
	}

	root, size, err := stageSeedContent(s.uploadDir, r.FormValue("name"), files)
	if err != nil {
		s.logger.Error("seed upload not stored", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to store files")
		return
	}
	s.logger.Info("seed upload stored",
		slog.String("path", root),
		slog.Int("files", len(files)),
		slog.String("size", humanize.Bytes(uint64(size))),
	)

	ctx, cancel := context.WithTimeout(r.Context(), seedTimeout)
	defer cancel()

	result, err := s.seedFiles.Execute(ctx, usecase.SeedFilesInput{
		Path:     root,
		Trackers: parseTrackers(r.MultipartForm.Value[seedTrackerField]),
	})
	if err != nil {
		_ = os.RemoveAll(root)
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// parseTrackers accepts repeated fields, each holding one or more URLs
// separated by commas or whitespace.
func parseTrackers(values []string) []string {
	var out []string
	for _, v := range values {
		for _, tr := range strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n' || r == '\r' || r == '\t'
		}) {
			out = append(out, tr)
		}
	}
	return out
}

// stageSeedContent writes the uploads into a new entry of dir and returns
// its path and total size.
func stageSeedContent(dir, name string, files []*multipart.FileHeader) (string, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	name = seedEntryName(name)

	if len(files) == 1 && name == "" {
		path, n, err := storeUpload(dir, files[0])
		return path, n, err
	}

	if name == "" {
		name = defaultSeedName
	}
	root := filepath.Join(dir, name)
	if err := os.Mkdir(root, 0o755); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return "", 0, err
		}
		if root, err = os.MkdirTemp(dir, name+"-*"); err != nil {
			return "", 0, err
		}
	}
	var total int64
	for _, fh := range files {
		_, n, err := storeUpload(root, fh)
		if err != nil {
			_ = os.RemoveAll(root)
			return "", 0, err
		}
		total += n
	}
	return root, total, nil
}

// storeUpload copies one upload into dir under its own base name, or a
// suffixed one when that is taken.
func storeUpload(dir string, fh *multipart.FileHeader) (string, int64, error) {
	src, err := fh.Open()
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	base := seedEntryName(fh.Filename)
	if base == "" {
		base = defaultSeedName
	}
	out, err := os.OpenFile(filepath.Join(dir, base), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		ext := filepath.Ext(base)
		out, err = os.CreateTemp(dir, strings.TrimSuffix(base, ext)+"-*"+ext)
	}
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, src)
	if err != nil {
		_ = os.Remove(out.Name())
		return "", 0, err
	}
	return out.Name(), n, nil
}

// seedEntryName reduces a client supplied name to a visible base name.
func seedEntryName(name string) string {
	name = filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	name = strings.TrimLeft(name, ".")
	if name == "" || name == string(os.PathSeparator) {
		return ""
	}
	return name
}
