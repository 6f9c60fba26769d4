package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"torrentplay/internal/domain"
	"torrentplay/internal/usecase"
)

const addTorrentTimeout = 30 * time.Second

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAddTorrent(w, r)
	case http.MethodGet:
		s.handleListTorrents(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	if s.addTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "add torrent use case not configured")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	var input usecase.AddTorrentInput
	switch mediaType {
	case "application/json":
		var ok bool
		if input, ok = decodeAddTorrentJSON(w, r); !ok {
			return
		}
	case "multipart/form-data":
		var ok bool
		if input, ok = s.decodeAddTorrentMultipart(w, r); !ok {
			return
		}
	default:
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "unsupported content type")
		return
	}

	// Cap the handler execution time so we never block indefinitely.
	ctx, cancel := context.WithTimeout(r.Context(), addTorrentTimeout)
	defer cancel()

	state, err := s.addTorrent.Execute(ctx, input)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

type addTorrentJSON struct {
	Magnet   string `json:"magnet,omitempty"`
	InfoHash string `json:"infoHash,omitempty"`
}

func decodeAddTorrentJSON(w http.ResponseWriter, r *http.Request) (usecase.AddTorrentInput, bool) {
	var body addTorrentJSON
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return usecase.AddTorrentInput{}, false
	}
	return usecase.AddTorrentInput{
		Magnet:   strings.TrimSpace(body.Magnet),
		InfoHash: strings.TrimSpace(body.InfoHash),
	}, true
}

func (s *Server) decodeAddTorrentMultipart(w http.ResponseWriter, r *http.Request) (usecase.AddTorrentInput, bool) {
	const maxMemory = 5 << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form")
		return usecase.AddTorrentInput{}, false
	}

	file, header, err := r.FormFile("torrent")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing torrent file")
		return usecase.AddTorrentInput{}, false
	}
	defer file.Close()

	path, err := saveUploadedFile(file, header.Filename, s.uploadDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to store torrent file")
		return usecase.AddTorrentInput{}, false
	}
	return usecase.AddTorrentInput{TorrentFile: path}, true
}

type torrentList struct {
	Items []domain.TorrentState `json:"items"`
	Count int                   `json:"count"`
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	if s.listTorrents == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "list torrents use case not configured")
		return
	}
	states, err := s.listTorrents.Execute(r.Context())
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if states == nil {
		states = []domain.TorrentState{}
	}
	writeJSON(w, http.StatusOK, torrentList{Items: states, Count: len(states)})
}

func (s *Server) handleTorrentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/torrents/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.handleGetTorrent(w, r, id)
		case http.MethodDelete:
			s.handleRemoveTorrent(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "play":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handlePlay(w, r, id)
	case len(parts) == 4 && parts[1] == "files":
		fileIndex, err := strconv.Atoi(parts[2])
		if err != nil || fileIndex < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid fileIndex")
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch parts[3] {
		case "stream":
			s.handleStreamFile(w, r, id, fileIndex)
		case "download":
			s.handleDownloadFile(w, r, id, fileIndex)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request, id string) {
	if s.getTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "get torrent use case not configured")
		return
	}
	state, err := s.getTorrent.Execute(r.Context(), domain.TorrentID(id))
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRemoveTorrent(w http.ResponseWriter, r *http.Request, id string) {
	if s.removeTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "remove torrent use case not configured")
		return
	}
	if err := s.removeTorrent.Execute(r.Context(), domain.TorrentID(id)); err != nil {
		writeUseCaseError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type playRequest struct {
	FileIndex *int   `json:"fileIndex,omitempty"`
	PlayerID  string `json:"playerId,omitempty"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request, id string) {
	if s.playFile == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "play use case not configured")
		return
	}

	var body playRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
	}

	input := usecase.PlayFileInput{TorrentID: domain.TorrentID(id), FileIndex: -1}
	if body.FileIndex != nil {
		if *body.FileIndex < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid fileIndex")
			return
		}
		input.FileIndex = *body.FileIndex
	}
	// Assign only a found player: a typed nil would defeat the use case's
	// nil check.
	if player, ok := s.players.lookup(strings.TrimSpace(body.PlayerID)); ok {
		input.Surface = player
	}

	result, err := s.playFile.Execute(r.Context(), input)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}
