package usecase

import (
	"encoding/hex"
	"strings"

	"torrentplay/internal/domain"
)

const magnetPrefix = "magnet:?"

// normalizeSource accepts exactly one of a magnet link, a bare info hash or
// a .torrent file path. A bare hash becomes a magnet link.
func normalizeSource(in AddTorrentInput) (domain.TorrentSource, error) {
	magnet := strings.TrimSpace(in.Magnet)
	hash := strings.TrimSpace(in.InfoHash)
	file := strings.TrimSpace(in.TorrentFile)

	given := 0
	for _, v := range []string{magnet, hash, file} {
		if v != "" {
			given++
		}
	}
	if given != 1 {
		return domain.TorrentSource{}, ErrInvalidSource
	}

	switch {
	case file != "":
		return domain.TorrentSource{Torrent: file}, nil
	case hash != "":
		if !isInfoHash(hash) {
			return domain.TorrentSource{}, ErrInvalidSource
		}
		return domain.TorrentSource{Magnet: magnetPrefix + "xt=urn:btih:" + strings.ToLower(hash)}, nil
	default:
		if !strings.HasPrefix(strings.ToLower(magnet), magnetPrefix) || parseInfoHash(magnet) == "" {
			return domain.TorrentSource{}, ErrInvalidSource
		}
		return domain.TorrentSource{Magnet: magnet}, nil
	}
}

// isInfoHash reports whether s is a hex SHA-1 info hash.
func isInfoHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func parseInfoHash(magnet string) domain.InfoHash {
	magnet = strings.TrimSpace(magnet)
	if magnet == "" {
		return ""
	}

	lower := strings.ToLower(magnet)
	idx := strings.Index(lower, "xt=urn:btih:")
	if idx == -1 {
		return ""
	}

	rest := magnet[idx+len("xt=urn:btih:"):]
	if end := strings.Index(rest, "&"); end != -1 {
		rest = rest[:end]
	}
	return domain.InfoHash(strings.ToLower(rest))
}

func hasSource(src domain.TorrentSource) bool {
	return strings.TrimSpace(src.Magnet) != "" || strings.TrimSpace(src.Torrent) != ""
}

func sumFileLengths(files []domain.FileRef) int64 {
	var total int64
	for _, f := range files {
		total += f.Length
	}
	return total
}

func sumBytesCompleted(files []domain.FileRef) int64 {
	var total int64
	for _, f := range files {
		total += f.BytesCompleted
	}
	return total
}

func deriveName(files []domain.FileRef) string {
	if len(files) == 0 {
		return ""
	}
	parts := strings.FieldsFunc(files[0].Path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
