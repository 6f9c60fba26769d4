package domain

import "time"

type TorrentID string

type InfoHash string

type TorrentSource struct {
	Magnet  string `json:"magnet,omitempty"`
	Torrent string `json:"torrent,omitempty"`
}

// TorrentState is the live view of a torrent held by the engine.
type TorrentState struct {
	ID            TorrentID     `json:"id"`
	Name          string        `json:"name"`
	Status        TorrentStatus `json:"status"`
	Progress      float64       `json:"progress"`
	Peers         int           `json:"peers"`
	DownloadSpeed int64         `json:"downloadSpeed"`
	Uploaded      int64         `json:"uploaded"`
	Length        int64         `json:"length"`
	Files         []FileRef     `json:"files,omitempty"`
	Playable      bool          `json:"playable"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// SeedRequest names local content to share. Path is a file or directory
// directly inside the engine's data directory.
type SeedRequest struct {
	Path     string
	Trackers []string
}

// SeedResult describes a torrent created from local content.
type SeedResult struct {
	Torrent     TorrentState `json:"torrent"`
	InfoHash    InfoHash     `json:"infoHash"`
	Magnet      string       `json:"magnet"`
	TorrentFile string       `json:"-"`
}

// FirstPlayable returns the first file whose extension maps to a media kind.
func FirstPlayable(files []FileRef) (FileRef, bool) {
	for _, f := range files {
		if IsPlayable(f.Path) {
			return f, true
		}
	}
	return FileRef{}, false
}
