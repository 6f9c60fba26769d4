package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"torrentplay/internal/domain"
)

const (
	seedPieceLength = 256 << 10
	seedCreatedBy   = "torrentplay"
	// Created .torrent files are kept here, under the data dir, so saved
	// records can re-add them after a restart.
	seedMetaDir = ".seeds"
)

// Seed hashes local content and starts serving it. The content must sit
// directly inside the data dir because that is where the client's storage
// looks for a torrent named after it.
func (e *Engine) Seed(ctx context.Context, req domain.SeedRequest) (domain.SeedResult, error) {
	if e.client == nil {
		return domain.SeedResult{}, errors.New("torrent client not configured")
	}
	root, err := seedRoot(e.dataDir, req.Path)
	if err != nil {
		return domain.SeedResult{}, err
	}

	mi, info, err := buildMetaInfo(root, req.Trackers, seedPieceLength, time.Now())
	if err != nil {
		return domain.SeedResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.SeedResult{}, err
	}

	metaPath, err := writeMetaInfo(filepath.Join(e.dataDir, seedMetaDir), mi)
	if err != nil {
		return domain.SeedResult{}, fmt.Errorf("save torrent file: %w", err)
	}

	t, err := e.client.AddTorrent(mi)
	if err != nil {
		return domain.SeedResult{}, err
	}
	id := domain.TorrentID(t.InfoHash().HexString())

	e.mu.Lock()
	_, exists := e.torrents[id]
	if !exists {
		e.torrents[id] = t
	}
	e.mu.Unlock()
	if !exists {
		e.logger.Info("seeding local content",
			slog.String("torrentId", string(id)),
			slog.String("name", info.Name),
			slog.Int("files", len(info.UpvertedFiles())),
			slog.Int64("length", info.TotalLength()),
		)
	}

	state, err := e.State(ctx, id)
	if err != nil {
		return domain.SeedResult{}, err
	}
	return domain.SeedResult{
		Torrent:     state,
		InfoHash:    domain.InfoHash(id),
		Magnet:      mi.Magnet(nil, &info).String(),
		TorrentFile: metaPath,
	}, nil
}

// seedRoot resolves path and checks that it is an entry of dataDir.
func seedRoot(dataDir, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", domain.ErrInvalidSeed)
	}
	dir, err := filepath.Abs(dataDir)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if filepath.Dir(root) != dir {
		return "", fmt.Errorf("%w: %s is not inside %s", domain.ErrInvalidSeed, path, dataDir)
	}
	if strings.HasPrefix(filepath.Base(root), ".") {
		return "", fmt.Errorf("%w: hidden entry %s", domain.ErrInvalidSeed, filepath.Base(root))
	}
	if _, err := os.Stat(root); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSeed, err)
	}
	return root, nil
}

// buildMetaInfo hashes the file or directory at root. Each tracker gets its
// own announce tier.
func buildMetaInfo(root string, trackers []string, pieceLength int64, now time.Time) (*metainfo.MetaInfo, metainfo.Info, error) {
	info := metainfo.Info{PieceLength: pieceLength}
	if err := info.BuildFromFilePath(root); err != nil {
		return nil, metainfo.Info{}, fmt.Errorf("%w: %v", domain.ErrInvalidSeed, err)
	}
	if info.TotalLength() == 0 {
		return nil, metainfo.Info{}, fmt.Errorf("%w: %s is empty", domain.ErrInvalidSeed, filepath.Base(root))
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, metainfo.Info{}, err
	}

	mi := &metainfo.MetaInfo{
		InfoBytes:    infoBytes,
		CreatedBy:    seedCreatedBy,
		CreationDate: now.Unix(),
	}
	for _, tr := range trackers {
		tr = strings.TrimSpace(tr)
		if tr == "" {
			continue
		}
		if mi.Announce == "" {
			mi.Announce = tr
		}
		mi.AnnounceList = append(mi.AnnounceList, []string{tr})
	}
	return mi, info, nil
}

func writeMetaInfo(dir string, mi *metainfo.MetaInfo) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, mi.HashInfoBytes().HexString()+".torrent")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := mi.Write(f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	return path, f.Close()
}
