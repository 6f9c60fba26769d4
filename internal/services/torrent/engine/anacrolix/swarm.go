package anacrolix

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

// Swarm is the piece-level view of one torrent with metadata.
type Swarm struct {
	engine  *Engine
	torrent *torrent.Torrent
	id      domain.TorrentID
}

var _ ports.SwarmProvider = (*Swarm)(nil)

func (s *Swarm) ID() domain.TorrentID {
	return s.id
}

func (s *Swarm) Name() string {
	return s.torrent.Name()
}

func (s *Swarm) Files() []domain.FileRef {
	return mapFiles(s.torrent)
}

func (s *Swarm) file(ref domain.FileRef) (*torrent.File, error) {
	files := s.torrent.Files()
	if ref.Index < 0 || ref.Index >= len(files) {
		return nil, fmt.Errorf("%w: file %d", ErrTorrentNotFound, ref.Index)
	}
	return files[ref.Index], nil
}

func (s *Swarm) PieceLayout(ref domain.FileRef) (domain.PieceLayout, error) {
	f, err := s.file(ref)
	if err != nil {
		return domain.PieceLayout{}, err
	}
	layout := domain.PieceLayout{
		PieceLength: s.torrent.Info().PieceLength,
		NumPieces:   s.torrent.NumPieces(),
		FileOffset:  f.Offset(),
		FileLength:  f.Length(),
	}
	if !layout.Valid() {
		return domain.PieceLayout{}, fmt.Errorf("file %d has no usable piece layout", ref.Index)
	}
	return layout, nil
}

func (s *Swarm) PieceAvailable(index int) bool {
	if index < 0 || index >= s.torrent.NumPieces() {
		return false
	}
	return s.torrent.PieceState(index).Complete
}

func (s *Swarm) GetPiece(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= s.torrent.NumPieces() {
		return nil, fmt.Errorf("%w: piece %d", ErrTorrentNotFound, index)
	}
	pieceLength := s.torrent.Info().PieceLength
	off := int64(index) * pieceLength
	size := pieceLength
	if rest := s.torrent.Length() - off; rest < size {
		size = rest
	}

	r := s.torrent.NewReader()
	defer r.Close()
	r.SetContext(ctx)
	r.SetResponsive()
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Swarm) SetPriority(start, end int, prio domain.Priority) {
	s.engine.applyPiecePriority(s.torrent, s.id, start, end, prio)
}

func (s *Swarm) NewFileReader(ref domain.FileRef) (ports.StreamReader, error) {
	f, err := s.file(ref)
	if err != nil {
		return nil, err
	}
	return f.NewReader(), nil
}

// OpenReadStream reads the file from the start in chunks of the configured
// size.
func (s *Swarm) OpenReadStream(ctx context.Context, ref domain.FileRef) (ports.ChunkStream, error) {
	f, err := s.file(ref)
	if err != nil {
		return nil, err
	}
	r := f.NewReader()
	r.SetResponsive()
	r.SetReadahead(s.engine.cfg.ChunkSize * 4)
	return newReadStream(ctx, r, s.engine.cfg.ChunkSize), nil
}

// Materialize downloads the whole file and waits until every byte is local.
func (s *Swarm) Materialize(ctx context.Context, ref domain.FileRef) (domain.MaterializedHandle, error) {
	f, err := s.file(ref)
	if err != nil {
		return domain.MaterializedHandle{}, err
	}
	f.SetPriority(torrent.PiecePriorityHigh)

	ticker := time.NewTicker(s.engine.cfg.MaterializePoll)
	defer ticker.Stop()
	for f.BytesCompleted() < f.Length() {
		select {
		case <-ctx.Done():
			return domain.MaterializedHandle{}, ctx.Err()
		case <-s.torrent.Closed():
			return domain.MaterializedHandle{}, fmt.Errorf("%w: torrent %s dropped", ErrTorrentNotFound, s.id)
		case <-ticker.C:
		}
	}

	return domain.MaterializedHandle{
		Path:     filepath.Join(s.engine.dataDir, filepath.FromSlash(f.Path())),
		Name:     filepath.Base(f.Path()),
		Length:   f.Length(),
		MimeType: domain.MimeType(f.Path()),
	}, nil
}

func (s *Swarm) Stats() domain.SwarmStats {
	stats := s.torrent.Stats()
	length := s.torrent.Length()
	done := s.engine.stableCompleted(s.id, s.torrent.BytesCompleted())
	progress := float64(0)
	if length > 0 {
		progress = float64(done) / float64(length)
	}
	return domain.SwarmStats{
		Peers:         stats.ActivePeers,
		DownloadSpeed: s.engine.sampleSpeed(s.id, stats, time.Now().UTC()),
		Progress:      progress,
		BytesDone:     done,
		BytesUploaded: stats.BytesWrittenData.Int64(),
		Length:        length,
	}
}
