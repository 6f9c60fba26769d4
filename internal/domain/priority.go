package domain

// Priority is a piece fetch urgency. Larger values are more urgent; 0 is the
// floor and means "wanted, no particular hurry".
type Priority int

const (
	PriorityFloor   Priority = 0
	PriorityCeiling Priority = 5
)

// PriorityHint asks the swarm to fetch pieces [Start, End) with the given
// priority. Hints are transient and may overlap.
type PriorityHint struct {
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Priority Priority `json:"priority"`
}

// PieceLayout describes how a file maps onto torrent pieces.
type PieceLayout struct {
	PieceLength int64 `json:"pieceLength"`
	NumPieces   int   `json:"numPieces"`
	FileOffset  int64 `json:"fileOffset"`
	FileLength  int64 `json:"fileLength"`
}

// Valid reports whether the layout can be used to locate pieces.
func (l PieceLayout) Valid() bool {
	return l.PieceLength > 0 && l.NumPieces > 0 && l.FileLength > 0 && l.FileOffset >= 0
}

// EndPiece returns the index one past the last piece overlapping the file.
func (l PieceLayout) EndPiece() int {
	if !l.Valid() {
		return 0
	}
	end := int((l.FileOffset + l.FileLength + l.PieceLength - 1) / l.PieceLength)
	if end > l.NumPieces {
		end = l.NumPieces
	}
	return end
}
