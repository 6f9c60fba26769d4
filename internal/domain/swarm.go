package domain

// Chunk is a slice of file bytes in read-stream order.
type Chunk struct {
	Offset int64
	Data   []byte
}

// SwarmStats is a polled snapshot of swarm health for one torrent.
type SwarmStats struct {
	Peers         int     `json:"peers"`
	DownloadSpeed int64   `json:"downloadSpeed"`
	Progress      float64 `json:"progress"`
	BytesDone     int64   `json:"bytesDone"`
	BytesUploaded int64   `json:"bytesUploaded"`
	Length        int64   `json:"length"`
}

// MaterializedHandle points at a fully available local copy of a file.
type MaterializedHandle struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Length   int64  `json:"length"`
	MimeType string `json:"mimeType"`
}
