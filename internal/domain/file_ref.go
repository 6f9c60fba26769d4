package domain

type FileRef struct {
	Index          int    `json:"index"`
	Path           string `json:"path"`
	Length         int64  `json:"length"`
	BytesCompleted int64  `json:"bytesCompleted"`
}

// Complete reports whether every byte of the file is available locally.
func (f FileRef) Complete() bool {
	return f.Length > 0 && f.BytesCompleted >= f.Length
}
