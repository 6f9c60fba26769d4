package domain

type TorrentStatus string

const (
	TorrentPending   TorrentStatus = "pending"
	TorrentActive    TorrentStatus = "active"
	TorrentCompleted TorrentStatus = "completed"
	TorrentError     TorrentStatus = "error"
)
