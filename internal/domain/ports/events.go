package ports

import "torrentplay/internal/domain"

// EventReporter delivers playback events and swarm stats to whoever is
// watching: logs, websocket clients.
type EventReporter interface {
	Report(event domain.PlaybackEvent)
	ReportStats(id domain.TorrentID, stats domain.SwarmStats)
}
