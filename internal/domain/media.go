package domain

import (
	"path"
	"strings"
)

// MediaKind is the rendering class of a file. Video and audio share the same
// playback strategy chain.
type MediaKind int

const (
	MediaUnknown MediaKind = iota
	MediaVideo
	MediaAudio
)

var mediaKindNames = [...]string{"unknown", "video", "audio"}

func (k MediaKind) String() string {
	if k >= 0 && int(k) < len(mediaKindNames) {
		return mediaKindNames[k]
	}
	return "unknown"
}

type mediaType struct {
	kind MediaKind
	mime string
}

var mediaTypes = map[string]mediaType{
	"mp4":  {MediaVideo, "video/mp4"},
	"m4v":  {MediaVideo, "video/mp4"},
	"webm": {MediaVideo, "video/webm"},
	"mkv":  {MediaVideo, "video/x-matroska"},
	"avi":  {MediaVideo, "video/x-msvideo"},
	"mov":  {MediaVideo, "video/quicktime"},
	"mp3":  {MediaAudio, "audio/mpeg"},
	"m4a":  {MediaAudio, "audio/mp4"},
	"aac":  {MediaAudio, "audio/aac"},
	"wav":  {MediaAudio, "audio/wav"},
	"ogg":  {MediaAudio, "audio/ogg"},
	"opus": {MediaAudio, "audio/ogg"},
	"flac": {MediaAudio, "audio/flac"},
}

func extension(name string) string {
	ext := path.Ext(strings.ReplaceAll(name, "\\", "/"))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Classify maps a file name to its media kind by extension. Unknown or missing
// extensions yield MediaUnknown.
func Classify(name string) MediaKind {
	return mediaTypes[extension(name)].kind
}

func IsPlayable(name string) bool {
	return Classify(name) != MediaUnknown
}

// MimeType returns the container MIME type for a playable file, or
// application/octet-stream.
func MimeType(name string) string {
	if mt, ok := mediaTypes[extension(name)]; ok {
		return mt.mime
	}
	return "application/octet-stream"
}
