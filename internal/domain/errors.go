package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrUnsupported = errors.New("unsupported operation")

// ErrNotPlayable is returned when a file has no known video or audio kind.
var ErrNotPlayable = errors.New("file is not playable")

// ErrBufferFatal marks an incremental buffer failure the sink cannot recover
// from. It moves a session off segmented streaming.
var ErrBufferFatal = errors.New("media buffer failed")

// ErrPlaybackFailed is reported once when every playback strategy failed.
var ErrPlaybackFailed = errors.New("playback failed")

var ErrSessionClosed = errors.New("playback session closed")

var ErrInvalidTransition = errors.New("invalid state transition")

// ErrInvalidSeed is returned when content offered for seeding cannot be
// shared.
var ErrInvalidSeed = errors.New("invalid seed content")
