package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrEngine           = errors.New("engine error")
	ErrRepository       = errors.New("repository error")
	ErrInvalidFileIndex = errors.New("invalid file index")
	ErrInvalidSource    = errors.New("invalid torrent source")
	// ErrNoPlayer is returned when a play request has no surface to render on.
	ErrNoPlayer = errors.New("no player connected")
)

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}

func wrapRepo(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRepository, err)
}
