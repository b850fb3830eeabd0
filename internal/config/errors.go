package config

import "errors"

var (
	// ErrWatcherClosed is returned when watching after Close.
	ErrWatcherClosed = errors.New("config watcher closed")

	// ErrAlreadyWatching is returned when Watch is called twice.
	ErrAlreadyWatching = errors.New("config already being watched")
)
