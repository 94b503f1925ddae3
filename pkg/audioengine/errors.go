package audioengine

import "errors"

var (
	ErrBadTrack      = errors.New("track index out of range")
	ErrNoReference   = errors.New("no reference track loaded")
	ErrNoChannels    = errors.New("no channel could be started")
	ErrUnsavedLyrics = errors.New("lyrics have unsaved edits")
	ErrNoSong        = errors.New("no song loaded")
	ErrNoMarker      = errors.New("no such marker")
)
