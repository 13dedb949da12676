package m3u

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPlaylist is returned when the playlist header marker is missing.
	// Nothing is emitted for such a playlist.
	ErrMalformedPlaylist = errors.New("malformed playlist")
	// ErrMissingSubscriptionURL is returned when a parse is started without a source id.
	ErrMissingSubscriptionURL = errors.New("subscription url is required")
)

// PlaylistError reports a fatal parse failure and the line it happened on.
type PlaylistError struct {
	Line   int
	Reason string
	Err    error
}

func (e *PlaylistError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("m3u: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("m3u: line %d: %s: %v", e.Line, e.Reason, e.Err)
}

func (e *PlaylistError) Unwrap() error { return e.Err }
