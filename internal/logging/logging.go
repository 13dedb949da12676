// Package logging builds the zerolog loggers shared by every component.
package logging

import (
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var urlPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[a-zA-Z0-9+%/.\-:_?&=#@~*!$;\[\]]+`)

// New returns a logger writing to stderr. format is "pretty" for a console
// writer, anything else for JSON lines.
func New(level, format string) zerolog.Logger {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter is New with a custom output.
func NewWithWriter(level, format string, w io.Writer) zerolog.Logger {
	if strings.EqualFold(format, "pretty") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name onto zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component derives a sub-logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Redactor hides playlist URLs, which often embed credentials.
type Redactor bool

// URL returns u, or a placeholder when redaction is on.
func (r Redactor) URL(u string) string {
	if !r {
		return u
	}
	return urlPattern.ReplaceAllString(u, "[redacted url]")
}

// Wrap returns err with every url in its message redacted. errors.Is and
// errors.As still see the original chain.
func (r Redactor) Wrap(err error) error {
	if !r || err == nil {
		return err
	}
	return &redactedError{err: err, msg: r.URL(err.Error())}
}

type redactedError struct {
	err error
	msg string
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
