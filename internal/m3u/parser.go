// Package m3u turns extended M3U playlist text into live records.
//
// Parsing is a single forward pass over the input with no I/O of its own:
// callers hand over a reader (a fetched body, a file) and the subscription
// URL every record is tagged with.
package m3u

import (
	"bufio"
	"io"
	"iter"
	"strings"

	"github.com/voyagen/m3uvault/internal/models"
)

const (
	vlcOptPrefix = "#EXTVLCOPT:"
	extGrpPrefix = "#EXTGRP:"
	utf8BOM      = "\uFEFF"
)

// Stats summarises one parse.
type Stats struct {
	Lines      int `json:"lines"`
	Directives int `json:"directives"`
	Emitted    int `json:"emitted"`
	// Skipped counts directives that never got a URL line.
	Skipped int `json:"skipped"`
}

// pending is an EXTINF directive still waiting for its URL line.
type pending struct {
	ext     extinf
	group   string
	headers models.LiveHeaders
}

// Reader is a lazy cursor over one playlist. It is not restartable and not
// safe for concurrent use; independent Readers may run in parallel.
//
//	r := m3u.NewReader(body, subURL)
//	for r.Next() {
//		live := r.Live()
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	scanner         *bufio.Scanner
	subscriptionURL string
	opts            Options

	started bool
	done    bool
	err     error
	line    int
	cur     models.Live
	pending *pending
	stats   Stats
}

// NewReader returns a Reader over r tagging every live with subscriptionURL.
func NewReader(r io.Reader, subscriptionURL string, opts ...Option) *Reader {
	o := buildOptions(opts)
	scanner := bufio.NewScanner(r)
	// Some playlists carry very long EXTINF lines.
	initial := 64 * 1024
	if o.MaxLineSize < initial {
		initial = o.MaxLineSize
	}
	scanner.Buffer(make([]byte, 0, initial), o.MaxLineSize)
	return &Reader{
		scanner:         scanner,
		subscriptionURL: subscriptionURL,
		opts:            o,
	}
}

// Next advances to the next complete live. It returns false at the end of
// input or on a fatal error; check Err afterwards.
func (p *Reader) Next() bool {
	if p.done {
		return false
	}
	if !p.started {
		p.started = true
		if strings.TrimSpace(p.subscriptionURL) == "" {
			p.fail(ErrMissingSubscriptionURL)
			return false
		}
		if !p.readHeader() {
			return false
		}
	}

	for p.scan() {
		trimmed := strings.TrimSpace(p.scanner.Text())
		switch {
		case trimmed == "":
			continue
		case hasPrefixFold(trimmed, p.opts.Directive):
			if p.pending != nil {
				p.stats.Skipped++
			}
			p.stats.Directives++
			p.pending = &pending{ext: parseExtinf(trimmed[len(p.opts.Directive):])}
		case hasPrefixFold(trimmed, vlcOptPrefix):
			if p.pending != nil {
				applyVLCOpt(&p.pending.headers, trimmed[len(vlcOptPrefix):])
			}
		case hasPrefixFold(trimmed, extGrpPrefix):
			if p.pending != nil && p.pending.group == "" {
				p.pending.group = strings.TrimSpace(trimmed[len(extGrpPrefix):])
			}
		case strings.HasPrefix(trimmed, "#"):
			continue
		default:
			if p.pending == nil {
				// URL without a directive: not a record in an extended playlist.
				continue
			}
			p.cur = p.build(p.pending, trimmed)
			p.pending = nil
			p.stats.Emitted++
			return true
		}
	}

	if err := p.scanner.Err(); err != nil {
		p.fail(&PlaylistError{Line: p.line + 1, Reason: "read", Err: err})
		return false
	}
	if p.pending != nil {
		p.stats.Skipped++
		p.pending = nil
	}
	p.done = true
	return false
}

// Live returns the record produced by the last successful call to Next.
func (p *Reader) Live() models.Live { return p.cur }

// Err returns the fatal error that stopped the reader, if any.
func (p *Reader) Err() error { return p.err }

// Stats returns counters for the input consumed so far.
func (p *Reader) Stats() Stats { return p.stats }

// All exposes the remaining lives as a range-over-func sequence.
func (p *Reader) All() iter.Seq[models.Live] {
	return func(yield func(models.Live) bool) {
		for p.Next() {
			if !yield(p.Live()) {
				return
			}
		}
	}
}

// Parse reads every live from r. On a fatal error no records are returned.
func Parse(r io.Reader, subscriptionURL string, opts ...Option) ([]models.Live, Stats, error) {
	p := NewReader(r, subscriptionURL, opts...)
	var lives []models.Live
	for p.Next() {
		lives = append(lives, p.Live())
	}
	if err := p.Err(); err != nil {
		return nil, p.Stats(), err
	}
	return lives, p.Stats(), nil
}

// ParseString is Parse over an in-memory playlist.
func ParseString(s string, subscriptionURL string, opts ...Option) ([]models.Live, Stats, error) {
	return Parse(strings.NewReader(s), subscriptionURL, opts...)
}

func (p *Reader) scan() bool {
	if !p.scanner.Scan() {
		return false
	}
	p.line++
	p.stats.Lines++
	return true
}

// readHeader consumes blank lines up to the first content line, which must
// carry the header marker.
func (p *Reader) readHeader() bool {
	for p.scan() {
		text := p.scanner.Text()
		if p.line == 1 {
			text = strings.TrimPrefix(text, utf8BOM)
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		if isHeader(trimmed, p.opts.Header) {
			return true
		}
		p.fail(&PlaylistError{Line: p.line, Reason: "missing " + p.opts.Header + " header", Err: ErrMalformedPlaylist})
		return false
	}
	if err := p.scanner.Err(); err != nil {
		p.fail(&PlaylistError{Line: p.line + 1, Reason: "read", Err: err})
		return false
	}
	p.fail(&PlaylistError{Line: p.line, Reason: "empty playlist", Err: ErrMalformedPlaylist})
	return false
}

func (p *Reader) fail(err error) {
	p.err = err
	p.done = true
	p.pending = nil
}

func (p *Reader) build(pd *pending, url string) models.Live {
	ext := pd.ext
	title := ext.title
	if attrTitle := firstAttr(ext.attrs, p.opts.TitleKeys); attrTitle != "" {
		if p.opts.PreferAttributeTitle || title == "" {
			title = attrTitle
		}
	}
	group := firstAttr(ext.attrs, p.opts.GroupKeys)
	if group == "" {
		group = pd.group
	}
	live := models.Live{
		URL:             url,
		Title:           title,
		Group:           group,
		Cover:           firstAttr(ext.attrs, p.opts.CoverKeys),
		SubscriptionURL: p.subscriptionURL,
		Duration:        ext.duration,
		TvgID:           firstAttr(ext.attrs, p.opts.IDKeys),
	}
	if !pd.headers.Empty() {
		h := pd.headers
		live.Headers = &h
	}
	return live
}

// applyVLCOpt reads one "http-referrer=..." style option.
func applyVLCOpt(h *models.LiveHeaders, opt string) {
	key, value, ok := strings.Cut(opt, "=")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "http-referrer", "http-referer":
		h.Referrer = value
	case "http-user-agent":
		h.UserAgent = value
	case "http-origin":
		h.HTTPOrigin = value
	}
}

// isHeader reports whether line is the header marker, alone or followed by
// whitespace and playlist attributes.
func isHeader(line, marker string) bool {
	if !hasPrefixFold(line, marker) {
		return false
	}
	return len(line) == len(marker) || isSpace(line[len(marker)])
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
