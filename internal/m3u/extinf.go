package m3u

import (
	"strconv"
	"strings"
)

// extinf is the decoded body of one #EXTINF directive:
//
//	-1 tvg-id="a" group-title="News, World",Channel A
type extinf struct {
	duration int
	attrs    map[string]string
	title    string
}

func parseExtinf(body string) extinf {
	e := extinf{duration: -1, attrs: make(map[string]string)}

	head := body
	if i := titleComma(body); i >= 0 {
		head = body[:i]
		e.title = strings.TrimSpace(body[i+1:])
	}
	head = strings.TrimSpace(head)

	// The duration is optional in the wild; a first token holding '=' is an attribute.
	if tok, rest, _ := strings.Cut(head, " "); tok != "" && !strings.Contains(tok, "=") {
		e.duration = parseDuration(tok)
		head = rest
	}
	parseAttrs(head, e.attrs)
	return e
}

// titleComma returns the index of the first comma outside double quotes, or -1.
func titleComma(s string) int {
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				return i
			}
		}
	}
	return -1
}

func parseDuration(tok string) int {
	if n, err := strconv.Atoi(tok); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return int(f)
	}
	return -1
}

// parseAttrs reads key="value" and key=value pairs. Tokens without '=' are
// ignored, and the first occurrence of a key wins.
func parseAttrs(s string, dst map[string]string) {
	i := 0
	for i < len(s) {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		start := i
		for i < len(s) && s[i] != '=' && !isSpace(s[i]) {
			i++
		}
		key := s[start:i]
		if i >= len(s) || s[i] != '=' {
			continue
		}
		i++ // '='

		var value string
		if i < len(s) && s[i] == '"' {
			i++
			end := strings.IndexByte(s[i:], '"')
			if end < 0 {
				value = s[i:]
				i = len(s)
			} else {
				value = s[i : i+end]
				i += end + 1
			}
		} else {
			vs := i
			for i < len(s) && !isSpace(s[i]) {
				i++
			}
			value = s[vs:i]
		}
		if key == "" {
			continue
		}
		if _, ok := dst[key]; !ok {
			dst[key] = strings.TrimSpace(value)
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}
