package m3u

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/voyagen/m3uvault/internal/models"
)

var attrReplacer = strings.NewReplacer(`"`, "'", "\r", " ", "\n", " ")

// Write renders lives as an extended M3U playlist. Reading the output back
// with Parse yields the same url, title, group, cover, tvg-id and duration.
func Write(w io.Writer, lives []models.Live) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(DefaultHeader + "\n")
	for _, l := range lives {
		var attrs strings.Builder
		if l.TvgID != "" {
			fmt.Fprintf(&attrs, ` tvg-id="%s"`, attrReplacer.Replace(l.TvgID))
		}
		if l.Cover != "" {
			fmt.Fprintf(&attrs, ` tvg-logo="%s"`, attrReplacer.Replace(l.Cover))
		}
		if l.Group != "" {
			fmt.Fprintf(&attrs, ` group-title="%s"`, attrReplacer.Replace(l.Group))
		}
		title := strings.NewReplacer("\r", " ", "\n", " ").Replace(l.Title)
		fmt.Fprintf(bw, "%s%d%s,%s\n", DefaultDirective, l.Duration, attrs.String(), title)
		if h := l.Headers; !h.Empty() {
			if h.Referrer != "" {
				fmt.Fprintf(bw, "%shttp-referrer=%s\n", vlcOptPrefix, h.Referrer)
			}
			if h.UserAgent != "" {
				fmt.Fprintf(bw, "%shttp-user-agent=%s\n", vlcOptPrefix, h.UserAgent)
			}
			if h.HTTPOrigin != "" {
				fmt.Fprintf(bw, "%shttp-origin=%s\n", vlcOptPrefix, h.HTTPOrigin)
			}
		}
		bw.WriteString(strings.TrimSpace(l.URL) + "\n")
	}
	return bw.Flush()
}
