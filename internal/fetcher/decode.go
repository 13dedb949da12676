package fetcher

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicXZ   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// decode sniffs compression by magic bytes and normalises the text to UTF-8,
// honouring UTF-8 and UTF-16 byte order marks.
func decode(raw io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(raw)
	head, err := br.Peek(len(magicXZ))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("peek: %w", err)
	}

	var r io.Reader = br
	closers := []io.Closer{raw}
	switch {
	case bytes.HasPrefix(head, magicGzip):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		r = gz
		closers = append([]io.Closer{gz}, closers...)
	case bytes.HasPrefix(head, magicZstd):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		rc := zr.IOReadCloser()
		r = rc
		closers = append([]io.Closer{rc}, closers...)
	case bytes.HasPrefix(head, magicXZ):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		r = xr
	}

	r = transform.NewReader(r, unicode.BOMOverride(transform.Nop))
	return &readCloser{Reader: r, closers: closers}, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var first error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
