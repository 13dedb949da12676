package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/unicode"

	"github.com/voyagen/m3uvault/internal/m3u"
)

const playlist = `#EXTM3U
#EXTINF:-1 group-title="News",Channel A
http://example.com/a.m3u8
#EXTINF:-1 group-title="Sports",Channel B
http://example.com/b.m3u8
`

func gzipped(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstded(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func xzed(t *testing.T, s string) []byte {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func utf16BOM(t *testing.T, s string) []byte {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(s)
	require.NoError(t, err)
	return []byte(out)
}

func TestFetchDecodesBodies(t *testing.T) {
	tests := []struct {
		name string
		body func(t *testing.T) []byte
	}{
		{"plain", func(*testing.T) []byte { return []byte(playlist) }},
		{"utf8 bom", func(*testing.T) []byte { return append([]byte{0xef, 0xbb, 0xbf}, playlist...) }},
		{"utf16 bom", func(t *testing.T) []byte { return utf16BOM(t, playlist) }},
		{"gzip", func(t *testing.T) []byte { return gzipped(t, playlist) }},
		{"zstd", func(t *testing.T) []byte { return zstded(t, playlist) }},
		{"xz", func(t *testing.T) []byte { return xzed(t, playlist) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			f := New("", time.Second)
			rc, err := f.Fetch(context.Background(), srv.URL, "")
			require.NoError(t, err)
			defer rc.Close()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, playlist, string(got))
		})
	}
}

func TestFetchUserAgent(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("User-Agent"))
		mu.Unlock()
		_, _ = io.WriteString(w, playlist)
	}))
	defer srv.Close()

	f := New("Default/1.0", time.Second)
	for _, ua := range []string{"", "Custom/2.0"} {
		rc, err := f.Fetch(context.Background(), srv.URL, ua)
		require.NoError(t, err)
		rc.Close()
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Default/1.0", "Custom/2.0"}, seen)
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := New("", time.Second).Fetch(context.Background(), srv.URL, "")
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusNotFound, serr.StatusCode)
	assert.Equal(t, "HTTP 404", err.Error())
}

func TestFetchUnsupportedScheme(t *testing.T) {
	_, err := New("", time.Second).Fetch(context.Background(), "ftp://example.com/list.m3u", "")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestFetchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.m3u.gz")
	require.NoError(t, os.WriteFile(path, gzipped(t, playlist), 0o644))

	f := New("", time.Second)
	for _, u := range []string{path, "file://" + path} {
		lives, stats, err := f.FetchLives(context.Background(), u, "", "local")
		require.NoError(t, err, u)
		require.Len(t, lives, 2)
		assert.Equal(t, 2, stats.Emitted)
		assert.Equal(t, "local", lives[0].SubscriptionURL)
	}
}

func TestFetchMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, playlist)
	}))
	defer srv.Close()

	f := New("", time.Second, WithMaxBytes(16))
	_, _, err := f.FetchLives(context.Background(), srv.URL, "", srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)

	f = New("", time.Second, WithMaxBytes(int64(len(playlist))))
	lives, _, err := f.FetchLives(context.Background(), srv.URL, "", srv.URL)
	require.NoError(t, err)
	assert.Len(t, lives, 2)
}

func TestFetchLivesMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>not a playlist</html>")
	}))
	defer srv.Close()

	lives, _, err := New("", time.Second).FetchLives(context.Background(), srv.URL, "", srv.URL)
	assert.ErrorIs(t, err, m3u.ErrMalformedPlaylist)
	assert.Nil(t, lives)
}
