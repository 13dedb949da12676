package m3u

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/m3uvault/internal/models"
)

func TestWriteRoundTrip(t *testing.T) {
	in := []models.Live{
		{URL: "http://a", Title: "A, the first", Group: "News", Cover: "http://logo/a.png", TvgID: "a.id", Duration: -1},
		{URL: "http://b", Title: "B", Group: `Say "hi"`, Duration: -1,
			Headers: &models.LiveHeaders{Referrer: "http://ref", UserAgent: "UA/1.0"}},
		{URL: "http://c", Title: "", Duration: -1},
		{URL: "http://d", Title: "D", Duration: 0},
		{URL: "http://e", Title: "E", Duration: 42},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))

	out, stats, err := Parse(&buf, subURL)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	assert.Equal(t, 0, stats.Skipped)

	for i := range in {
		assert.Equal(t, in[i].URL, out[i].URL)
		assert.Equal(t, in[i].Title, out[i].Title)
		assert.Equal(t, in[i].Cover, out[i].Cover)
		assert.Equal(t, in[i].TvgID, out[i].TvgID)
		assert.Equal(t, in[i].Duration, out[i].Duration, in[i].URL)
		assert.Equal(t, subURL, out[i].SubscriptionURL)
	}
	assert.Equal(t, "News", out[0].Group)
	assert.Equal(t, "Say 'hi'", out[1].Group)
	assert.Equal(t, in[1].Headers, out[1].Headers)
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	assert.Equal(t, "#EXTM3U\n", buf.String())
}
