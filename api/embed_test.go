package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	require.NoError(t, err)

	for _, p := range []string{
		"/api/health",
		"/api/subscriptions",
		"/api/subscriptions/{id}",
		"/api/subscriptions/{id}/refresh",
		"/api/subscriptions/{id}/playlist.m3u",
		"/api/lives",
		"/api/lives/{id}",
		"/api/lives/{id}/favourite",
		"/api/groups",
		"/api/parse",
		"/metrics",
	} {
		assert.NotNil(t, doc.Paths.Find(p), p)
	}
	assert.Contains(t, doc.Components.Schemas, "Live")
}
