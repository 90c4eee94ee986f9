package community

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvertMicrosOrdering(t *testing.T) {
	assert := assert.New(t)

	older := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	// newer posts must sort first under an ascending key scan
	assert.Less(invertMicros(newer), invertMicros(older))
	assert.Len(invertMicros(newer), 16)

	back, err := unInvertMicros(invertMicros(older))
	require.NoError(t, err)
	assert.True(back.Equal(older))
}

func TestParsePostKey(t *testing.T) {
	assert := assert.New(t)

	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	uri := "at://did:plc:alice/net.atrarium.group.post/3k44"
	key := keyPost("a1b2c3d4", invertMicros(ts), uri)

	inv, gotURI, ok := parsePostKey("a1b2c3d4", key)
	require.True(t, ok)
	assert.Equal(invertMicros(ts), inv)
	// the URI keeps its internal slashes intact
	assert.Equal(uri, gotURI)

	_, _, ok = parsePostKey("ffff0000", key)
	assert.False(ok)
	_, _, ok = parsePostKey("a1b2c3d4", prefixPosts("a1b2c3d4")+"short")
	assert.False(ok)
}
