package community

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmojiRegistry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateCommunity(t, m, "a1b2c3d4", StageTheme)

	party := EmojiRegistryEntry{SourceRef: "at://did:plc:alice/net.atrarium.emoji/1", BlobRef: "bafyparty"}
	require.NoError(t, m.UpdateEmojiRegistry(ctx, "a1b2c3d4", "party", party))
	require.NoError(t, m.UpdateEmojiRegistry(ctx, "a1b2c3d4", "wave", EmojiRegistryEntry{
		SourceRef: "at://did:plc:bob/net.atrarium.emoji/2", BlobRef: "bafywave", Animated: true,
	}))

	reg, err := m.GetEmojiRegistry(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Len(reg, 2)
	assert.Equal(party, reg["party"])

	require.NoError(t, m.RemoveEmojiFromRegistry(ctx, "a1b2c3d4", "wave"))
	// revoking twice is fine, the registry is a cache
	require.NoError(t, m.RemoveEmojiFromRegistry(ctx, "a1b2c3d4", "wave"))

	reg, err = m.GetEmojiRegistry(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Len(reg, 1)
}

func TestEmojiRegistryRebuild(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateCommunity(t, m, "a1b2c3d4", StageTheme)

	require.NoError(t, m.UpdateEmojiRegistry(ctx, "a1b2c3d4", "stale", EmojiRegistryEntry{BlobRef: "bafystale"}))

	approved := map[string]EmojiRegistryEntry{
		"party": {SourceRef: "at://did:plc:alice/net.atrarium.emoji/1", BlobRef: "bafyparty"},
		"wave":  {SourceRef: "at://did:plc:bob/net.atrarium.emoji/2", BlobRef: "bafywave"},
	}
	require.NoError(t, m.RebuildEmojiRegistry(ctx, "a1b2c3d4", approved))

	reg, err := m.GetEmojiRegistry(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(approved, reg)
	assert.NotContains(reg, "stale")
}

func TestEmojiShortcodeValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateCommunity(t, m, "a1b2c3d4", StageTheme)

	var ve *ValidationError
	err := m.UpdateEmojiRegistry(ctx, "a1b2c3d4", "Not Valid!", EmojiRegistryEntry{})
	require.ErrorAs(t, err, &ve)
}
