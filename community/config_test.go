package community

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateConfigCreatesAndMerges(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newTestManager(t)

	cfg, err := m.UpdateConfig(ctx, "a1b2c3d4", ConfigUpdate{Name: strPtr("birders")})
	require.NoError(t, err)
	assert.Equal("a1b2c3d4", cfg.ID)
	assert.Equal(StageTheme, cfg.Stage)
	assert.Equal("#atrarium_a1b2c3d4", cfg.Hashtag)

	cfg, err = m.UpdateConfig(ctx, "a1b2c3d4", ConfigUpdate{Description: strPtr("bird watching")})
	require.NoError(t, err)
	assert.Equal("birders", cfg.Name)
	assert.Equal("bird watching", cfg.Description)

	got, err := m.GetConfig(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(cfg.Name, got.Name)
}

func TestGetConfigUnknown(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetConfig(context.Background(), "deadbeef")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "community", nf.Kind)
}

func TestUpdateConfigValidation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newTestManager(t)

	var ve *ValidationError
	_, err := m.UpdateConfig(ctx, "not-a-group-id", ConfigUpdate{})
	assert.ErrorAs(err, &ve)

	bad := Stage("legendary")
	_, err = m.UpdateConfig(ctx, "a1b2c3d4", ConfigUpdate{Stage: &bad})
	assert.ErrorAs(err, &ve)
}

func TestParentGroupImmutable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newTestManager(t)

	cfg, err := m.UpdateConfig(ctx, "c0ffee00", ConfigUpdate{ParentGroup: strPtr(GroupRef("abcd0123"))})
	require.NoError(t, err)
	assert.Equal(GroupRef("abcd0123"), cfg.ParentGroup)

	// rewriting to a different parent is rejected
	var ve *ValidationError
	_, err = m.UpdateConfig(ctx, "c0ffee00", ConfigUpdate{ParentGroup: strPtr(GroupRef("ffff0000"))})
	assert.ErrorAs(err, &ve)

	// the same value is a no-op, not an error
	_, err = m.UpdateConfig(ctx, "c0ffee00", ConfigUpdate{ParentGroup: strPtr(GroupRef("abcd0123"))})
	assert.NoError(err)
}

func TestParentGroupRequiresThemeAtCreation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	var ve *ValidationError
	_, err := m.UpdateConfig(ctx, "c0ffee01", ConfigUpdate{
		Stage:       stagePtr(StageGraduated),
		ParentGroup: strPtr(GroupRef("abcd0123")),
	})
	require.ErrorAs(t, err, &ve)
}

func TestParseGroupRef(t *testing.T) {
	assert := assert.New(t)

	id, ok := ParseGroupRef("atrarium://group/a1b2c3d4")
	assert.True(ok)
	assert.Equal("a1b2c3d4", id)

	id, ok = ParseGroupRef("at://did:plc:abc/net.atrarium.group.config/deadbeef")
	assert.True(ok)
	assert.Equal("deadbeef", id)

	_, ok = ParseGroupRef("at://did:plc:abc/net.atrarium.group.config/nothex")
	assert.False(ok)
	// an at-uri without a record key names no community
	_, ok = ParseGroupRef("at://did:plc:abc")
	assert.False(ok)
	_, ok = ParseGroupRef("at://not a did/x/a1b2c3d4")
	assert.False(ok)
	_, ok = ParseGroupRef("")
	assert.False(ok)
}

func TestListCommunities(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newTestManager(t)

	mustCreateCommunity(t, m, "00000001", StageTheme)
	mustCreateCommunity(t, m, "00000002", StageTheme)

	ids, err := m.ListCommunities(ctx)
	require.NoError(t, err)
	assert.Equal([]string{"00000001", "00000002"}, ids)
}
