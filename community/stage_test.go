package community

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageThresholds(t *testing.T) {
	ctx := context.Background()

	t.Run("theme to community", func(t *testing.T) {
		m := newTestManager(t)
		mustCreateCommunity(t, m, "a1b2c3d4", StageTheme)
		fillMembers(t, m, "a1b2c3d4", CommunityThreshold-1)

		_, err := m.ProgressStage(ctx, "a1b2c3d4", StageCommunity)
		var te *ThresholdError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, CommunityThreshold-1, te.Members)
		assert.Equal(t, CommunityThreshold, te.Required)

		mustAddMember(t, m, "a1b2c3d4", alice, RoleOwner)
		cfg, err := m.ProgressStage(ctx, "a1b2c3d4", StageCommunity)
		require.NoError(t, err)
		assert.Equal(t, StageCommunity, cfg.Stage)
	})

	t.Run("community to graduated", func(t *testing.T) {
		m := newTestManager(t)
		mustCreateCommunity(t, m, "a1b2c3d4", StageCommunity)
		fillMembers(t, m, "a1b2c3d4", GraduatedThreshold-1)

		_, err := m.ProgressStage(ctx, "a1b2c3d4", StageGraduated)
		var te *ThresholdError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, GraduatedThreshold-1, te.Members)
		assert.Equal(t, GraduatedThreshold, te.Required)

		mustAddMember(t, m, "a1b2c3d4", alice, RoleOwner)
		cfg, err := m.ProgressStage(ctx, "a1b2c3d4", StageGraduated)
		require.NoError(t, err)
		assert.Equal(t, StageGraduated, cfg.Stage)
	})
}

func TestStageInvalidTransitions(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		from Stage
		to   Stage
	}{
		{"skip a stage", StageTheme, StageGraduated},
		{"same-stage no-op", StageCommunity, StageCommunity},
		{"downgrade", StageGraduated, StageCommunity},
		{"downgrade to theme", StageCommunity, StageTheme},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t)
			mustCreateCommunity(t, m, "a1b2c3d4", tc.from)
			// plenty of members, so the rejection is structural, not
			// threshold-based
			fillMembers(t, m, "a1b2c3d4", GraduatedThreshold)

			_, err := m.ProgressStage(ctx, "a1b2c3d4", tc.to)
			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.from, te.From)
			assert.Equal(t, tc.to, te.To)
		})
	}
}

func TestStagePreservesParentGroup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateCommunity(t, m, "aaaa0000", StageGraduated)
	mustAddMember(t, m, "aaaa0000", alice, RoleOwner)

	child, err := m.CreateChild(ctx, "aaaa0000", ChildInit{ID: "bbbb0000", Name: "x"})
	require.NoError(t, err)
	require.NotEmpty(t, child.ParentGroup)

	fillMembers(t, m, "bbbb0000", CommunityThreshold)
	cfg, err := m.ProgressStage(ctx, "bbbb0000", StageCommunity)
	require.NoError(t, err)
	assert.Equal(child.ParentGroup, cfg.ParentGroup)

	fillMembers(t, m, "bbbb0000", GraduatedThreshold)
	cfg, err = m.ProgressStage(ctx, "bbbb0000", StageGraduated)
	require.NoError(t, err)
	assert.Equal(child.ParentGroup, cfg.ParentGroup)
}

func TestStageInactiveMembersDontCount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateCommunity(t, m, "a1b2c3d4", StageTheme)
	fillMembers(t, m, "a1b2c3d4", CommunityThreshold-1)
	require.NoError(t, m.AddMember(ctx, "a1b2c3d4", Membership{
		DID: alice, Role: RoleMember, Active: false,
	}))

	_, err := m.ProgressStage(ctx, "a1b2c3d4", StageCommunity)
	var te *ThresholdError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CommunityThreshold-1, te.Members)
}
