package community

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupModeratedCommunity(t *testing.T) (*Manager, Post) {
	t.Helper()
	m := newTestManager(t)
	mustCreateCommunity(t, m, "a1b2c3d4", StageTheme)
	mustAddMember(t, m, "a1b2c3d4", alice, RoleOwner)
	mustAddMember(t, m, "a1b2c3d4", bob, RoleMember)

	p := Post{
		URI:       postURI(bob, 1),
		AuthorDID: bob,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, m.IndexPost(context.Background(), "a1b2c3d4", p))
	return m, p
}

func TestModerationLastWriteWins(t *testing.T) {
	// hide at T1 and unhide at T2 > T1 must leave the post approved no
	// matter which order the two actions arrive in
	t1 := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	for name, order := range map[string][]ModAction{
		"in order":     {ActionHidePost, ActionUnhidePost},
		"out of order": {ActionUnhidePost, ActionHidePost},
	} {
		t.Run(name, func(t *testing.T) {
			m, p := setupModeratedCommunity(t)
			ctx := context.Background()

			effective := map[ModAction]time.Time{
				ActionHidePost:   t1,
				ActionUnhidePost: t2,
			}
			for _, action := range order {
				_, err := m.Moderate(ctx, "a1b2c3d4", ModerationAction{
					Action:       action,
					Target:       p.URI,
					ModeratorDID: alice,
					EffectiveAt:  effective[action],
				})
				require.NoError(t, err)
			}

			skel, err := m.GetFeedSkeleton(ctx, "a1b2c3d4", 0, "")
			require.NoError(t, err)
			assert.Equal(t, []string{p.URI}, skel.Items)

			// both actions made it into the log regardless
			log, err := m.GetModerationLog(ctx, "a1b2c3d4")
			require.NoError(t, err)
			assert.Len(t, log, 2)
		})
	}
}

func TestModerationRequiresAuthority(t *testing.T) {
	m, p := setupModeratedCommunity(t)
	ctx := context.Background()

	// plain members cannot moderate
	_, err := m.Moderate(ctx, "a1b2c3d4", ModerationAction{
		Action: ActionHidePost, Target: p.URI, ModeratorDID: bob,
		EffectiveAt: time.Now(),
	})
	var pe *PermissionError
	require.ErrorAs(t, err, &pe)

	// neither can strangers
	_, err = m.Moderate(ctx, "a1b2c3d4", ModerationAction{
		Action: ActionHidePost, Target: p.URI, ModeratorDID: carol,
		EffectiveAt: time.Now(),
	})
	require.ErrorAs(t, err, &pe)
}

func TestModerationUnknownTarget(t *testing.T) {
	m, _ := setupModeratedCommunity(t)

	_, err := m.Moderate(context.Background(), "a1b2c3d4", ModerationAction{
		Action: ActionHidePost, Target: postURI(bob, 99), ModeratorDID: alice,
		EffectiveAt: time.Now(),
	})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "post", nf.Kind)
}

func TestModerationValidation(t *testing.T) {
	m, p := setupModeratedCommunity(t)
	ctx := context.Background()

	var ve *ValidationError
	_, err := m.Moderate(ctx, "a1b2c3d4", ModerationAction{
		Action: "nuke_from_orbit", Target: p.URI, ModeratorDID: alice,
		EffectiveAt: time.Now(),
	})
	require.ErrorAs(t, err, &ve)

	_, err = m.Moderate(ctx, "a1b2c3d4", ModerationAction{
		Action: ActionHidePost, Target: p.URI, ModeratorDID: alice,
		Reason: "bad vibes", EffectiveAt: time.Now(),
	})
	require.ErrorAs(t, err, &ve)

	// user actions must target a DID
	_, err = m.Moderate(ctx, "a1b2c3d4", ModerationAction{
		Action: ActionBlockUser, Target: p.URI, ModeratorDID: alice,
		EffectiveAt: time.Now(),
	})
	require.ErrorAs(t, err, &ve)
}

func TestBlockUserFiltersFeed(t *testing.T) {
	assert := assert.New(t)
	m, p := setupModeratedCommunity(t)
	ctx := context.Background()

	_, err := m.Moderate(ctx, "a1b2c3d4", ModerationAction{
		Action: ActionBlockUser, Target: bob, ModeratorDID: alice,
		EffectiveAt: time.Now(),
	})
	require.NoError(t, err)

	skel, err := m.GetFeedSkeleton(ctx, "a1b2c3d4", 0, "")
	require.NoError(t, err)
	assert.Empty(skel.Items)

	_, err = m.Moderate(ctx, "a1b2c3d4", ModerationAction{
		Action: ActionUnblockUser, Target: bob, ModeratorDID: alice,
		EffectiveAt: time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	skel, err = m.GetFeedSkeleton(ctx, "a1b2c3d4", 0, "")
	require.NoError(t, err)
	assert.Equal([]string{p.URI}, skel.Items)
}

func TestModerationRedeliveryConverges(t *testing.T) {
	// exact redelivery of the same action overwrites its own log row and
	// leaves the derived state unchanged
	assert := assert.New(t)
	m, p := setupModeratedCommunity(t)
	ctx := context.Background()

	act := ModerationAction{
		Action: ActionHidePost, Target: p.URI, ModeratorDID: alice,
		Reason: "spam", EffectiveAt: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
	}
	for i := 0; i < 3; i++ {
		_, err := m.Moderate(ctx, "a1b2c3d4", act)
		require.NoError(t, err)
	}

	log, err := m.GetModerationLog(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Len(log, 1)

	skel, err := m.GetFeedSkeleton(ctx, "a1b2c3d4", 0, "")
	require.NoError(t, err)
	assert.Empty(skel.Items)
}
