package community

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipUpsertIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateCommunity(t, m, "a1b2c3d4", StageTheme)

	mem := Membership{DID: bob, Role: RoleMember, JoinedAt: time.Now(), Active: true}
	require.NoError(t, m.AddMember(ctx, "a1b2c3d4", mem))
	require.NoError(t, m.AddMember(ctx, "a1b2c3d4", mem))

	members, err := m.GetMembers(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Len(members, 1)
	assert.Equal(bob, members[0].DID)

	// role changes rewrite the same row
	mem.Role = RoleModerator
	require.NoError(t, m.AddMember(ctx, "a1b2c3d4", mem))
	members, err = m.GetMembers(ctx, "a1b2c3d4")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(RoleModerator, members[0].Role)
}

func TestRemoveMemberIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateCommunity(t, m, "a1b2c3d4", StageTheme)
	mustAddMember(t, m, "a1b2c3d4", bob, RoleMember)

	require.NoError(t, m.RemoveMember(ctx, "a1b2c3d4", bob))
	require.NoError(t, m.RemoveMember(ctx, "a1b2c3d4", bob))

	members, err := m.GetMembers(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Empty(members)
}

func TestMembershipValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateCommunity(t, m, "a1b2c3d4", StageTheme)

	var ve *ValidationError
	err := m.AddMember(ctx, "a1b2c3d4", Membership{DID: "not-a-did", Role: RoleMember})
	require.ErrorAs(t, err, &ve)

	err = m.AddMember(ctx, "a1b2c3d4", Membership{DID: bob, Role: "emperor"})
	require.ErrorAs(t, err, &ve)

	err = m.AddMember(ctx, "deadbeef", Membership{DID: bob, Role: RoleMember})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}
