package community

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store, slog.Default())
}

func strPtr(s string) *string { return &s }

func stagePtr(s Stage) *Stage { return &s }

func mustCreateCommunity(t *testing.T, m *Manager, id string, stage Stage) {
	t.Helper()
	_, err := m.UpdateConfig(context.Background(), id, ConfigUpdate{
		Name:  strPtr("test " + id),
		Stage: stagePtr(stage),
	})
	require.NoError(t, err)
}

func mustAddMember(t *testing.T, m *Manager, id, did string, role Role) {
	t.Helper()
	require.NoError(t, m.AddMember(context.Background(), id, Membership{
		DID:      did,
		Role:     role,
		JoinedAt: time.Now(),
		Active:   true,
	}))
}

func fillMembers(t *testing.T, m *Manager, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		mustAddMember(t, m, id, fmt.Sprintf("did:plc:filler%04d", i), RoleMember)
	}
}
