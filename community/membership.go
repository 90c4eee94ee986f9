package community

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Membership is one (community, did) row. Unique per DID within a
// community; the count of active rows drives stage thresholds.
type Membership struct {
	DID      string    `json:"did"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
	Active   bool      `json:"active"`
}

// AddMember upserts a membership row. Idempotent: redelivering the same
// event rewrites the same row.
func (m *Manager) AddMember(ctx context.Context, id string, mem Membership) error {
	if !ValidGroupID(id) {
		return &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if !ValidDID(mem.DID) {
		return &ValidationError{Field: "did", Detail: fmt.Sprintf("%q is not a DID", mem.DID)}
	}
	if !mem.Role.Valid() {
		return &ValidationError{Field: "role", Detail: fmt.Sprintf("unknown role %q", mem.Role)}
	}

	return m.withLock(id, func() error {
		if _, err := m.requireConfig(id); err != nil {
			return err
		}
		if mem.JoinedAt.IsZero() {
			mem.JoinedAt = m.now()
		}
		raw, err := json.Marshal(&mem)
		if err != nil {
			return err
		}
		return m.store.Set(keyMember(id, mem.DID), raw)
	})
}

// RemoveMember deletes a membership row. Idempotent: removing an absent
// member succeeds.
func (m *Manager) RemoveMember(ctx context.Context, id, did string) error {
	if !ValidGroupID(id) {
		return &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if !ValidDID(did) {
		return &ValidationError{Field: "did", Detail: fmt.Sprintf("%q is not a DID", did)}
	}
	return m.withLock(id, func() error {
		if _, err := m.requireConfig(id); err != nil {
			return err
		}
		return m.store.Delete(keyMember(id, did))
	})
}

// GetMembers returns every membership row for a community, in DID order.
func (m *Manager) GetMembers(ctx context.Context, id string) ([]Membership, error) {
	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if _, err := m.requireConfig(id); err != nil {
		return nil, err
	}
	var out []Membership
	err := m.store.Scan(prefixMembers(id), func(_ string, val []byte) (bool, error) {
		var mem Membership
		if err := json.Unmarshal(val, &mem); err != nil {
			return false, err
		}
		out = append(out, mem)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) getMember(id, did string) (*Membership, error) {
	raw, err := m.store.Get(keyMember(id, did))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var mem Membership
	if err := json.Unmarshal(raw, &mem); err != nil {
		return nil, err
	}
	return &mem, nil
}

func (m *Manager) countActiveMembers(id string) (int, error) {
	count := 0
	err := m.store.Scan(prefixMembers(id), func(_ string, val []byte) (bool, error) {
		var mem Membership
		if err := json.Unmarshal(val, &mem); err != nil {
			return false, err
		}
		if mem.Active {
			count++
		}
		return true, nil
	})
	return count, err
}

// ownerDIDs returns the DIDs holding the owner role, used to seed a
// child's inherited-moderator cache at link creation time.
func (m *Manager) ownerDIDs(id string) ([]string, error) {
	var out []string
	err := m.store.Scan(prefixMembers(id), func(_ string, val []byte) (bool, error) {
		var mem Membership
		if err := json.Unmarshal(val, &mem); err != nil {
			return false, err
		}
		if mem.Active && mem.Role == RoleOwner {
			out = append(out, mem.DID)
		}
		return true, nil
	})
	return out, err
}
