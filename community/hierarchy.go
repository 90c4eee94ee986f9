package community

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// HierarchyLink is one parent->child edge, fixed at child-creation time.
type HierarchyLink struct {
	ChildID       string    `json:"childId"`
	Ref           string    `json:"childRef"`
	EstablishedAt time.Time `json:"establishedAt"`
}

// ParentRef is the cached reference a child keeps to its parent.
type ParentRef struct {
	ParentID string `json:"parentId"`
	Ref      string `json:"ref"`
}

// ChildInit carries the fields for a new child community.
type ChildInit struct {
	ID          string
	Name        string
	Description string
	Ref         string // child record URI; defaults to the canonical group ref
	CreatedAt   time.Time
}

// CreateChild creates a theme-stage child under a graduated parent and
// links the two sides. The parent-side link and the child-side state are
// two separate idempotent updates, not a transaction; a retry after a
// partial failure converges.
//
// Constraints checked at write time: the parent must be graduated (a
// conflict error names its actual stage), the parent must not itself be a
// child (depth is limited to one), and the child id must not belong to an
// existing unrelated community.
func (m *Manager) CreateChild(ctx context.Context, parentID string, init ChildInit) (*CommunityConfig, error) {
	ctx, span := tracer.Start(ctx, "CreateChild")
	defer span.End()

	if !ValidGroupID(parentID) {
		return nil, &ValidationError{Field: "parentId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", parentID)}
	}
	if !ValidGroupID(init.ID) {
		return nil, &ValidationError{Field: "childId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", init.ID)}
	}
	if init.ID == parentID {
		return nil, &ValidationError{Field: "childId", Detail: "child id must differ from parent id"}
	}

	parent, err := m.getConfig(parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, &NotFoundError{Kind: "community", ID: parentID}
	}
	if parent.ParentGroup != "" {
		return nil, &HierarchyDepthError{ID: parentID}
	}
	if parent.Stage != StageGraduated {
		return nil, &StageRequirementError{ID: parentID, Required: StageGraduated, Actual: parent.Stage}
	}

	parentRef := GroupRef(parentID)
	childRef := init.Ref
	if childRef == "" {
		childRef = GroupRef(init.ID)
	}
	owners, err := m.ownerDIDs(parentID)
	if err != nil {
		return nil, err
	}

	var child *CommunityConfig
	err = m.withLock(init.ID, func() error {
		existing, err := m.getConfig(init.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			// retried creation of the same child converges; anything
			// else is a conflict
			if existing.ParentGroup == parentRef {
				child = existing
				return nil
			}
			return &DuplicateChildError{ParentID: parentID, ChildID: init.ID}
		}

		now := init.CreatedAt
		if now.IsZero() {
			now = m.now()
		}
		child = &CommunityConfig{
			ID:          init.ID,
			Name:        init.Name,
			Description: init.Description,
			Stage:       StageTheme,
			Hashtag:     Hashtag(init.ID),
			ParentGroup: parentRef,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := m.putConfig(child); err != nil {
			return err
		}
		if err := m.putParentRef(init.ID, &ParentRef{ParentID: parentID, Ref: parentRef}); err != nil {
			return err
		}
		// cached at link creation, cleared (not re-derived) when the
		// child advances past theme
		return m.putInheritedModerators(init.ID, owners)
	})
	if err != nil {
		return nil, err
	}

	if err := m.AddChild(ctx, parentID, init.ID, childRef); err != nil {
		return nil, err
	}
	return child, nil
}

// AddChild records a child link on the parent. Idempotent by child id:
// retries rewrite the same row.
func (m *Manager) AddChild(ctx context.Context, parentID, childID, childRef string) error {
	if !ValidGroupID(parentID) {
		return &ValidationError{Field: "parentId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", parentID)}
	}
	if !ValidGroupID(childID) {
		return &ValidationError{Field: "childId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", childID)}
	}
	if childRef == "" {
		childRef = GroupRef(childID)
	}
	return m.withLock(parentID, func() error {
		if _, err := m.requireConfig(parentID); err != nil {
			return err
		}
		link := HierarchyLink{ChildID: childID, Ref: childRef, EstablishedAt: m.now()}
		if raw, err := m.store.Get(keyChild(parentID, childID)); err != nil {
			return err
		} else if raw != nil {
			var existing HierarchyLink
			if err := json.Unmarshal(raw, &existing); err == nil {
				link.EstablishedAt = existing.EstablishedAt
			}
		}
		raw, err := json.Marshal(&link)
		if err != nil {
			return err
		}
		return m.store.Set(keyChild(parentID, childID), raw)
	})
}

// RemoveChild drops a child link from the parent. Idempotent: removing an
// absent link succeeds.
func (m *Manager) RemoveChild(ctx context.Context, parentID, childID string) error {
	if !ValidGroupID(parentID) {
		return &ValidationError{Field: "parentId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", parentID)}
	}
	if !ValidGroupID(childID) {
		return &ValidationError{Field: "childId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", childID)}
	}
	return m.withLock(parentID, func() error {
		if _, err := m.requireConfig(parentID); err != nil {
			return err
		}
		return m.store.Delete(keyChild(parentID, childID))
	})
}

// GetChildren returns the parent's child links in child-id order.
func (m *Manager) GetChildren(ctx context.Context, parentID string) ([]HierarchyLink, error) {
	if !ValidGroupID(parentID) {
		return nil, &ValidationError{Field: "parentId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", parentID)}
	}
	if _, err := m.requireConfig(parentID); err != nil {
		return nil, err
	}
	var out []HierarchyLink
	err := m.store.Scan(prefixChildren(parentID), func(_ string, val []byte) (bool, error) {
		var link HierarchyLink
		if err := json.Unmarshal(val, &link); err != nil {
			return false, err
		}
		out = append(out, link)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetParent returns the cached parent reference, or nil for a top-level
// community.
func (m *Manager) GetParent(ctx context.Context, id string) (*ParentRef, error) {
	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if _, err := m.requireConfig(id); err != nil {
		return nil, err
	}
	raw, err := m.store.Get(keyParent(id))
	if err != nil || raw == nil {
		return nil, err
	}
	var ref ParentRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetInheritedModerators returns the cached parent-owner DIDs a
// theme-stage child accepts moderation from. Empty once the child
// advances past theme.
func (m *Manager) GetInheritedModerators(ctx context.Context, id string) ([]string, error) {
	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if _, err := m.requireConfig(id); err != nil {
		return nil, err
	}
	return m.inheritedModerators(id)
}

// DeleteGroup removes every row for a community. Blocked with a conflict
// enumerating the still-linked children while any exist; the caller is
// responsible for the separate RemoveChild call on this community's own
// parent, if it has one.
func (m *Manager) DeleteGroup(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "DeleteGroup")
	defer span.End()

	if !ValidGroupID(id) {
		return &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	return m.withLock(id, func() error {
		if _, err := m.requireConfig(id); err != nil {
			return err
		}
		var children []ChildSummary
		err := m.store.Scan(prefixChildren(id), func(_ string, val []byte) (bool, error) {
			var link HierarchyLink
			if err := json.Unmarshal(val, &link); err != nil {
				return false, err
			}
			name := link.ChildID
			if ccfg, err := m.getConfig(link.ChildID); err == nil && ccfg != nil && ccfg.Name != "" {
				name = ccfg.Name
			}
			children = append(children, ChildSummary{ID: link.ChildID, Name: name})
			return true, nil
		})
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return &ChildrenExistError{ID: id, Children: children}
		}

		// drop this community's rows from the global URI index first
		var uris []string
		err = m.store.Scan(prefixPosts(id), func(key string, _ []byte) (bool, error) {
			if _, uri, ok := parsePostKey(id, key); ok {
				uris = append(uris, uri)
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, uri := range uris {
			if err := m.store.Delete(keyGlobalURI(uri, id)); err != nil {
				return err
			}
		}
		return m.store.DeletePrefix(prefixGroup(id))
	})
}

func (m *Manager) inheritedModerators(id string) ([]string, error) {
	raw, err := m.store.Get(keyInherited(id))
	if err != nil || raw == nil {
		return nil, err
	}
	var dids []string
	if err := json.Unmarshal(raw, &dids); err != nil {
		return nil, err
	}
	return dids, nil
}

func (m *Manager) putInheritedModerators(id string, dids []string) error {
	if dids == nil {
		dids = []string{}
	}
	raw, err := json.Marshal(dids)
	if err != nil {
		return err
	}
	return m.store.Set(keyInherited(id), raw)
}

func (m *Manager) putParentRef(id string, ref *ParentRef) error {
	raw, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	return m.store.Set(keyParent(id), raw)
}
