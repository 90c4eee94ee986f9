package community

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ModAction is a moderation action kind.
type ModAction string

const (
	ActionHidePost    ModAction = "hide_post"
	ActionUnhidePost  ModAction = "unhide_post"
	ActionBlockUser   ModAction = "block_user"
	ActionUnblockUser ModAction = "unblock_user"
)

func (a ModAction) Valid() bool {
	switch a {
	case ActionHidePost, ActionUnhidePost, ActionBlockUser, ActionUnblockUser:
		return true
	}
	return false
}

func (a ModAction) targetsPost() bool {
	return a == ActionHidePost || a == ActionUnhidePost
}

const (
	targetKindPost = "post"
	targetKindUser = "user"
)

var modReasons = map[string]bool{
	"spam":            true,
	"low_quality":     true,
	"duplicate":       true,
	"off_topic":       true,
	"wrong_community": true,
	"guidelines":      true,
	"terms":           true,
	"copyright":       true,
	"harassment":      true,
	"other":           true,
}

// ModerationAction is one decision in the moderation log. EffectiveAt is
// the record's own claimed timestamp and drives conflict resolution;
// AppliedAt is when this actor processed it.
type ModerationAction struct {
	Action       ModAction `json:"action"`
	Target       string    `json:"target"`
	ModeratorDID string    `json:"moderatorDid"`
	Reason       string    `json:"reason,omitempty"`
	EffectiveAt  time.Time `json:"effectiveTimestamp"`
	AppliedAt    time.Time `json:"appliedAt"`
}

// Moderate applies a moderation action with last-write-wins semantics
// keyed on the action's own effective timestamp, not arrival order: a
// late-arriving action older than the stored decision for the same target
// is recorded in the log but does not change derived status. This keeps
// the outcome stable under out-of-order redelivery.
//
// Authority comes from an owner or moderator membership row, or, while
// the community is theme-stage, from the cached inherited parent-owner
// set.
func (m *Manager) Moderate(ctx context.Context, id string, act ModerationAction) (*ModerationAction, error) {
	ctx, span := tracer.Start(ctx, "Moderate")
	defer span.End()

	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if !act.Action.Valid() {
		return nil, &ValidationError{Field: "action", Detail: fmt.Sprintf("unknown action %q", act.Action)}
	}
	if !ValidDID(act.ModeratorDID) {
		return nil, &ValidationError{Field: "moderatorDid", Detail: fmt.Sprintf("%q is not a DID", act.ModeratorDID)}
	}
	if act.Reason != "" && !modReasons[act.Reason] {
		return nil, &ValidationError{Field: "reason", Detail: fmt.Sprintf("unknown reason %q", act.Reason)}
	}
	if act.EffectiveAt.IsZero() {
		return nil, &ValidationError{Field: "effectiveTimestamp", Detail: "must not be zero"}
	}
	kind := targetKindUser
	if act.Action.targetsPost() {
		kind = targetKindPost
		if act.Target == "" {
			return nil, &ValidationError{Field: "target", Detail: "must be a post URI"}
		}
	} else if !ValidDID(act.Target) {
		return nil, &ValidationError{Field: "target", Detail: fmt.Sprintf("%q is not a DID", act.Target)}
	}

	var out *ModerationAction
	err := m.withLock(id, func() error {
		cfg, err := m.requireConfig(id)
		if err != nil {
			return err
		}
		ok, err := m.hasModerationAuthority(cfg, act.ModeratorDID)
		if err != nil {
			return err
		}
		if !ok {
			return &PermissionError{DID: act.ModeratorDID, Capability: "moderator role in community " + id}
		}

		if act.Action.targetsPost() {
			entry, err := m.getPostEntry(id, act.Target)
			if err != nil {
				return err
			}
			if entry == nil {
				return &NotFoundError{Kind: "post", ID: act.Target}
			}
		}

		act.AppliedAt = m.now()
		if err := m.appendModLog(id, &act); err != nil {
			return err
		}

		current, err := m.getDecision(id, kind, act.Target)
		if err != nil {
			return err
		}
		if current != nil && !supersedes(&act, current) {
			// accepted into the log, but an effectively-later decision
			// already stands
			out = &act
			return nil
		}
		if err := m.putDecision(id, kind, &act); err != nil {
			return err
		}
		if err := m.applyDecision(id, &act); err != nil {
			return err
		}
		out = &act
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetModerationLog returns every accepted action for a community, oldest
// first.
func (m *Manager) GetModerationLog(ctx context.Context, id string) ([]ModerationAction, error) {
	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if _, err := m.requireConfig(id); err != nil {
		return nil, err
	}
	var out []ModerationAction
	err := m.store.Scan(prefixModLog(id), func(_ string, val []byte) (bool, error) {
		var act ModerationAction
		if err := json.Unmarshal(val, &act); err != nil {
			return false, err
		}
		out = append(out, act)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) hasModerationAuthority(cfg *CommunityConfig, did string) (bool, error) {
	mem, err := m.getMember(cfg.ID, did)
	if err != nil {
		return false, err
	}
	if mem != nil && mem.Active && (mem.Role == RoleOwner || mem.Role == RoleModerator) {
		return true, nil
	}
	if cfg.Stage != StageTheme {
		return false, nil
	}
	inherited, err := m.inheritedModerators(cfg.ID)
	if err != nil {
		return false, err
	}
	for _, d := range inherited {
		if d == did {
			return true, nil
		}
	}
	return false, nil
}

// supersedes reports whether a beats b under last-write-wins. Ties on the
// effective timestamp break on the action name, so replay order never
// changes the outcome.
func supersedes(a, b *ModerationAction) bool {
	if !a.EffectiveAt.Equal(b.EffectiveAt) {
		return a.EffectiveAt.After(b.EffectiveAt)
	}
	return a.Action >= b.Action
}

func (m *Manager) appendModLog(id string, act *ModerationAction) error {
	raw, err := json.Marshal(act)
	if err != nil {
		return err
	}
	// keyed by effective time + action + target: an exact redelivery
	// overwrites its own log row instead of duplicating it
	key := keyModLog(id, fmt.Sprintf("%016x", act.EffectiveAt.UnixMicro()), string(act.Action), act.Target)
	return m.store.Set(key, raw)
}

func (m *Manager) getDecision(id, kind, target string) (*ModerationAction, error) {
	raw, err := m.store.Get(keyDecision(id, kind, target))
	if err != nil || raw == nil {
		return nil, err
	}
	var act ModerationAction
	if err := json.Unmarshal(raw, &act); err != nil {
		return nil, err
	}
	return &act, nil
}

func (m *Manager) putDecision(id, kind string, act *ModerationAction) error {
	raw, err := json.Marshal(act)
	if err != nil {
		return err
	}
	return m.store.Set(keyDecision(id, kind, act.Target), raw)
}

func (m *Manager) applyDecision(id string, act *ModerationAction) error {
	switch act.Action {
	case ActionHidePost, ActionUnhidePost:
		entry, err := m.getPostEntry(id, act.Target)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		if act.Action == ActionHidePost {
			entry.Status = StatusHidden
		} else {
			entry.Status = StatusApproved
		}
		return m.putPostEntry(id, entry)
	case ActionBlockUser:
		return m.store.Set(keyBlock(id, act.Target), []byte(`{}`))
	case ActionUnblockUser:
		return m.store.Delete(keyBlock(id, act.Target))
	}
	return nil
}
