package community

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// Stage is the three-tier community maturity model. Every community starts
// as a theme; growth past the Dunbar thresholds unlocks the later stages.
type Stage string

const (
	StageTheme     Stage = "theme"
	StageCommunity Stage = "community"
	StageGraduated Stage = "graduated"
)

func (s Stage) Valid() bool {
	switch s {
	case StageTheme, StageCommunity, StageGraduated:
		return true
	}
	return false
}

// Role is the membership role within one community.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleModerator, RoleMember:
		return true
	}
	return false
}

var (
	groupIDPattern   = regexp.MustCompile(`^[0-9a-f]{8}$`)
	shortcodePattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)
)

// ValidGroupID reports whether id is an 8-hex-char group token.
func ValidGroupID(id string) bool {
	return groupIDPattern.MatchString(id)
}

// ValidDID reports whether s is a syntactically valid DID.
func ValidDID(s string) bool {
	_, err := syntax.ParseDID(s)
	return err == nil
}

// Hashtag derives the community tag used in generic-schema posts.
func Hashtag(id string) string {
	return "#atrarium_" + id
}

// GroupRef is the canonical URI reference for a community used in
// hierarchy links when the upstream record did not provide one.
func GroupRef(id string) string {
	return "atrarium://group/" + id
}

// ParseGroupRef extracts the group id from a group reference: the record
// key of an at-uri, or the trailing path segment of a canonical
// atrarium:// ref.
func ParseGroupRef(ref string) (string, bool) {
	if strings.HasPrefix(ref, "at://") {
		aturi, err := syntax.ParseATURI(ref)
		if err != nil {
			return "", false
		}
		rkey := aturi.RecordKey()
		if id := rkey.String(); ValidGroupID(id) {
			return id, true
		}
		return "", false
	}
	idx := strings.LastIndexByte(ref, '/')
	if idx < 0 || idx == len(ref)-1 {
		return "", false
	}
	id := ref[idx+1:]
	if !ValidGroupID(id) {
		return "", false
	}
	return id, true
}

// CommunityConfig is the stored configuration for one community.
// ParentGroup, once set, is never rewritten; stage changes leave it
// untouched.
type CommunityConfig struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Stage       Stage     `json:"stage"`
	Hashtag     string    `json:"hashtag"`
	ParentGroup string    `json:"parentGroup,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ConfigUpdate carries partial config fields for UpdateConfig. Nil fields
// are left alone.
type ConfigUpdate struct {
	Name        *string
	Description *string
	Stage       *Stage
	ParentGroup *string
	Time        time.Time
}

// UpdateConfig merges partial fields into the stored config, creating the
// community on first call. This is a raw setter: stage values are written
// as given, with no transition validation (ProgressStage owns that), so it
// serves both legitimate transitions and hierarchy bootstrapping. The one
// rule enforced here is ParentGroup immutability.
func (m *Manager) UpdateConfig(ctx context.Context, id string, upd ConfigUpdate) (*CommunityConfig, error) {
	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if upd.Stage != nil && !upd.Stage.Valid() {
		return nil, &ValidationError{Field: "stage", Detail: fmt.Sprintf("unknown stage %q", *upd.Stage)}
	}

	var out *CommunityConfig
	err := m.withLock(id, func() error {
		cfg, err := m.getConfig(id)
		if err != nil {
			return err
		}
		now := upd.Time
		if now.IsZero() {
			now = m.now()
		}

		if cfg == nil {
			cfg = &CommunityConfig{
				ID:        id,
				Stage:     StageTheme,
				Hashtag:   Hashtag(id),
				CreatedAt: now,
			}
			if upd.Stage != nil {
				cfg.Stage = *upd.Stage
			}
			if upd.ParentGroup != nil && *upd.ParentGroup != "" {
				if cfg.Stage != StageTheme {
					return &ValidationError{Field: "parentGroup", Detail: "only a theme-stage community may reference a parent"}
				}
				cfg.ParentGroup = *upd.ParentGroup
			}
		} else {
			if upd.Stage != nil {
				cfg.Stage = *upd.Stage
			}
			if upd.ParentGroup != nil && *upd.ParentGroup != "" && *upd.ParentGroup != cfg.ParentGroup {
				if cfg.ParentGroup != "" {
					return &ValidationError{Field: "parentGroup", Detail: "parent reference is immutable once set"}
				}
				if cfg.Stage != StageTheme {
					return &ValidationError{Field: "parentGroup", Detail: "only a theme-stage community may reference a parent"}
				}
				cfg.ParentGroup = *upd.ParentGroup
			}
		}
		if upd.Name != nil {
			cfg.Name = *upd.Name
		}
		if upd.Description != nil {
			cfg.Description = *upd.Description
		}
		cfg.UpdatedAt = now

		if err := m.putConfig(cfg); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetConfig reads the stored config for a community.
func (m *Manager) GetConfig(ctx context.Context, id string) (*CommunityConfig, error) {
	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	cfg, err := m.getConfig(id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &NotFoundError{Kind: "community", ID: id}
	}
	return cfg, nil
}

// ListCommunities returns the ids of every known community, in key order.
func (m *Manager) ListCommunities(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.store.Scan("g/", func(key string, _ []byte) (bool, error) {
		if strings.HasSuffix(key, "/cfg") {
			parts := strings.SplitN(key, "/", 3)
			if len(parts) == 3 && ValidGroupID(parts[1]) {
				ids = append(ids, parts[1])
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) getConfig(id string) (*CommunityConfig, error) {
	raw, err := m.store.Get(keyConfig(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var cfg CommunityConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config for %s: %w", id, err)
	}
	return &cfg, nil
}

func (m *Manager) putConfig(cfg *CommunityConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return m.store.Set(keyConfig(cfg.ID), raw)
}

// requireConfig loads a config, translating absence into a not-found
// error. Callers must hold the community lock if they intend to mutate.
func (m *Manager) requireConfig(id string) (*CommunityConfig, error) {
	cfg, err := m.getConfig(id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &NotFoundError{Kind: "community", ID: id}
	}
	return cfg, nil
}
