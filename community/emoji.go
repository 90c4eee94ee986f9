package community

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// EmojiRegistryEntry is one cached approved emoji. The registry is a pure
// read-through cache: the durable approval source of truth lives outside
// this service, so the whole registry may be discarded and rebuilt at any
// time.
type EmojiRegistryEntry struct {
	SourceRef string `json:"sourceRef"`
	BlobRef   string `json:"blobRef"`
	Animated  bool   `json:"animated,omitempty"`
}

// GetEmojiRegistry returns the community's shortcode -> emoji map.
func (m *Manager) GetEmojiRegistry(ctx context.Context, id string) (map[string]EmojiRegistryEntry, error) {
	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if _, err := m.requireConfig(id); err != nil {
		return nil, err
	}
	out := map[string]EmojiRegistryEntry{}
	prefix := prefixEmoji(id)
	err := m.store.Scan(prefix, func(key string, val []byte) (bool, error) {
		var entry EmojiRegistryEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return false, err
		}
		out[strings.TrimPrefix(key, prefix)] = entry
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateEmojiRegistry caches one approved emoji under its shortcode.
func (m *Manager) UpdateEmojiRegistry(ctx context.Context, id, shortcode string, entry EmojiRegistryEntry) error {
	if !ValidGroupID(id) {
		return &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if !shortcodePattern.MatchString(shortcode) {
		return &ValidationError{Field: "shortcode", Detail: fmt.Sprintf("%q is not a valid shortcode", shortcode)}
	}
	return m.withLock(id, func() error {
		if _, err := m.requireConfig(id); err != nil {
			return err
		}
		raw, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return m.store.Set(keyEmoji(id, shortcode), raw)
	})
}

// RemoveEmojiFromRegistry drops a revoked emoji. Idempotent.
func (m *Manager) RemoveEmojiFromRegistry(ctx context.Context, id, shortcode string) error {
	if !ValidGroupID(id) {
		return &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if !shortcodePattern.MatchString(shortcode) {
		return &ValidationError{Field: "shortcode", Detail: fmt.Sprintf("%q is not a valid shortcode", shortcode)}
	}
	return m.withLock(id, func() error {
		if _, err := m.requireConfig(id); err != nil {
			return err
		}
		return m.store.Delete(keyEmoji(id, shortcode))
	})
}

// RebuildEmojiRegistry replaces the cache wholesale from the durable
// approval list, for crash or cache-loss recovery.
func (m *Manager) RebuildEmojiRegistry(ctx context.Context, id string, approved map[string]EmojiRegistryEntry) error {
	if !ValidGroupID(id) {
		return &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	for code := range approved {
		if !shortcodePattern.MatchString(code) {
			return &ValidationError{Field: "shortcode", Detail: fmt.Sprintf("%q is not a valid shortcode", code)}
		}
	}
	return m.withLock(id, func() error {
		if _, err := m.requireConfig(id); err != nil {
			return err
		}
		if err := m.store.DeletePrefix(prefixEmoji(id)); err != nil {
			return err
		}
		for code, entry := range approved {
			raw, err := json.Marshal(&entry)
			if err != nil {
				return err
			}
			if err := m.store.Set(keyEmoji(id, code), raw); err != nil {
				return err
			}
		}
		return nil
	})
}
