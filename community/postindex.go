package community

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ModerationStatus of a post index entry.
type ModerationStatus string

const (
	StatusApproved ModerationStatus = "approved"
	StatusHidden   ModerationStatus = "hidden"
)

// DefaultRetention is the post index TTL window, measured from each
// post's own creation time.
const DefaultRetention = 7 * 24 * time.Hour

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 100
)

// Post is one ingested post headed for a community's index.
// SourceGroupID is set only on the aggregation call a router makes to a
// parent actor after the owning child accepted the post.
type Post struct {
	URI           string    `json:"uri"`
	AuthorDID     string    `json:"authorDid"`
	CreatedAt     time.Time `json:"createdAt"`
	SourceGroupID string    `json:"sourceGroupId,omitempty"`
}

// PostIndexEntry is the stored row for one indexed post.
type PostIndexEntry struct {
	URI           string           `json:"uri"`
	AuthorDID     string           `json:"authorDid"`
	CreatedAt     time.Time        `json:"createdAt"`
	Status        ModerationStatus `json:"moderationStatus"`
	SourceGroupID string           `json:"sourceGroupId,omitempty"`
}

// FeedSkeleton is the ordered page of post URIs a community exposes.
// Cursor is empty when no further pages exist.
type FeedSkeleton struct {
	Items  []string `json:"items"`
	Cursor string   `json:"cursor,omitempty"`
}

// IndexPost inserts or overwrites a post index entry keyed by URI.
//
// Dual verification: the community match happened upstream in the parser;
// here the author must hold an active membership, or the call fails with a
// permission error. Aggregated posts (SourceGroupID set) skip the check,
// since the owning child already verified membership.
//
// Redelivery of the same event rewrites the same entry; a post already
// hidden by a standing moderation decision stays hidden.
func (m *Manager) IndexPost(ctx context.Context, id string, p Post) error {
	ctx, span := tracer.Start(ctx, "IndexPost")
	defer span.End()

	if !ValidGroupID(id) {
		return &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if p.URI == "" {
		return &ValidationError{Field: "uri", Detail: "must not be empty"}
	}
	if !ValidDID(p.AuthorDID) {
		return &ValidationError{Field: "authorDid", Detail: fmt.Sprintf("%q is not a DID", p.AuthorDID)}
	}
	if p.CreatedAt.IsZero() {
		return &ValidationError{Field: "createdAt", Detail: "must not be zero"}
	}

	return m.withLock(id, func() error {
		if _, err := m.requireConfig(id); err != nil {
			return err
		}
		if p.SourceGroupID == "" {
			mem, err := m.getMember(id, p.AuthorDID)
			if err != nil {
				return err
			}
			if mem == nil || !mem.Active {
				return &PermissionError{DID: p.AuthorDID, Capability: "active membership in community " + id}
			}
		}

		entry := PostIndexEntry{
			URI:           p.URI,
			AuthorDID:     p.AuthorDID,
			CreatedAt:     p.CreatedAt,
			Status:        StatusApproved,
			SourceGroupID: p.SourceGroupID,
		}
		dec, err := m.getDecision(id, targetKindPost, p.URI)
		if err != nil {
			return err
		}
		if dec != nil && dec.Action == ActionHidePost {
			entry.Status = StatusHidden
		}
		return m.putPostEntry(id, &entry)
	})
}

// RemovePost deletes a post from every community indexing it, including
// parents holding aggregated copies. Driven by relay delete events;
// removing an unknown URI is a no-op.
func (m *Manager) RemovePost(ctx context.Context, uri string) error {
	if uri == "" {
		return &ValidationError{Field: "uri", Detail: "must not be empty"}
	}
	var ids []string
	err := m.store.Scan(prefixGlobalURI(uri), func(key string, _ []byte) (bool, error) {
		idx := strings.LastIndexByte(key, '/')
		if id := key[idx+1:]; ValidGroupID(id) {
			ids = append(ids, id)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		err := m.withLock(id, func() error {
			return m.deletePostEntry(id, uri)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GetFeedSkeleton returns post URIs in strict reverse-chronological order,
// ties broken by URI. Hidden entries are excluded, as are entries whose
// author is blocked in this community or, for aggregated entries, in the
// source child. Work is bounded by the requested page size plus cursor
// decode; the scan starts at the cursor position and stops one eligible
// entry past the page.
func (m *Manager) GetFeedSkeleton(ctx context.Context, id string, limit int, cursor string) (*FeedSkeleton, error) {
	ctx, span := tracer.Start(ctx, "GetFeedSkeleton")
	defer span.End()

	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if limit < 0 || limit > maxFeedLimit {
		return nil, &ValidationError{Field: "limit", Detail: fmt.Sprintf("must be non-negative and at most %d", maxFeedLimit)}
	}
	if limit == 0 {
		limit = defaultFeedLimit
	}
	if _, err := m.requireConfig(id); err != nil {
		return nil, err
	}

	blocked, err := m.blockedSet(id)
	if err != nil {
		return nil, err
	}
	// lazily loaded per source child for aggregated entries
	childBlocked := map[string]map[string]bool{}

	scan := func(fn func(key string, val []byte) (bool, error)) error {
		if cursor == "" {
			return m.store.Scan(prefixPosts(id), fn)
		}
		ts, uri, err := decodeCursor(cursor)
		if err != nil {
			return err
		}
		after := keyPost(id, invertMicros(ts), uri)
		return m.store.ScanAfter(prefixPosts(id), after, fn)
	}

	items := make([]string, 0, limit)
	var last *PostIndexEntry
	more := false
	err = scan(func(key string, val []byte) (bool, error) {
		var entry PostIndexEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return false, err
		}
		if entry.Status == StatusHidden {
			return true, nil
		}
		if blocked[entry.AuthorDID] {
			return true, nil
		}
		if entry.SourceGroupID != "" {
			set, ok := childBlocked[entry.SourceGroupID]
			if !ok {
				var err error
				set, err = m.blockedSet(entry.SourceGroupID)
				if err != nil {
					return false, err
				}
				childBlocked[entry.SourceGroupID] = set
			}
			if set[entry.AuthorDID] {
				return true, nil
			}
		}
		if len(items) == limit {
			more = true
			return false, nil
		}
		items = append(items, entry.URI)
		e := entry
		last = &e
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	out := &FeedSkeleton{Items: items}
	if more && last != nil {
		out.Cursor = encodeCursor(last.CreatedAt, last.URI)
	}
	return out, nil
}

// Cleanup deletes post index entries older than the retention window,
// measured from each entry's own creation time (so an aggregated copy
// expires when its original does). Returns the number of entries removed.
func (m *Manager) Cleanup(ctx context.Context, id string, window time.Duration) (int, error) {
	if !ValidGroupID(id) {
		return 0, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if window <= 0 {
		window = DefaultRetention
	}
	cutoff := m.now().Add(-window)

	removed := 0
	err := m.withLock(id, func() error {
		if _, err := m.requireConfig(id); err != nil {
			return err
		}
		// inverted keys put expired entries after the cutoff position,
		// so the scan touches only rows being deleted
		var uris []string
		start := keyPost(id, invertMicros(cutoff), "")
		err := m.store.ScanAfter(prefixPosts(id), start, func(key string, val []byte) (bool, error) {
			var entry PostIndexEntry
			if err := json.Unmarshal(val, &entry); err != nil {
				return false, err
			}
			if entry.CreatedAt.Before(cutoff) {
				uris = append(uris, entry.URI)
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		for _, uri := range uris {
			if err := m.deletePostEntry(id, uri); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// CleanupAll runs Cleanup across every known community.
func (m *Manager) CleanupAll(ctx context.Context, window time.Duration) (int, error) {
	ids, err := m.ListCommunities(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		n, err := m.Cleanup(ctx, id, window)
		if err != nil {
			m.logger.Error("cleanup failed", "community", id, "err", err)
			continue
		}
		total += n
	}
	return total, nil
}

func (m *Manager) putPostEntry(id string, entry *PostIndexEntry) error {
	// a redelivered event may carry a corrected timestamp; drop the old
	// position before writing the new one
	if oldKeyRaw, err := m.store.Get(keyPostURI(id, entry.URI)); err != nil {
		return err
	} else if oldKeyRaw != nil {
		if oldKey := string(oldKeyRaw); oldKey != keyPost(id, invertMicros(entry.CreatedAt), entry.URI) {
			if err := m.store.Delete(oldKey); err != nil {
				return err
			}
		}
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	pk := keyPost(id, invertMicros(entry.CreatedAt), entry.URI)
	if err := m.store.Set(pk, raw); err != nil {
		return err
	}
	if err := m.store.Set(keyPostURI(id, entry.URI), []byte(pk)); err != nil {
		return err
	}
	return m.store.Set(keyGlobalURI(entry.URI, id), []byte(pk))
}

func (m *Manager) getPostEntry(id, uri string) (*PostIndexEntry, error) {
	pkRaw, err := m.store.Get(keyPostURI(id, uri))
	if err != nil || pkRaw == nil {
		return nil, err
	}
	raw, err := m.store.Get(string(pkRaw))
	if err != nil || raw == nil {
		return nil, err
	}
	var entry PostIndexEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (m *Manager) deletePostEntry(id, uri string) error {
	pkRaw, err := m.store.Get(keyPostURI(id, uri))
	if err != nil {
		return err
	}
	if pkRaw != nil {
		if err := m.store.Delete(string(pkRaw)); err != nil {
			return err
		}
	}
	if err := m.store.Delete(keyPostURI(id, uri)); err != nil {
		return err
	}
	return m.store.Delete(keyGlobalURI(uri, id))
}

func (m *Manager) blockedSet(id string) (map[string]bool, error) {
	out := map[string]bool{}
	prefix := prefixBlocks(id)
	err := m.store.Scan(prefix, func(key string, _ []byte) (bool, error) {
		out[strings.TrimPrefix(key, prefix)] = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Feed cursors are base32 of "<unixMicros>:<uri>". Opaque to callers;
// decode failures are reported distinctly from end-of-results.
func encodeCursor(t time.Time, uri string) string {
	return base32.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%d:%s", t.UnixMicro(), uri)))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	dec, err := base32.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	parts := strings.SplitN(string(dec), ":", 2)
	if len(parts) < 2 || parts[1] == "" {
		return time.Time{}, "", ErrInvalidCursor
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	return time.UnixMicro(micros), parts[1], nil
}
