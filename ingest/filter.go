package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/atrarium/atrarium/community"
)

var hashtagPattern = regexp.MustCompile(`#atrarium_([0-9a-f]{8})\b`)

// tagToken is the literal substring the lightweight filter looks for in
// generic posts. Purely a throughput optimization: a generic post
// referencing a community must carry the full hashtag, so the token can
// never reject a record the heavyweight parse would accept.
const tagToken = "#atrarium_"

// Relevant is the stage-one filter: a cheap check that an event could
// possibly concern a community, before the structural parse. Atrarium
// record types always pass; generic posts pass only when the raw record
// contains the tag token.
func Relevant(evt *RelayEvent) bool {
	switch evt.RecordType {
	case CollectionGroupPost, CollectionGroupConfig, CollectionMembership:
		return true
	case CollectionBskyPost:
		if evt.Operation == OpDelete {
			return true
		}
		return bytes.Contains(evt.Record, []byte(tagToken))
	}
	return false
}

// Parse is the stage-two structural parse. Returns (nil, false) for
// anything malformed: drops are silent and final, never surfaced as
// errors.
func Parse(evt *RelayEvent) (ParsedEvent, bool) {
	uri, ok := parseEnvelope(evt)
	if !ok {
		return nil, false
	}

	if evt.Operation == OpDelete {
		switch evt.RecordType {
		case CollectionGroupPost, CollectionBskyPost:
			return &PostDeleteEvent{URI: uri.String()}, true
		case CollectionMembership:
			return parseMembershipDelete(evt)
		}
		return nil, false
	}

	switch evt.RecordType {
	case CollectionGroupPost:
		return parseNativePost(evt, uri.String())
	case CollectionBskyPost:
		return parseGenericPost(evt, uri.String())
	case CollectionGroupConfig:
		return parseConfig(evt)
	case CollectionMembership:
		return parseMembership(evt)
	}
	return nil, false
}

// parseEnvelope validates the event's identifier fields and assembles
// the record's at-uri. An envelope with a malformed DID, collection, or
// record key is dropped before any record decoding.
func parseEnvelope(evt *RelayEvent) (syntax.ATURI, bool) {
	did, err := syntax.ParseDID(evt.DID)
	if err != nil {
		return "", false
	}
	collection, err := syntax.ParseNSID(evt.RecordType)
	if err != nil {
		return "", false
	}
	rkey, err := syntax.ParseRecordKey(evt.RKey)
	if err != nil {
		return "", false
	}
	return syntax.ATURI(fmt.Sprintf("at://%s/%s/%s", did, collection, rkey)), true
}

func parseNativePost(evt *RelayEvent, uri string) (ParsedEvent, bool) {
	var rec postRecord
	if err := json.Unmarshal(evt.Record, &rec); err != nil {
		return nil, false
	}
	if !community.ValidGroupID(rec.CommunityID) {
		return nil, false
	}
	return &PostEvent{
		URI:          uri,
		AuthorDID:    evt.DID,
		Text:         rec.Text,
		CommunityIDs: []string{rec.CommunityID},
		CreatedAt:    recordTime(rec.CreatedAt, evt.Time),
	}, true
}

func parseGenericPost(evt *RelayEvent, uri string) (ParsedEvent, bool) {
	var rec postRecord
	if err := json.Unmarshal(evt.Record, &rec); err != nil {
		return nil, false
	}
	ids := extractCommunityTags(rec.Text)
	if len(ids) == 0 {
		return nil, false
	}
	return &PostEvent{
		URI:          uri,
		AuthorDID:    evt.DID,
		Text:         rec.Text,
		CommunityIDs: ids,
		CreatedAt:    recordTime(rec.CreatedAt, evt.Time),
	}, true
}

// extractCommunityTags pulls every community hashtag out of free text,
// deduplicated, so a post tagged twice for the same community indexes
// once.
func extractCommunityTags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	for _, mt := range matches {
		if !seen[mt[1]] {
			seen[mt[1]] = true
			ids = append(ids, mt[1])
		}
	}
	sort.Strings(ids)
	return ids
}

func parseConfig(evt *RelayEvent) (ParsedEvent, bool) {
	if !community.ValidGroupID(evt.RKey) {
		return nil, false
	}
	var rec configRecord
	if err := json.Unmarshal(evt.Record, &rec); err != nil {
		return nil, false
	}
	stage := community.Stage(rec.Stage)
	if !stage.Valid() {
		return nil, false
	}
	// a parent reference is only legal on a theme-stage config; a
	// violation invalidates the whole event (bad producer data, not a
	// transient failure)
	if rec.ParentGroup != "" && stage != community.StageTheme {
		return nil, false
	}
	return &ConfigEvent{
		CommunityID: evt.RKey,
		Name:        rec.Name,
		Description: rec.Description,
		Stage:       stage,
		ParentGroup: rec.ParentGroup,
		Time:        recordTime(rec.CreatedAt, evt.Time),
	}, true
}

func parseMembership(evt *RelayEvent) (ParsedEvent, bool) {
	var rec membershipRecord
	if err := json.Unmarshal(evt.Record, &rec); err != nil {
		return nil, false
	}
	id, ok := community.ParseGroupRef(rec.Group)
	if !ok {
		return nil, false
	}
	role := community.Role(rec.Role)
	if !role.Valid() {
		return nil, false
	}
	active := true
	if rec.Active != nil {
		active = *rec.Active
	}
	return &MembershipEvent{
		CommunityID: id,
		DID:         evt.DID,
		Role:        role,
		JoinedAt:    recordTime(rec.JoinedAt, evt.Time),
		Active:      active,
	}, true
}

// parseMembershipDelete handles a deleted membership record. The record
// body is gone, so the community id must come from the record key, which
// atrarium membership records set to the group id.
func parseMembershipDelete(evt *RelayEvent) (ParsedEvent, bool) {
	if !community.ValidGroupID(evt.RKey) {
		return nil, false
	}
	return &MembershipEvent{
		CommunityID: evt.RKey,
		DID:         evt.DID,
		Removed:     true,
	}, true
}

func recordTime(s string, fallback time.Time) time.Time {
	if s != "" {
		if t, err := syntax.ParseDatetimeTime(s); err == nil {
			return t
		}
	}
	return fallback
}
