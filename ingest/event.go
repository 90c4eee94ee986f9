// Package ingest turns the relay's heterogeneous record stream into typed
// per-community events and routes them to community actors.
//
// The relay delivers at-least-once and possibly out of order; everything
// downstream of the parser is idempotent, so redelivery is harmless.
// Malformed records are dropped silently: a drop here is an expected,
// frequent outcome of reading a public firehose, not a processing failure.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/atrarium/atrarium/community"
)

// Record collection NSIDs recognized by the parser.
const (
	CollectionGroupPost   = "net.atrarium.group.post"
	CollectionGroupConfig = "net.atrarium.group.config"
	CollectionMembership  = "net.atrarium.group.membership"
	CollectionBskyPost    = "app.bsky.feed.post"
)

// Relay operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// RelayEvent is one raw mutation from the upstream relay, before any
// structural validation.
type RelayEvent struct {
	Seq        int64           `json:"seq"`
	DID        string          `json:"did"`
	Time       time.Time       `json:"time"`
	Operation  string          `json:"operation"`
	RecordType string          `json:"recordType"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
}

// ParsedEvent is the closed set of validated event variants the router
// dispatches. Untyped record payloads never travel past the parser.
type ParsedEvent interface {
	isParsedEvent()
}

// PostEvent is a validated post headed for one or more communities. A
// generic-schema post fans out to every distinct community hashtag it
// carries; a native-schema post targets exactly one.
type PostEvent struct {
	URI          string
	AuthorDID    string
	Text         string
	CommunityIDs []string
	CreatedAt    time.Time
}

func (*PostEvent) isParsedEvent() {}

// PostDeleteEvent removes a post from every community indexing it.
type PostDeleteEvent struct {
	URI string
}

func (*PostDeleteEvent) isParsedEvent() {}

// ConfigEvent is a validated group-config mutation.
type ConfigEvent struct {
	CommunityID string
	Name        string
	Description string
	Stage       community.Stage
	ParentGroup string
	Time        time.Time
}

func (*ConfigEvent) isParsedEvent() {}

// MembershipEvent is a validated membership intent: an upsert, or a
// removal when Removed is set.
type MembershipEvent struct {
	CommunityID string
	DID         string
	Role        community.Role
	JoinedAt    time.Time
	Active      bool
	Removed     bool
}

func (*MembershipEvent) isParsedEvent() {}

// Wire shapes for the heavyweight parse. Unknown fields are ignored;
// missing required fields fail the parse.
type postRecord struct {
	Text        string `json:"text"`
	CommunityID string `json:"communityId"`
	CreatedAt   string `json:"createdAt"`
}

type configRecord struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Stage       string `json:"stage"`
	ParentGroup string `json:"parentGroup"`
	CreatedAt   string `json:"createdAt"`
}

type membershipRecord struct {
	Group    string `json:"group"`
	Role     string `json:"role"`
	JoinedAt string `json:"joinedAt"`
	Active   *bool  `json:"active"`
}
