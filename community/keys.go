package community

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Key layout, all under the per-community "g/<id>/" prefix:
//
//	g/<id>/cfg                        community config
//	g/<id>/mbr/<did>                  membership row
//	g/<id>/post/<invTS>/<uri>         post index entry, newest first
//	g/<id>/postu/<uri>                post key, for lookup by URI
//	g/<id>/mod/<kind>/<target>        winning moderation decision per target
//	g/<id>/modlog/<ts>/<act>/<target> moderation log (every accepted action)
//	g/<id>/blk/<did>                  blocked-user marker
//	g/<id>/child/<childId>            hierarchy link
//	g/<id>/parent                     cached parent reference
//	g/<id>/inhmod                     cached inherited-moderator DIDs
//	g/<id>/emoji/<shortcode>          emoji registry entry
//
// Plus a global reverse index, so a post delete from the relay can find
// every community (including parents holding aggregated copies) indexing
// that URI:
//
//	u/<uri>/<id>                      post key within community <id>
func keyConfig(id string) string         { return "g/" + id + "/cfg" }
func keyMember(id, did string) string    { return "g/" + id + "/mbr/" + did }
func prefixMembers(id string) string     { return "g/" + id + "/mbr/" }
func keyPost(id, inv, uri string) string { return "g/" + id + "/post/" + inv + "/" + uri }
func prefixPosts(id string) string       { return "g/" + id + "/post/" }
func keyPostURI(id, uri string) string   { return "g/" + id + "/postu/" + uri }

func keyDecision(id, kind, target string) string {
	return "g/" + id + "/mod/" + kind + "/" + target
}

func keyModLog(id, ts, action, target string) string {
	return "g/" + id + "/modlog/" + ts + "/" + action + "/" + target
}

func prefixModLog(id string) string      { return "g/" + id + "/modlog/" }
func keyBlock(id, did string) string     { return "g/" + id + "/blk/" + did }
func prefixBlocks(id string) string      { return "g/" + id + "/blk/" }
func keyChild(id, childID string) string { return "g/" + id + "/child/" + childID }
func prefixChildren(id string) string    { return "g/" + id + "/child/" }
func keyParent(id string) string         { return "g/" + id + "/parent" }
func keyInherited(id string) string      { return "g/" + id + "/inhmod" }
func keyEmoji(id, code string) string    { return "g/" + id + "/emoji/" + code }
func prefixEmoji(id string) string       { return "g/" + id + "/emoji/" }
func prefixGroup(id string) string       { return "g/" + id + "/" }
func keyGlobalURI(uri, id string) string { return "u/" + uri + "/" + id }
func prefixGlobalURI(uri string) string  { return "u/" + uri + "/" }

// invertMicros encodes a timestamp so ascending key order is reverse
// chronological. Fixed width (16 hex chars) keeps the URI tie-break
// working: equal timestamps sort by URI ascending.
func invertMicros(t time.Time) string {
	return fmt.Sprintf("%016x", uint64(math.MaxInt64-t.UnixMicro()))
}

func unInvertMicros(inv string) (time.Time, error) {
	v, err := strconv.ParseUint(inv, 16, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(math.MaxInt64 - int64(v)), nil
}

// parsePostKey splits a post key into its inverted-timestamp and URI
// parts. The timestamp segment is fixed width, so the URI may safely
// contain slashes.
func parsePostKey(id, key string) (inv, uri string, ok bool) {
	rest, found := strings.CutPrefix(key, prefixPosts(id))
	if !found || len(rest) < 18 {
		return "", "", false
	}
	return rest[:16], rest[17:], true
}
