// Package community implements the per-community state owner for the
// atrarium indexing service.
//
// Each community is a logical actor keyed by an 8-hex-char group id. All
// mutations against one community are serialized by a per-community lock
// held in the Manager's routing table, so membership checks, moderation
// conflict resolution, and index writes are internally consistent without
// any further locking. State lives in a shared ordered key-value store
// (pebble) under a per-community key prefix; reads of another community's
// rows go straight to the store and never take that community's lock.
//
// Cross-community coordination (hierarchy add/remove, parent feed
// aggregation) is intentionally not transactional: it is modeled as
// separate idempotent calls which are safe to retry and converge even when
// one side lands before the other.
package community
