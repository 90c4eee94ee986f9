package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atrarium/atrarium/community"
)

// Router dispatches parsed events to community actors. Post events are
// grouped by target community, one actor call per (community, post);
// config, membership, and delete events dispatch individually.
//
// Processing is fire-and-forget per event: a failure never aborts the
// rest of the batch. Rejections caused by the data itself (permission
// denied, malformed ids, unknown targets) are final and only counted;
// transient store errors are reported in the batch result so the platform
// layer can redeliver.
type Router struct {
	mgr    *community.Manager
	logger *slog.Logger
}

func NewRouter(mgr *community.Manager, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		mgr:    mgr,
		logger: logger.With("system", "ingest"),
	}
}

// BatchResult summarizes one delivery cycle.
type BatchResult struct {
	Received  int
	Filtered  int
	Dropped   int
	Indexed   int
	Rejected  int
	Transient int
}

// ProcessBatch runs the full pipeline over one delivery of relay events.
func (r *Router) ProcessBatch(ctx context.Context, evts []RelayEvent) BatchResult {
	ctx, span := tracer.Start(ctx, "ProcessBatch")
	defer span.End()

	res := BatchResult{Received: len(evts)}
	eventsReceived.Add(float64(len(evts)))

	byCommunity := map[string][]*PostEvent{}
	var rest []ParsedEvent
	var deletes []*PostDeleteEvent

	for i := range evts {
		evt := &evts[i]
		if !Relevant(evt) {
			eventsFiltered.Inc()
			res.Filtered++
			continue
		}
		parsed, ok := Parse(evt)
		if !ok {
			eventsDropped.Inc()
			res.Dropped++
			r.logger.Debug("dropped malformed relay event", "did", evt.DID, "recordType", evt.RecordType, "seq", evt.Seq)
			continue
		}
		switch evt := parsed.(type) {
		case *PostEvent:
			for _, id := range evt.CommunityIDs {
				byCommunity[id] = append(byCommunity[id], evt)
			}
		case *PostDeleteEvent:
			deletes = append(deletes, evt)
		default:
			rest = append(rest, parsed)
		}
	}

	// config and membership changes land before posts from the same
	// delivery, so a community bootstrapped in this batch can accept
	// them; deletes land after posts, so a create+delete pair in one
	// delivery stays deleted
	for _, parsed := range rest {
		r.dispatchOne(ctx, parsed, &res)
	}
	for id, posts := range byCommunity {
		for _, pe := range posts {
			r.indexOne(ctx, id, pe, &res)
		}
	}
	for _, de := range deletes {
		r.dispatchOne(ctx, de, &res)
	}
	return res
}

func (r *Router) indexOne(ctx context.Context, id string, pe *PostEvent, res *BatchResult) {
	err := r.mgr.IndexPost(ctx, id, community.Post{
		URI:       pe.URI,
		AuthorDID: pe.AuthorDID,
		CreatedAt: pe.CreatedAt,
	})
	if err != nil {
		r.countFailure(id, pe.URI, err, res)
		return
	}
	postsIndexed.Inc()
	res.Indexed++

	// hierarchy fan-out: a second, independent idempotent call tags the
	// entry into the parent. Retried safely on redelivery; keyed by URI.
	parent, err := r.mgr.GetParent(ctx, id)
	if err != nil || parent == nil {
		return
	}
	err = r.mgr.IndexPost(ctx, parent.ParentID, community.Post{
		URI:           pe.URI,
		AuthorDID:     pe.AuthorDID,
		CreatedAt:     pe.CreatedAt,
		SourceGroupID: id,
	})
	if err != nil {
		r.countFailure(parent.ParentID, pe.URI, err, res)
		return
	}
	postsAggregated.Inc()
}

func (r *Router) dispatchOne(ctx context.Context, parsed ParsedEvent, res *BatchResult) {
	var err error
	switch evt := parsed.(type) {
	case *ConfigEvent:
		err = r.applyConfig(ctx, evt)
	case *MembershipEvent:
		if evt.Removed {
			err = r.mgr.RemoveMember(ctx, evt.CommunityID, evt.DID)
		} else {
			err = r.mgr.AddMember(ctx, evt.CommunityID, community.Membership{
				DID:      evt.DID,
				Role:     evt.Role,
				JoinedAt: evt.JoinedAt,
				Active:   evt.Active,
			})
		}
	case *PostDeleteEvent:
		err = r.mgr.RemovePost(ctx, evt.URI)
	default:
		return
	}
	if err != nil {
		r.countFailure("", "", err, res)
		return
	}
	res.Indexed++
}

// applyConfig creates or merges a community from a relay config record. A
// config carrying a parent reference bootstraps the child through the
// hierarchy path so the parent-side link and inherited-moderator cache
// converge too.
func (r *Router) applyConfig(ctx context.Context, evt *ConfigEvent) error {
	if evt.ParentGroup != "" {
		parentID, ok := community.ParseGroupRef(evt.ParentGroup)
		if ok {
			_, err := r.mgr.CreateChild(ctx, parentID, community.ChildInit{
				ID:          evt.CommunityID,
				Name:        evt.Name,
				Description: evt.Description,
				CreatedAt:   evt.Time,
			})
			return err
		}
	}
	_, err := r.mgr.UpdateConfig(ctx, evt.CommunityID, community.ConfigUpdate{
		Name:        &evt.Name,
		Description: &evt.Description,
		Stage:       &evt.Stage,
		ParentGroup: &evt.ParentGroup,
		Time:        evt.Time,
	})
	return err
}

// countFailure classifies one event's failure. Data-shaped rejections are
// final; anything else is transient and eligible for redelivery.
func (r *Router) countFailure(id, uri string, err error, res *BatchResult) {
	var ve *community.ValidationError
	var pe *community.PermissionError
	var nf *community.NotFoundError
	var conflict community.Conflict
	switch {
	case errors.As(err, &pe):
		postsRejected.Inc()
		res.Rejected++
		r.logger.Debug("post rejected", "community", id, "uri", uri, "err", err)
	case errors.As(err, &ve), errors.As(err, &nf), errors.As(err, &conflict):
		eventsDropped.Inc()
		res.Dropped++
		r.logger.Debug("event not applicable", "community", id, "uri", uri, "err", err)
	default:
		eventsFailed.Inc()
		res.Transient++
		r.logger.Warn("event processing failed", "community", id, "uri", uri, "err", err)
	}
}
