package community

import (
	"context"
	"fmt"
)

// Dunbar thresholds: active membership counts gating each upgrade.
const (
	CommunityThreshold = 15
	GraduatedThreshold = 50
)

func nextStage(s Stage) (Stage, bool) {
	switch s {
	case StageTheme:
		return StageCommunity, true
	case StageCommunity:
		return StageGraduated, true
	}
	return "", false
}

func stageThreshold(to Stage) int {
	if to == StageGraduated {
		return GraduatedThreshold
	}
	return CommunityThreshold
}

// ProgressStage advances a community to the requested stage. Only the
// immediate next stage is structurally legal; skips, no-ops, and
// downgrades are rejected as invalid transitions, distinct from a legal
// transition below its membership threshold (which reports the current
// count and the requirement).
//
// ParentGroup is never touched by a transition. Advancing past theme
// clears the inherited-moderator cache: from then on moderation authority
// comes only from this community's own membership table.
func (m *Manager) ProgressStage(ctx context.Context, id string, to Stage) (*CommunityConfig, error) {
	ctx, span := tracer.Start(ctx, "ProgressStage")
	defer span.End()

	if !ValidGroupID(id) {
		return nil, &ValidationError{Field: "communityId", Detail: fmt.Sprintf("%q is not an 8-hex-char group token", id)}
	}
	if !to.Valid() {
		return nil, &ValidationError{Field: "stage", Detail: fmt.Sprintf("unknown stage %q", to)}
	}

	var out *CommunityConfig
	err := m.withLock(id, func() error {
		cfg, err := m.requireConfig(id)
		if err != nil {
			return err
		}
		next, ok := nextStage(cfg.Stage)
		if !ok || to != next {
			return &TransitionError{From: cfg.Stage, To: to}
		}

		count, err := m.countActiveMembers(id)
		if err != nil {
			return err
		}
		required := stageThreshold(to)
		if count < required {
			return &ThresholdError{From: cfg.Stage, To: to, Members: count, Required: required}
		}

		cfg.Stage = to
		cfg.UpdatedAt = m.now()
		if err := m.putConfig(cfg); err != nil {
			return err
		}
		if err := m.store.Delete(keyInherited(id)); err != nil {
			return err
		}
		m.logger.Info("stage transition", "community", id, "stage", to, "members", count)
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
