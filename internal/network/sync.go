package network

import (
	"context"

	"go.uber.org/zap"

	"bidimapper/internal/target"
)

// SyncTarget implements target.NetworkSync: it decides whether Network and
// Fetch should be enabled for t, based on subscriptions and the intercept
// registry (spec §4.2 step 4, §4.4), and applies any change.
//
// If Fetch needs disabling but t currently has paused requests, the disable
// is deferred until they drain (spec §4.4: "otherwise CDP would orphan
// them"); SyncTarget is expected to be re-invoked once they do (the
// coordinator calls it again after every terminal request transition).
func (c *Coordinator) SyncTarget(ctx context.Context, t *target.Target) error {
	wantNetwork := c.subs.IsModuleSubscribedForSubtree("network", t.TopLevelID, c.descendantsFor)
	stages := c.storage.InterceptionStages(t.TopLevelID, c.inSubtree(t.TopLevelID))

	current := t.FetchStages()
	currentNetwork := t.NetworkEnabled()

	if wantNetwork == currentNetwork && stages == current {
		return nil
	}

	if wantNetwork && !currentNetwork {
		if err := t.EnableNetwork(ctx); err != nil {
			return err
		}
	}

	if stages.Any() {
		if err := t.EnableFetch(ctx, stages); err != nil {
			return err
		}
	} else if current.Any() {
		if c.hasPausedRequests(t.ID) {
			c.log.Debug("deferring fetch disable: requests still paused", zap.String("target", t.ID))
		} else if err := t.DisableFetch(ctx); err != nil {
			return err
		} else {
			current = FetchStagesZero
		}
	}

	if !wantNetwork && currentNetwork && !stages.Any() {
		if err := t.DisableNetwork(ctx); err != nil {
			return err
		}
	}

	if stages.Any() {
		current = stages
	}
	t.SetDomainState(wantNetwork || stages.Any(), current)
	return nil
}

// FetchStagesZero is the all-false fetch stage vector.
var FetchStagesZero target.FetchStages

func (c *Coordinator) descendantsFor(id string) []string {
	if c.ctxs == nil {
		return nil
	}
	return c.ctxs.Descendants(id)
}

func (c *Coordinator) inSubtree(topLevelID string) func(string) bool {
	return func(scopeID string) bool {
		if c.ctxs == nil {
			return false
		}
		for _, d := range c.ctxs.Descendants(topLevelID) {
			if d == scopeID {
				return true
			}
		}
		return false
	}
}

func (c *Coordinator) hasPausedRequests(targetID string) bool {
	for _, req := range c.storage.allForTarget(targetID) {
		if req.FetchID() != "" {
			return true
		}
	}
	return false
}
