package lifecycle

import (
	"context"
	"errors"

	"github.com/mkarlin/pulse/internal/journal"
	"github.com/mkarlin/pulse/internal/logging"
)

// Runner is one character's gather → plan → execute pipeline. The
// scheduler calls RunCycle on a timer; nothing here ever propagates a
// failure back to it.
type Runner struct {
	gatherer *Gatherer
	planner  *Planner
	executor *Executor
	journal  *journal.Journal
}

// NewRunner wires a runner.
func NewRunner(g *Gatherer, p *Planner, e *Executor, j *journal.Journal) *Runner {
	return &Runner{gatherer: g, planner: p, executor: e, journal: j}
}

// RunCycle runs one full cycle and returns the final state for inspection.
// Plan always hands something to Execute; a pure-skip plan is "executed"
// trivially.
func (r *Runner) RunCycle(ctx context.Context) (st *CycleState) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Warn("cycle", "cycle aborted: %v", rec)
			if st == nil {
				st = r.gatherer.safeSkip()
			}
		}
	}()

	st = r.gatherer.Gather(ctx)
	logging.Debug("cycle", "%s gathered: relevant=%v tasks=%v social=%v skip=%v",
		st.CycleID, st.HasRelevantContent, st.HasPendingInternalTasks,
		st.WantsToSocialize, st.ShouldSkip)

	st.Planned = r.planner.Plan(ctx, st)
	r.executor.Execute(ctx, st)

	r.record(st)
	logging.Info("cycle", "%s", st.Summary())
	return st
}

// record writes the cycle to the journal. Journal trouble is logged and
// dropped; observability must never take the loop down.
func (r *Runner) record(st *CycleState) {
	if r.journal == nil {
		return
	}

	actions := make([]map[string]any, 0, len(st.Results))
	for _, res := range st.Results {
		entry := map[string]any{
			"type":    string(res.Action.Type),
			"reason":  res.Action.Reason,
			"success": res.Success,
		}
		if res.Error != "" {
			entry["error"] = res.Error
		}
		if res.Note != "" {
			entry["note"] = res.Note
		}
		if res.MessageID != "" {
			entry["message_id"] = res.MessageID
		}
		if res.ArtifactID != "" {
			entry["artifact_id"] = res.ArtifactID
		}
		actions = append(actions, entry)
	}

	err := r.journal.LogCycle(st.CharacterID, st.CycleID, st.Summary(), map[string]any{
		"bucket":        string(st.Bucket),
		"max_relevance": st.MaxRelevance,
		"mentions":      len(st.Mentions),
		"channels":      len(st.Channels),
		"relevant":      st.HasRelevantContent,
		"pending_tasks": st.HasPendingInternalTasks,
		"socialize":     st.WantsToSocialize,
		"skip":          st.ShouldSkip,
		"actions":       actions,
	})
	if err != nil {
		logging.Warn("cycle", "journal write failed: %v", err)
	}

	// Failed actions also get their own error entries so they show up
	// in error-scoped journal queries, not just buried in the cycle blob.
	for _, res := range st.Results {
		if res.Success {
			continue
		}
		err := r.journal.LogError(st.CharacterID, st.CycleID, errors.New(res.Error), map[string]any{
			"action_type": string(res.Action.Type),
			"reason":      res.Action.Reason,
		})
		if err != nil {
			logging.Warn("cycle", "journal write failed: %v", err)
		}
	}
}
