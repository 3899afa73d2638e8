package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mkarlin/pulse/internal/logging"
)

// PlanConfig tunes the decide phase.
type PlanConfig struct {
	MaxActions int // truncation cap on the model's list
	ChainLimit int // rendered into the briefing so skipped channels are explained
}

// Planner turns a gathered snapshot into at most MaxActions decisions via
// exactly one model call. Skip states never reach the model.
type Planner struct {
	model  PlanModel
	cfg    PlanConfig
	schema []byte
}

// NewPlanner wires a planner.
func NewPlanner(model PlanModel, cfg PlanConfig) *Planner {
	if cfg.MaxActions == 0 {
		cfg.MaxActions = 3
	}
	if cfg.ChainLimit == 0 {
		cfg.ChainLimit = 5
	}
	return &Planner{model: model, cfg: cfg, schema: actionSchema(cfg.MaxActions)}
}

// actionSchema constrains the model to the closed action vocabulary, capped
// at the configured action count. The model decides what to do, never what
// to say.
func actionSchema(maxActions int) []byte {
	return []byte(fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "actions": {
      "type": "array",
      "maxItems": %d,
      "items": {
        "type": "object",
        "properties": {
          "action_type": {
            "type": "string",
            "enum": ["reply", "react", "post", "reach_out", "write_diary", "generate_dream", "review_goals", "skip"]
          },
          "channel_id": {"type": "string"},
          "target_message_id": {"type": "string"},
          "target_user_id": {"type": "string"},
          "target_bot_name": {"type": "string"},
          "emoji": {"type": "string"},
          "reason": {"type": "string"},
          "priority": {"type": "integer"}
        },
        "required": ["action_type", "reason", "priority"]
      }
    }
  },
  "required": ["actions"]
}`, maxActions))
}

const plannerSystem = `You are the autonomous decision layer of a character on a chat server. Given a briefing of the character's current situation, choose zero or more actions, up to the limit stated in the briefing. You only decide WHAT to do; the wording of any message is produced elsewhere. Prefer answering unanswered mentions over starting anything new. Use priority 1 for the most urgent action. If nothing is worth doing, return a single skip action.`

// Plan returns the ordered action list for this cycle. It never returns an
// empty list and never propagates an error: every failure path degrades to
// a single skip action carrying the failure as its reason.
func (p *Planner) Plan(ctx context.Context, st *CycleState) []PlannedAction {
	if st.ShouldSkip || st.Bucket == "" {
		return []PlannedAction{skipAction("nothing needs attention")}
	}

	briefing := p.renderBriefing(st)
	logging.Debug("plan", "briefing for %s:\n%s", st.CycleID, briefing)

	raw, err := p.model.Plan(ctx, plannerSystem, briefing, p.schema)
	if err != nil {
		logging.Warn("plan", "model call failed: %v", err)
		return []PlannedAction{skipAction(fmt.Sprintf("planning failed: %v", err))}
	}

	var decoded struct {
		Actions []PlannedAction `json:"actions"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		logging.Warn("plan", "malformed plan output: %v", err)
		return []PlannedAction{skipAction(fmt.Sprintf("planning failed: malformed output: %v", err))}
	}

	for _, a := range decoded.Actions {
		if !a.Type.Valid() {
			logging.Warn("plan", "unknown action type %q", a.Type)
			return []PlannedAction{skipAction(fmt.Sprintf("planning failed: unknown action type %q", a.Type))}
		}
	}

	actions := decoded.Actions
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority < actions[j].Priority
	})
	if len(actions) > p.cfg.MaxActions {
		actions = actions[:p.cfg.MaxActions]
	}
	if len(actions) == 0 {
		return []PlannedAction{skipAction("model chose no actions")}
	}

	return actions
}

func skipAction(reason string) PlannedAction {
	return PlannedAction{Type: ActionSkip, Reason: reason, Priority: 1}
}

// renderBriefing builds the compact natural-language situation report the
// model plans against. Ids are spelled out so the model can reference them
// in its actions.
func (p *Planner) renderBriefing(st *CycleState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s.\n", st.CharacterName)
	fmt.Fprintf(&b, "It is %s %s, %s local time.\n\n",
		st.Weekday, st.Now.Format("15:04"), st.Bucket)

	b.WriteString("Internal tasks:\n")
	fmt.Fprintf(&b, "- diary: %s\n", taskStatus(st.Tasks.DiaryOverdue, st.Tasks.DiaryLastAt, "write_diary is due"))
	fmt.Fprintf(&b, "- dream: %s\n", taskStatus(st.Tasks.DreamReady, st.Tasks.DreamLastAt, "generate_dream is due"))
	fmt.Fprintf(&b, "- goals: %s\n", taskStatus(st.Tasks.GoalsStale, st.Tasks.GoalsLastAt, "review_goals is due"))

	if len(st.Absences) > 0 {
		b.WriteString("\nPeople you trust who have gone quiet (reach_out candidates):\n")
		for _, a := range st.Absences {
			fmt.Fprintf(&b, "- %s (user_id=%s): %d days silent, closeness %.2f",
				a.UserName, a.UserID, a.DaysAbsent, a.Strength)
			if a.LastTopic != "" {
				fmt.Fprintf(&b, ", last talked about %s", a.LastTopic)
			}
			b.WriteString("\n")
		}
	}

	if len(st.Mentions) > 0 {
		b.WriteString("\nUnanswered mentions from other characters, oldest first:\n")
		for _, m := range st.Mentions {
			fmt.Fprintf(&b, "- %s in channel_id=%s message_id=%s: %q (relevance %.2f)\n",
				m.AuthorName, m.ChannelID, m.ID, m.Content, m.RelevanceScore)
		}
	}

	b.WriteString("\nChannels:\n")
	for _, ch := range st.Channels {
		if ch.ConsecutiveBots >= p.cfg.ChainLimit {
			fmt.Fprintf(&b, "- #%s (channel_id=%s): skipped, %d bot messages in a row (conversation chain limit)\n",
				ch.Name, ch.ID, ch.ConsecutiveBots)
			continue
		}
		fmt.Fprintf(&b, "- #%s (channel_id=%s): %d messages, max relevance %.2f",
			ch.Name, ch.ID, ch.MessageCount, ch.MaxRelevance)
		if ch.LastAnyAgeMin >= 0 {
			fmt.Fprintf(&b, ", last activity %.0fm ago", ch.LastAnyAgeMin)
		} else {
			b.WriteString(", no recent activity")
		}
		b.WriteString("\n")
	}

	if st.WantsToSocialize {
		b.WriteString("\nThe server is quiet and you feel like saying something unprompted. A single post action would fit.\n")
	}

	fmt.Fprintf(&b, "\nChoose 0-%d actions, most urgent first.\n", p.cfg.MaxActions)
	return b.String()
}

func taskStatus(due bool, last *time.Time, dueText string) string {
	switch {
	case due:
		return dueText
	case last == nil:
		return "not due"
	default:
		return fmt.Sprintf("not due (last done %s)", last.Format("Jan 2 15:04"))
	}
}
