// Package lifecycle is the autonomous daily-life loop: sense the world
// (gather), decide what to do about it (plan), then do it (execute). One
// cycle runs per character per scheduler tick; everything here is built so
// that the worst any cycle can do is nothing.
package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is the coarse local-time bucket used by internal-task gating.
type TimeOfDay string

const (
	Morning TimeOfDay = "morning"
	Midday  TimeOfDay = "midday"
	Evening TimeOfDay = "evening"
	Night   TimeOfDay = "night"
)

// BucketFor maps a local time to its bucket.
func BucketFor(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 11:
		return Morning
	case h >= 11 && h < 17:
		return Midday
	case h >= 17 && h < 22:
		return Evening
	default:
		return Night
	}
}

// ActionType is the closed vocabulary of things the planner may decide.
type ActionType string

const (
	ActionReply         ActionType = "reply"
	ActionReact         ActionType = "react"
	ActionPost          ActionType = "post"
	ActionReachOut      ActionType = "reach_out"
	ActionWriteDiary    ActionType = "write_diary"
	ActionGenerateDream ActionType = "generate_dream"
	ActionReviewGoals   ActionType = "review_goals"
	ActionSkip          ActionType = "skip"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionReply, ActionReact, ActionPost, ActionReachOut,
		ActionWriteDiary, ActionGenerateDream, ActionReviewGoals, ActionSkip:
		return true
	}
	return false
}

// ScoredMessage is an immutable projection of one transport message,
// annotated with its relevance to this character. Built once during gather,
// read-only after.
type ScoredMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	Content     string // truncated for briefing use
	CreatedAt   time.Time

	// RelevanceScore is cosine similarity against the character's interest
	// vector, clamped to [0,1].
	RelevanceScore float64

	IsMention   bool
	IsReplyToMe bool
	ReferenceID string // parent message id when this is a reply
}

// ChannelState is one watched channel's snapshot for this cycle.
type ChannelState struct {
	ID   string
	Name string

	MessageCount     int
	LastHumanAgeMin  float64 // minutes since the last human message, -1 if none in window
	LastAnyAgeMin    float64 // minutes since the last message of any kind, -1 if empty
	ConsecutiveBots  int     // same-author-type (bot) run length at head of history
	Messages         []ScoredMessage
	MaxRelevance     float64
}

// ConcerningAbsence is a trusted user who has gone quiet.
type ConcerningAbsence struct {
	UserID     string
	UserName   string
	DaysAbsent int
	Strength   float64 // relationship strength, 0-1
	LastTopic  string
}

// InternalTasks holds the three internal-upkeep flags with their last-done
// timestamps (nil = never).
type InternalTasks struct {
	DiaryOverdue bool
	DiaryLastAt  *time.Time

	DreamReady  bool
	DreamLastAt *time.Time

	GoalsStale  bool
	GoalsLastAt *time.Time
}

// Any reports whether any internal task wants attention.
func (t InternalTasks) Any() bool {
	return t.DiaryOverdue || t.DreamReady || t.GoalsStale
}

// PlannedAction is one decision from the planner. The planner decides what
// to do, never what to say; content is a handler concern.
type PlannedAction struct {
	Type            ActionType `json:"action_type"`
	ChannelID       string     `json:"channel_id,omitempty"`
	TargetMessageID string     `json:"target_message_id,omitempty"`
	TargetUserID    string     `json:"target_user_id,omitempty"`
	TargetBotName   string     `json:"target_bot_name,omitempty"`
	Emoji           string     `json:"emoji,omitempty"`
	Reason          string     `json:"reason"`
	Priority        int        `json:"priority"` // lower = more urgent
}

// ActionResult is the outcome of executing one PlannedAction.
type ActionResult struct {
	Action  PlannedAction
	Success bool
	Skipped bool   // succeeded by doing nothing (e.g. dream lock already held)
	Note    string // non-error detail like "lock_held" or "dms_disabled"
	Error   string

	MessageID  string // for actions that produced a transport message
	ArtifactID string // for internal actions that produced an artifact
}

// CycleState is the record threaded through one cycle. Created fresh each
// cycle, discarded after logging; it owns no long-lived resources.
type CycleState struct {
	CycleID       string
	CharacterID   string
	CharacterName string

	Now     time.Time // character-local
	Bucket  TimeOfDay
	Weekday time.Weekday

	Tasks    InternalTasks
	Absences []ConcerningAbsence
	Mentions []ScoredMessage // unanswered bot mentions, oldest first
	Channels []ChannelState

	MaxRelevance float64

	HasRelevantContent      bool
	HasPendingInternalTasks bool
	WantsToSocialize        bool
	ShouldSkip              bool

	Planned   []PlannedAction
	ExecIndex int
	Results   []ActionResult
}

// DeriveFlags computes should_skip from the three top-level booleans.
// Invariant: should_skip is true iff none of the others are.
func (s *CycleState) DeriveFlags() {
	s.ShouldSkip = !(s.HasRelevantContent || s.HasPendingInternalTasks || s.WantsToSocialize)
}

// Summary renders the cycle into one log line.
func (s *CycleState) Summary() string {
	if s.ShouldSkip && len(s.Results) <= 1 {
		return fmt.Sprintf("cycle %s: skip (relevance=%.2f mentions=%d)",
			s.CycleID, s.MaxRelevance, len(s.Mentions))
	}

	var parts []string
	ok, failed := 0, 0
	for _, r := range s.Results {
		if r.Success {
			ok++
		} else {
			failed++
		}
		parts = append(parts, string(r.Action.Type))
	}
	return fmt.Sprintf("cycle %s: %d actions [%s] ok=%d failed=%d",
		s.CycleID, len(s.Results), strings.Join(parts, ","), ok, failed)
}

// ChannelByID finds a channel snapshot in this cycle.
func (s *CycleState) ChannelByID(id string) *ChannelState {
	for i := range s.Channels {
		if s.Channels[i].ID == id {
			return &s.Channels[i]
		}
	}
	return nil
}
