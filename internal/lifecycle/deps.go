package lifecycle

import (
	"context"
	"time"

	"github.com/mkarlin/pulse/internal/relgraph"
)

// Embedder is the local embedding service. Deterministic and cheap; the
// gather phase leans on it to pre-filter chat history before the one model
// call a cycle is allowed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// ArtifactReader is the gather phase's read-only view of artifact history.
type ArtifactReader interface {
	LastTimestamp(ctx context.Context, characterID string, artifactType string) (*time.Time, error)
}

// RelationshipReader surfaces trusted users who have gone quiet.
type RelationshipReader interface {
	ConcerningAbsences(ctx context.Context, characterID string, minTrust float64, minDays, limit int) ([]relgraph.Absence, error)
}

// MaterialChecker answers "is there enough to write about" for diary and
// dream generation, so the loop does not nag the planner over nothing.
type MaterialChecker interface {
	Sufficient(ctx context.Context) (bool, error)
}

// PlanModel is the planning model client: one schema-constrained call per
// cycle, never more.
type PlanModel interface {
	Plan(ctx context.Context, system, briefing string, schema []byte) ([]byte, error)
}

// SendFunc delivers generated content and returns the transport message id.
type SendFunc func(ctx context.Context, content string) (string, error)

// ConversationRequest frames one delegation to the conversation pipeline.
type ConversationRequest struct {
	ChannelID string
	MessageID string // target message for replies, empty for proactive sends
	Proactive bool   // reach-out framing rather than reactive reply
	Note      string // framing note passed through to the pipeline
	Send      SendFunc
}

// Conversationalist is the shared conversation-processing pipeline. It
// persists memory, manages sessions, and triggers learning on its own; this
// loop only hands it a target and a send callback.
type Conversationalist interface {
	ProcessMessage(ctx context.Context, req ConversationRequest) (messageID string, err error)
}

// Poster writes a spontaneous channel post. directive optionally steers the
// post (e.g. at another character's mention form).
type Poster interface {
	Post(ctx context.Context, channelID, directive string) (messageID string, err error)
}

// DiaryWriter produces today's diary entry and returns its artifact id.
type DiaryWriter interface {
	WriteDiary(ctx context.Context) (artifactID string, err error)
}

// DreamWriter produces a dream record and returns its artifact id.
type DreamWriter interface {
	GenerateDream(ctx context.Context) (artifactID string, err error)
}

// GoalReviewer runs the goal-review task and returns its artifact id.
type GoalReviewer interface {
	ReviewGoals(ctx context.Context) (artifactID string, err error)
}
