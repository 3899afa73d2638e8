package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkarlin/pulse/internal/cache"
	"github.com/mkarlin/pulse/internal/character"
	"github.com/mkarlin/pulse/internal/logging"
	"github.com/mkarlin/pulse/internal/transport"
)

// ExecConfig tunes the act phase.
type ExecConfig struct {
	// MusingCooldownKey is set after a spontaneous post so other characters
	// hold back for MusingCooldown.
	MusingCooldownKey string
	MusingCooldown    time.Duration

	// DreamLockTTL bounds the daily dream lease.
	DreamLockTTL time.Duration
}

func (c *ExecConfig) withDefaults() {
	if c.MusingCooldownKey == "" {
		c.MusingCooldownKey = "cooldown:musing"
	}
	if c.MusingCooldown == 0 {
		c.MusingCooldown = 45 * time.Minute
	}
	if c.DreamLockTTL == 0 {
		c.DreamLockTTL = 24 * time.Hour
	}
}

// handler executes one action type. It fills in the result fields beyond
// Action, which the dispatcher sets.
type handler func(ctx context.Context, a PlannedAction, res *ActionResult) error

// Executor walks the planned action list strictly in order, one result per
// action, never letting one failure poison the rest of the batch.
type Executor struct {
	char *character.Character
	cfg  ExecConfig

	transport transport.Transport
	cache     cache.Store
	lease     *cache.Lease

	convo Conversationalist
	post  Poster
	diary DiaryWriter
	dream DreamWriter
	goals GoalReviewer

	handlers map[ActionType]handler
}

// NewExecutor wires an executor. The handler map is built once; adding an
// action type without a handler is caught at dispatch, not silently
// dropped.
func NewExecutor(char *character.Character, cfg ExecConfig,
	tr transport.Transport, cacheStore cache.Store,
	convo Conversationalist, post Poster,
	diary DiaryWriter, dream DreamWriter, goals GoalReviewer) *Executor {

	cfg.withDefaults()
	e := &Executor{
		char:      char,
		cfg:       cfg,
		transport: tr,
		cache:     cacheStore,
		lease:     cache.NewLease(cacheStore),
		convo:     convo,
		post:      post,
		diary:     diary,
		dream:     dream,
		goals:     goals,
	}
	e.handlers = map[ActionType]handler{
		ActionReply:         e.execReply,
		ActionReact:         e.execReact,
		ActionPost:          e.execPost,
		ActionReachOut:      e.execReachOut,
		ActionWriteDiary:    e.execWriteDiary,
		ActionGenerateDream: e.execGenerateDream,
		ActionReviewGoals:   e.execReviewGoals,
		ActionSkip:          e.execSkip,
	}
	return e
}

// Execute runs st.Planned in order and appends one ActionResult per action.
// It returns normally even if every action fails.
func (e *Executor) Execute(ctx context.Context, st *CycleState) {
	for i, action := range st.Planned {
		st.ExecIndex = i
		res := e.runOne(ctx, action)
		st.Results = append(st.Results, res)

		if res.Success {
			logging.Info("execute", "%s ok (%s)", action.Type, logging.Truncate(action.Reason, 60))
		} else {
			logging.Warn("execute", "%s failed: %s", action.Type, res.Error)
		}
	}
}

// runOne dispatches a single action with panic capture at the boundary.
func (e *Executor) runOne(ctx context.Context, a PlannedAction) (res ActionResult) {
	res = ActionResult{Action: a}

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("handler panicked: %v", r)
		}
	}()

	h, ok := e.handlers[a.Type]
	if !ok {
		res.Error = fmt.Sprintf("no handler for action type %q", a.Type)
		return res
	}

	if err := h(ctx, a, &res); err != nil {
		res.Success = false
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

func (e *Executor) execReply(ctx context.Context, a PlannedAction, res *ActionResult) error {
	if a.ChannelID == "" || a.TargetMessageID == "" {
		return fmt.Errorf("reply requires channel_id and target_message_id")
	}

	// Resolve the target so a stale plan fails cleanly here.
	target, err := e.transport.FetchMessage(ctx, a.ChannelID, a.TargetMessageID)
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}

	msgID, err := e.convo.ProcessMessage(ctx, ConversationRequest{
		ChannelID: a.ChannelID,
		MessageID: target.ID,
		Send: func(ctx context.Context, content string) (string, error) {
			return e.transport.SendReply(ctx, a.ChannelID, target.ID, content)
		},
	})
	if err != nil {
		return err
	}

	// Ack the target so the next cycle treats it as settled.
	if err := e.transport.AddReaction(ctx, a.ChannelID, target.ID, e.char.AckEmoji); err != nil {
		logging.Warn("execute", "ack reaction failed: %v", err)
	}

	res.MessageID = msgID
	return nil
}

func (e *Executor) execReact(ctx context.Context, a PlannedAction, res *ActionResult) error {
	if a.ChannelID == "" || a.TargetMessageID == "" || a.Emoji == "" {
		return fmt.Errorf("react requires channel_id, target_message_id and emoji")
	}
	if err := e.transport.AddReaction(ctx, a.ChannelID, a.TargetMessageID, a.Emoji); err != nil {
		return err
	}
	res.MessageID = a.TargetMessageID
	return nil
}

func (e *Executor) execPost(ctx context.Context, a PlannedAction, res *ActionResult) error {
	if a.ChannelID == "" {
		return fmt.Errorf("post requires channel_id")
	}

	directive := ""
	if a.TargetBotName != "" {
		mention, err := e.transport.MentionFor(ctx, a.ChannelID, a.TargetBotName)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", a.TargetBotName, err)
		}
		directive = fmt.Sprintf("Address your post to %s (%s).", a.TargetBotName, mention)
	}

	msgID, err := e.post.Post(ctx, a.ChannelID, directive)
	if err != nil {
		return err
	}

	// Tell other characters a musing just landed.
	if _, err := e.cache.SetIfAbsent(ctx, e.cfg.MusingCooldownKey, e.char.ID, e.cfg.MusingCooldown); err != nil {
		logging.Warn("execute", "musing cooldown set failed: %v", err)
	}

	res.MessageID = msgID
	return nil
}

func (e *Executor) execReachOut(ctx context.Context, a PlannedAction, res *ActionResult) error {
	if a.TargetUserID == "" {
		return fmt.Errorf("reach_out requires target_user_id")
	}

	dmChannel, err := e.transport.CreateDMChannel(ctx, a.TargetUserID)
	if err != nil {
		if errors.Is(err, transport.ErrDMsDisabled) {
			// Reported, not raised: operators may care, the user never
			// sees anything.
			res.Note = "dms_disabled"
			return fmt.Errorf("could not reach user %s: direct messages disabled", a.TargetUserID)
		}
		return err
	}

	msgID, err := e.convo.ProcessMessage(ctx, ConversationRequest{
		ChannelID: dmChannel,
		Proactive: true,
		Note:      "You are reaching out first; they have not messaged you. " + a.Reason,
		Send: func(ctx context.Context, content string) (string, error) {
			return e.transport.SendMessage(ctx, dmChannel, content)
		},
	})
	if err != nil {
		if errors.Is(err, transport.ErrDMsDisabled) {
			res.Note = "dms_disabled"
			return fmt.Errorf("could not reach user %s: direct messages disabled", a.TargetUserID)
		}
		return err
	}

	res.MessageID = msgID
	return nil
}

func (e *Executor) execWriteDiary(ctx context.Context, _ PlannedAction, res *ActionResult) error {
	id, err := e.diary.WriteDiary(ctx)
	if err != nil {
		return err
	}
	res.ArtifactID = id
	return nil
}

func (e *Executor) execGenerateDream(ctx context.Context, _ PlannedAction, res *ActionResult) error {
	// One dream per character per day across all processes. Losing the
	// lease is a success that did nothing.
	key := fmt.Sprintf("lock:dream:%s:%s", e.char.ID, time.Now().In(e.char.Location()).Format("2006-01-02"))
	won, err := e.lease.Acquire(ctx, key, e.cfg.DreamLockTTL)
	if err != nil {
		return fmt.Errorf("dream lock: %w", err)
	}
	if !won {
		res.Skipped = true
		res.Note = "lock_held"
		return nil
	}

	id, err := e.dream.GenerateDream(ctx)
	if err != nil {
		return err
	}
	res.ArtifactID = id
	return nil
}

func (e *Executor) execReviewGoals(ctx context.Context, _ PlannedAction, res *ActionResult) error {
	id, err := e.goals.ReviewGoals(ctx)
	if err != nil {
		return err
	}
	res.ArtifactID = id
	return nil
}

func (e *Executor) execSkip(_ context.Context, _ PlannedAction, _ *ActionResult) error {
	return nil
}
