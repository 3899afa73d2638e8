package lifecycle

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlin/pulse/internal/cache"
	"github.com/mkarlin/pulse/internal/character"
	"github.com/mkarlin/pulse/internal/embedding"
	"github.com/mkarlin/pulse/internal/logging"
	"github.com/mkarlin/pulse/internal/transport"
)

// Artifact type names used against the ArtifactReader.
const (
	artifactDiary      = "diary"
	artifactDream      = "dream"
	artifactGoalReview = "goal_review"
)

// GatherConfig tunes the sense phase.
type GatherConfig struct {
	WatchChannels   []string
	ConvoChannels   []string
	PostingChannels []string

	Lookback           int
	RelevanceThreshold float64
	ChainLimit         int
	QuietMinutes       int

	SpontaneityEnabled bool
	SpontaneityChance  float64
	MusingCooldownKey  string

	GoalReviewHour    int
	GoalStalenessDays int

	AbsenceTrustThreshold float64
	AbsenceDays           int
	AbsenceLimit          int

	ContentMax int // per-message excerpt width carried into the briefing
}

func (c *GatherConfig) withDefaults() {
	if c.Lookback == 0 {
		c.Lookback = 100
	}
	if c.RelevanceThreshold == 0 {
		c.RelevanceThreshold = 0.6
	}
	if c.ChainLimit == 0 {
		c.ChainLimit = 5
	}
	if c.QuietMinutes == 0 {
		c.QuietMinutes = 15
	}
	if c.SpontaneityChance == 0 {
		c.SpontaneityChance = 0.01
	}
	if c.MusingCooldownKey == "" {
		c.MusingCooldownKey = "cooldown:musing"
	}
	if c.GoalReviewHour == 0 {
		c.GoalReviewHour = 18
	}
	if c.GoalStalenessDays == 0 {
		c.GoalStalenessDays = 7
	}
	if c.AbsenceTrustThreshold == 0 {
		c.AbsenceTrustThreshold = 0.5
	}
	if c.AbsenceDays == 0 {
		c.AbsenceDays = 3
	}
	if c.AbsenceLimit == 0 {
		c.AbsenceLimit = 5
	}
	if c.ContentMax == 0 {
		c.ContentMax = 280
	}
}

// Gatherer builds the cycle snapshot. It owns the per-character interest
// embedding cache; everything else it touches belongs to a collaborator.
type Gatherer struct {
	char *character.Character
	cfg  GatherConfig

	transport transport.Transport
	embedder  Embedder
	artifacts ArtifactReader
	graph     RelationshipReader
	cache     cache.Store

	diaryMaterial MaterialChecker
	dreamMaterial MaterialChecker

	now  func() time.Time
	roll func() float64

	mu          sync.Mutex
	interestVec []float64
}

// NewGatherer wires a gatherer.
func NewGatherer(char *character.Character, cfg GatherConfig,
	tr transport.Transport, emb Embedder, art ArtifactReader,
	graph RelationshipReader, cacheStore cache.Store,
	diaryMaterial, dreamMaterial MaterialChecker) *Gatherer {

	cfg.withDefaults()
	return &Gatherer{
		char:          char,
		cfg:           cfg,
		transport:     tr,
		embedder:      emb,
		artifacts:     art,
		graph:         graph,
		cache:         cacheStore,
		diaryMaterial: diaryMaterial,
		dreamMaterial: dreamMaterial,
		now:           time.Now,
		roll:          rand.Float64,
	}
}

// InvalidateInterests drops the cached interest embedding. Called when the
// character sheet is reloaded.
func (g *Gatherer) InvalidateInterests() {
	g.mu.Lock()
	g.interestVec = nil
	g.mu.Unlock()
}

// Gather produces a fully-populated CycleState, or the safe skip snapshot
// if anything unexpected escapes the guarded branches. It never panics past
// its boundary.
func (g *Gatherer) Gather(ctx context.Context) (st *CycleState) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("gather", "falling back to safe skip snapshot: %v", r)
			st = g.safeSkip()
		}
	}()

	now := g.now().In(g.char.Location())
	st = &CycleState{
		CycleID:       uuid.NewString()[:8],
		CharacterID:   g.char.ID,
		CharacterName: g.char.Name,
		Now:           now,
		Bucket:        BucketFor(now),
		Weekday:       now.Weekday(),
	}

	channelIDs := g.watchedChannels()

	// Fan out: one branch per channel plus internal tasks and the
	// relationship graph. A failed branch contributes its zero value, never
	// a cycle failure.
	type channelScan struct {
		state    *ChannelState
		mentions []ScoredMessage
	}
	scans := make([]channelScan, len(channelIDs))

	var wg sync.WaitGroup
	for i, id := range channelIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			guard("channel "+id, func() error {
				cs, mentions, err := g.scanChannel(ctx, id)
				if err != nil {
					return err
				}
				scans[i] = channelScan{state: cs, mentions: mentions}
				return nil
			})
		}(i, id)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		guard("internal tasks", func() error {
			st.Tasks = g.internalTasks(ctx, now)
			return nil
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		guard("relationship graph", func() error {
			absences, err := g.graph.ConcerningAbsences(ctx, g.char.ID,
				g.cfg.AbsenceTrustThreshold, g.cfg.AbsenceDays, g.cfg.AbsenceLimit)
			if err != nil {
				return err
			}
			for _, a := range absences {
				st.Absences = append(st.Absences, ConcerningAbsence{
					UserID:     a.UserID,
					UserName:   a.UserName,
					DaysAbsent: a.DaysAbsent,
					Strength:   a.Trust,
					LastTopic:  a.LastTopic,
				})
			}
			return nil
		})
	}()

	wg.Wait()

	// Join: collect channel states, extract mentions honoring the
	// anti-ping-pong guard, compute max relevance.
	for _, scan := range scans {
		if scan.state == nil {
			continue // branch failed
		}
		st.Channels = append(st.Channels, *scan.state)
		if scan.state.MaxRelevance > st.MaxRelevance {
			st.MaxRelevance = scan.state.MaxRelevance
		}
		if scan.state.ConsecutiveBots >= g.cfg.ChainLimit {
			// Bot chain at the head: leave this channel alone entirely.
			continue
		}
		st.Mentions = append(st.Mentions, scan.mentions...)
	}
	sort.SliceStable(st.Mentions, func(i, j int) bool {
		return st.Mentions[i].CreatedAt.Before(st.Mentions[j].CreatedAt)
	})

	st.HasRelevantContent = len(st.Mentions) > 0 || st.MaxRelevance >= g.cfg.RelevanceThreshold
	st.HasPendingInternalTasks = st.Tasks.Any() || len(st.Absences) > 0
	st.WantsToSocialize = g.wantsToSocialize(ctx, st)
	st.DeriveFlags()

	return st
}

// guard runs one gather branch with its own failure capture.
func guard(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("gather", "%s branch panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		logging.Warn("gather", "%s branch failed: %v", name, err)
	}
}

// watchedChannels is the explicit allow-list plus the configured
// conversation and posting channels, de-duplicated, order preserved.
func (g *Gatherer) watchedChannels() []string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range [][]string{g.cfg.WatchChannels, g.cfg.ConvoChannels, g.cfg.PostingChannels} {
		for _, id := range group {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// scanChannel fetches and scores one channel's recent history. The returned
// mentions are this channel's unanswered bot mentions; the caller decides
// whether the chain limit suppresses them.
func (g *Gatherer) scanChannel(ctx context.Context, channelID string) (*ChannelState, []ScoredMessage, error) {
	raw, err := g.transport.FetchRecentMessages(ctx, channelID, g.cfg.Lookback)
	if err != nil {
		return nil, nil, err
	}

	// Messages already carrying the ack reaction are settled business.
	msgs := raw[:0:0]
	for _, m := range raw {
		if !m.SeenByMe {
			msgs = append(msgs, m)
		}
	}

	cs := &ChannelState{
		ID:              channelID,
		Name:            g.transport.ChannelName(ctx, channelID),
		MessageCount:    len(msgs),
		LastHumanAgeMin: -1,
		LastAnyAgeMin:   -1,
	}

	now := g.now()
	if len(msgs) > 0 {
		cs.LastAnyAgeMin = now.Sub(msgs[0].CreatedAt).Minutes()
	}
	for _, m := range msgs {
		if !m.Author.Bot {
			cs.LastHumanAgeMin = now.Sub(m.CreatedAt).Minutes()
			break
		}
	}
	for _, m := range msgs {
		if !m.Author.Bot {
			break
		}
		cs.ConsecutiveBots++
	}

	// Which of my own replies answer which parent messages.
	answered := make(map[string]bool)
	for _, m := range msgs {
		if m.Author.ID == g.char.UserID && m.ReplyToID != "" {
			answered[m.ReplyToID] = true
		}
	}

	scored := g.scoreMessages(ctx, channelID, msgs)
	cs.Messages = scored
	for _, sm := range scored {
		if sm.RelevanceScore > cs.MaxRelevance {
			cs.MaxRelevance = sm.RelevanceScore
		}
	}

	// Unanswered mentions from other bots only. Human mentions belong to
	// the immediate-response path, never to this loop.
	var mentions []ScoredMessage
	for _, sm := range scored {
		if !sm.AuthorIsBot {
			continue
		}
		if !sm.IsMention && !sm.IsReplyToMe {
			continue
		}
		if answered[sm.ID] {
			continue
		}
		mentions = append(mentions, sm)
	}

	return cs, mentions, nil
}

// scoreMessages embeds the channel's messages in one batch and attaches
// relevance, mention, and reply annotations. Embedding failure degrades to
// zero scores, not a channel failure.
func (g *Gatherer) scoreMessages(ctx context.Context, channelID string, msgs []transport.Message) []ScoredMessage {
	// Parent author lookup for is_reply_to_me.
	byID := make(map[string]*transport.Message, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
	}

	var candidates []*transport.Message
	for i := range msgs {
		if msgs[i].Author.ID == g.char.UserID {
			continue // my own messages carry no relevance signal
		}
		candidates = append(candidates, &msgs[i])
	}
	if len(candidates) == 0 {
		return nil
	}

	scores := make(map[string]float64, len(candidates))
	interest := g.interestVector(ctx)
	if interest != nil {
		var texts []string
		var withText []*transport.Message
		for _, m := range candidates {
			if m.Content == "" {
				continue
			}
			texts = append(texts, m.Content)
			withText = append(withText, m)
		}
		if len(texts) > 0 {
			vecs, err := g.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				logging.Warn("gather", "embed batch for %s failed: %v", channelID, err)
			} else {
				for i, m := range withText {
					scores[m.ID] = clamp01(embedding.CosineSimilarity(interest, vecs[i]))
				}
			}
		}
	}

	out := make([]ScoredMessage, 0, len(candidates))
	for _, m := range candidates {
		sm := ScoredMessage{
			ID:             m.ID,
			ChannelID:      channelID,
			AuthorID:       m.Author.ID,
			AuthorName:     m.Author.Name,
			AuthorIsBot:    m.Author.Bot,
			Content:        logging.Truncate(m.Content, g.cfg.ContentMax),
			CreatedAt:      m.CreatedAt,
			RelevanceScore: scores[m.ID],
			IsMention:      m.Mentions(g.char.UserID),
			ReferenceID:    m.ReplyToID,
		}
		if m.ReplyToID != "" {
			if parent, ok := byID[m.ReplyToID]; ok && parent.Author.ID == g.char.UserID {
				sm.IsReplyToMe = true
			}
		}
		out = append(out, sm)
	}
	return out
}

// interestVector returns the cached interest embedding, computing it on
// first use. A failed computation logs and returns nil; the next cycle
// retries.
func (g *Gatherer) interestVector(ctx context.Context) []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.interestVec != nil {
		return g.interestVec
	}

	text := g.char.InterestText()
	if text == "" {
		return nil
	}
	vec, err := g.embedder.Embed(ctx, text)
	if err != nil {
		logging.Warn("gather", "interest embedding failed: %v", err)
		return nil
	}
	g.interestVec = vec
	return vec
}

// internalTasks evaluates the three internal-upkeep flags. Failures on any
// sub-check degrade that flag to false.
func (g *Gatherer) internalTasks(ctx context.Context, now time.Time) InternalTasks {
	var tasks InternalTasks

	tasks.DiaryLastAt = g.lastArtifact(ctx, artifactDiary)
	tasks.DreamLastAt = g.lastArtifact(ctx, artifactDream)
	tasks.GoalsLastAt = g.lastArtifact(ctx, artifactGoalReview)

	loc := g.char.Location()
	bucket := BucketFor(now)

	// Diary: evenings only, once per local day, and only when there is
	// actually something to write about.
	if bucket == Evening && !doneToday(tasks.DiaryLastAt, now, loc) && !g.snoozed(ctx, "diary") {
		tasks.DiaryOverdue = g.materialReady(ctx, g.diaryMaterial, "diary")
	}

	// Dreams: symmetric, gated to mornings.
	if bucket == Morning && !doneToday(tasks.DreamLastAt, now, loc) && !g.snoozed(ctx, "dream") {
		tasks.DreamReady = g.materialReady(ctx, g.dreamMaterial, "dream")
	}

	// Goal review: only near the configured hour, only past the staleness
	// horizon. Keeps technically-stale goals from waking the model every
	// cycle.
	if hourDistance(now.Hour(), g.cfg.GoalReviewHour) <= 1 {
		stale := tasks.GoalsLastAt == nil ||
			now.Sub(*tasks.GoalsLastAt) > time.Duration(g.cfg.GoalStalenessDays)*24*time.Hour
		if stale && !g.snoozed(ctx, "goals") {
			tasks.GoalsStale = true
		}
	}

	return tasks
}

func (g *Gatherer) lastArtifact(ctx context.Context, artifactType string) *time.Time {
	ts, err := g.artifacts.LastTimestamp(ctx, g.char.ID, artifactType)
	if err != nil {
		logging.Warn("gather", "%s timestamp lookup failed: %v", artifactType, err)
		return nil
	}
	return ts
}

// snoozed checks the external snooze key for an internal task. A cache
// error counts as snoozed so a flaky cache cannot cause repeated nagging.
func (g *Gatherer) snoozed(ctx context.Context, task string) bool {
	key := fmt.Sprintf("snooze:%s:%s", g.char.ID, task)
	exists, err := g.cache.Exists(ctx, key)
	if err != nil {
		logging.Warn("gather", "snooze check %s failed: %v", key, err)
		return true
	}
	return exists
}

func (g *Gatherer) materialReady(ctx context.Context, checker MaterialChecker, name string) bool {
	if checker == nil {
		return false
	}
	ok, err := checker.Sufficient(ctx)
	if err != nil {
		logging.Warn("gather", "%s material check failed: %v", name, err)
		return false
	}
	return ok
}

// wantsToSocialize is the spontaneity trigger: waking hours, nothing else
// to do, a genuinely quiet server, no other character musing recently, and
// a low-probability roll. Produces organic-looking activity on idle servers
// without dominating behavior.
func (g *Gatherer) wantsToSocialize(ctx context.Context, st *CycleState) bool {
	if !g.cfg.SpontaneityEnabled {
		return false
	}
	if !g.char.Awake(st.Now.Hour()) {
		return false
	}
	if st.HasRelevantContent || st.HasPendingInternalTasks {
		return false
	}
	if len(st.Channels) == 0 {
		return false
	}

	// Quietest channel: the one that has gone longest without any message.
	// A channel with nothing in the lookback window counts as quiet.
	quietest := -1.0
	empty := false
	for _, ch := range st.Channels {
		if ch.LastAnyAgeMin < 0 {
			empty = true
			continue
		}
		if ch.LastAnyAgeMin > quietest {
			quietest = ch.LastAnyAgeMin
		}
	}
	if !empty && quietest < float64(g.cfg.QuietMinutes) {
		return false
	}

	// Someone else mused recently; let the server breathe.
	musing, err := g.cache.Exists(ctx, g.cfg.MusingCooldownKey)
	if err != nil {
		logging.Warn("gather", "musing cooldown check failed: %v", err)
		return false
	}
	if musing {
		return false
	}

	return g.roll() < g.cfg.SpontaneityChance
}

// safeSkip is the catastrophic-failure snapshot: empty, should_skip, and
// nothing else.
func (g *Gatherer) safeSkip() *CycleState {
	now := time.Now()
	if g.char != nil {
		now = now.In(g.char.Location())
	}
	st := &CycleState{
		CycleID: uuid.NewString()[:8],
		Now:     now,
		Bucket:  BucketFor(now),
		Weekday: now.Weekday(),
	}
	if g.char != nil {
		st.CharacterID = g.char.ID
		st.CharacterName = g.char.Name
	}
	st.ShouldSkip = true
	return st
}

func doneToday(last *time.Time, now time.Time, loc *time.Location) bool {
	if last == nil {
		return false
	}
	l := last.In(loc)
	return l.Year() == now.Year() && l.YearDay() == now.YearDay()
}

// hourDistance is the circular distance between two hours of day.
func hourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if 24-d < d {
		d = 24 - d
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
