package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlin/pulse/internal/cache"
	"github.com/mkarlin/pulse/internal/relgraph"
	"github.com/mkarlin/pulse/internal/transport"
)

type gatherFixture struct {
	g         *Gatherer
	transport *fakeTransport
	embedder  *fakeEmbedder
	artifacts *fakeArtifacts
	graph     *fakeGraph
	cache     *cache.Memory
	diaryMat  *fakeMaterial
	dreamMat  *fakeMaterial
}

func newGatherFixture(t *testing.T, cfg GatherConfig) *gatherFixture {
	t.Helper()

	f := &gatherFixture{
		transport: newFakeTransport(),
		embedder:  &fakeEmbedder{},
		artifacts: newFakeArtifacts(),
		graph:     &fakeGraph{},
		cache:     cache.NewMemory(),
		diaryMat:  &fakeMaterial{},
		dreamMat:  &fakeMaterial{},
	}
	f.cache.Now = func() time.Time { return testNow }

	// testNow's hour sits inside the default goal-review window; a fresh
	// review keeps the stale flag quiet unless a test arranges otherwise.
	f.artifacts.set(artifactGoalReview, testNow.Add(-24*time.Hour))

	if cfg.WatchChannels == nil {
		cfg.WatchChannels = []string{"ch-1"}
	}
	f.g = NewGatherer(testCharacter(), cfg, f.transport, f.embedder,
		f.artifacts, f.graph, f.cache, f.diaryMat, f.dreamMat)
	f.g.now = func() time.Time { return testNow }
	f.g.roll = func() float64 { return 0.99 } // roll fails unless a test overrides
	return f
}

func TestDeriveFlags_SkipInvariant(t *testing.T) {
	// should_skip must be the exact negation of the OR, for every combination.
	for _, relevant := range []bool{false, true} {
		for _, tasks := range []bool{false, true} {
			for _, social := range []bool{false, true} {
				st := &CycleState{
					HasRelevantContent:      relevant,
					HasPendingInternalTasks: tasks,
					WantsToSocialize:        social,
				}
				st.DeriveFlags()
				assert.Equal(t, !(relevant || tasks || social), st.ShouldSkip,
					"relevant=%v tasks=%v social=%v", relevant, tasks, social)
			}
		}
	}
}

func TestGather_BotChainExcludesMentions(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{ChainLimit: 5})

	// Six consecutive bot messages at the head, one a direct mention.
	f.transport.channels["ch-1"] = []transport.Message{
		msg("m1", "ch-1", "chatter", 1*time.Minute, botAuthor("bot-2", "fern")),
		msg("m2", "ch-1", "hey you", 2*time.Minute, botAuthor("bot-2", "fern"), mentioning("self-id")),
		msg("m3", "ch-1", "chatter", 3*time.Minute, botAuthor("bot-3", "moss")),
		msg("m4", "ch-1", "chatter", 4*time.Minute, botAuthor("bot-2", "fern")),
		msg("m5", "ch-1", "chatter", 5*time.Minute, botAuthor("bot-3", "moss")),
		msg("m6", "ch-1", "chatter", 6*time.Minute, botAuthor("bot-2", "fern")),
		msg("m7", "ch-1", "a human was here", 30*time.Minute),
	}

	st := f.g.Gather(context.Background())

	require.Len(t, st.Channels, 1)
	assert.Equal(t, 6, st.Channels[0].ConsecutiveBots)
	assert.Empty(t, st.Mentions, "chain-limited channel must contribute no mentions")
}

func TestGather_MentionExtraction(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{WatchChannels: []string{"ch-1", "ch-2"}})

	f.transport.channels["ch-1"] = []transport.Message{
		// My own reply answering m-old: m-old must not be extracted.
		msg("mine", "ch-1", "already answered you", 1*time.Minute, botAuthor("self-id", "Juniper"), replyTo("m-old")),
		// Unanswered bot mention.
		msg("m-new", "ch-1", "thoughts?", 3*time.Minute, botAuthor("bot-3", "moss"), mentioning("self-id")),
		// Human mention: handled by the immediate path, never extracted here.
		msg("m-human", "ch-1", "hey juniper", 5*time.Minute, humanAuthor("human-1", "alice"), mentioning("self-id")),
		msg("m-old", "ch-1", "ping", 10*time.Minute, botAuthor("bot-2", "fern"), mentioning("self-id")),
	}
	f.transport.channels["ch-2"] = []transport.Message{
		// Older than m-new; FIFO ordering puts it first.
		msg("m-older", "ch-2", "still waiting", 20*time.Minute, botAuthor("bot-2", "fern"), mentioning("self-id")),
	}

	st := f.g.Gather(context.Background())

	require.Len(t, st.Mentions, 2)
	assert.Equal(t, "m-older", st.Mentions[0].ID, "mentions are oldest-first")
	assert.Equal(t, "m-new", st.Mentions[1].ID)
	for _, m := range st.Mentions {
		assert.True(t, m.AuthorIsBot, "only bot mentions may be extracted")
	}
	assert.True(t, st.HasRelevantContent)
	assert.False(t, st.ShouldSkip)
}

func TestGather_ReplyToMeCountsAsMention(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{})

	f.transport.channels["ch-1"] = []transport.Message{
		msg("m-reply", "ch-1", "responding to you", 2*time.Minute, botAuthor("bot-2", "fern"), replyTo("m-mine")),
		msg("m-mine", "ch-1", "my earlier message", 8*time.Minute, botAuthor("self-id", "Juniper")),
	}

	st := f.g.Gather(context.Background())

	require.Len(t, st.Mentions, 1)
	assert.Equal(t, "m-reply", st.Mentions[0].ID)
	assert.True(t, st.Mentions[0].IsReplyToMe)
}

func TestGather_SeenMessagesExcluded(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{})

	f.transport.channels["ch-1"] = []transport.Message{
		msg("m-acked", "ch-1", "old ping", 4*time.Minute, botAuthor("bot-2", "fern"), mentioning("self-id"), seen()),
		msg("m-plain", "ch-1", "nothing much", 9*time.Minute),
	}

	st := f.g.Gather(context.Background())

	require.Len(t, st.Channels, 1)
	assert.Equal(t, 1, st.Channels[0].MessageCount, "acked messages drop out at fetch time")
	assert.Empty(t, st.Mentions)
}

func TestGather_RelevanceScoring(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{RelevanceThreshold: 0.6})

	f.transport.channels["ch-1"] = []transport.Message{
		msg("m1", "ch-1", "anyone into space telescopes lately", 5*time.Minute),
		msg("m2", "ch-1", "what's for lunch", 10*time.Minute),
	}

	st := f.g.Gather(context.Background())

	require.Len(t, st.Channels, 1)
	assert.InDelta(t, 1.0, st.Channels[0].MaxRelevance, 0.001)
	assert.InDelta(t, 1.0, st.MaxRelevance, 0.001)
	assert.True(t, st.HasRelevantContent)
	assert.False(t, st.ShouldSkip)

	// Per-message scores landed on the right messages.
	var spaceScore, lunchScore float64
	for _, m := range st.Channels[0].Messages {
		switch m.ID {
		case "m1":
			spaceScore = m.RelevanceScore
		case "m2":
			lunchScore = m.RelevanceScore
		}
	}
	assert.InDelta(t, 1.0, spaceScore, 0.001)
	assert.InDelta(t, 0.0, lunchScore, 0.001)
}

func TestGather_LowRelevanceSkips(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{RelevanceThreshold: 0.6})

	f.transport.channels["ch-1"] = []transport.Message{
		msg("m1", "ch-1", "what's for lunch", 2*time.Minute),
	}

	st := f.g.Gather(context.Background())

	assert.False(t, st.HasRelevantContent)
	assert.False(t, st.HasPendingInternalTasks)
	assert.False(t, st.WantsToSocialize)
	assert.True(t, st.ShouldSkip)
}

func TestGather_DiaryDoneTodayNeverOverdue(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{})
	f.diaryMat.ok = true // plenty of material; must not matter

	// Diary written at local midnight today; it is evening of the same day.
	midnight := time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)
	f.artifacts.set(artifactDiary, midnight)

	st := f.g.Gather(context.Background())

	assert.Equal(t, Evening, st.Bucket)
	assert.False(t, st.Tasks.DiaryOverdue)
}

func TestGather_DiaryOverdueRequiresMaterial(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{})

	// No diary today, it is evening, but nothing worth writing about.
	st := f.g.Gather(context.Background())
	assert.False(t, st.Tasks.DiaryOverdue, "no nagging when there is no material")

	f.diaryMat.ok = true
	st = f.g.Gather(context.Background())
	assert.True(t, st.Tasks.DiaryOverdue)
	assert.True(t, st.HasPendingInternalTasks)
	assert.False(t, st.ShouldSkip)
}

func TestGather_DiarySnoozeSuppresses(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{})
	f.diaryMat.ok = true

	_, err := f.cache.SetIfAbsent(context.Background(), "snooze:juniper:diary", "1", time.Hour)
	require.NoError(t, err)

	st := f.g.Gather(context.Background())
	assert.False(t, st.Tasks.DiaryOverdue)
}

func TestGather_DreamGatedToMorning(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{})
	f.dreamMat.ok = true

	// testNow is evening: no dream flag even with material.
	st := f.g.Gather(context.Background())
	assert.False(t, st.Tasks.DreamReady)

	// Morning: flag set.
	f.g.now = func() time.Time { return time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC) }
	st = f.g.Gather(context.Background())
	assert.True(t, st.Tasks.DreamReady)
}

func TestGather_GoalReviewWindow(t *testing.T) {
	cases := []struct {
		name   string
		hour   int
		lastAt *time.Time
		want   bool
	}{
		{"inside window, never reviewed", 18, nil, true},
		{"edge of window", 19, nil, true},
		{"outside window", 21, nil, false},
		{"inside window, fresh review", 18, timePtr(testNow.Add(-48 * time.Hour)), false},
		{"inside window, stale review", 18, timePtr(testNow.Add(-8 * 24 * time.Hour)), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newGatherFixture(t, GatherConfig{GoalReviewHour: 18, GoalStalenessDays: 7})
			f.g.now = func() time.Time {
				return time.Date(2026, 3, 14, tc.hour, 0, 0, 0, time.UTC)
			}
			if tc.lastAt != nil {
				f.artifacts.set(artifactGoalReview, *tc.lastAt)
			} else {
				f.artifacts.clear(artifactGoalReview)
			}

			st := f.g.Gather(context.Background())
			assert.Equal(t, tc.want, st.Tasks.GoalsStale)
		})
	}
}

func TestGather_NeverReviewedGoalsBlockSkip(t *testing.T) {
	// 19:00 is inside the default review window; with no review on record
	// the stale flag alone must keep the cycle from skipping.
	f := newGatherFixture(t, GatherConfig{})
	f.artifacts.clear(artifactGoalReview)

	st := f.g.Gather(context.Background())

	assert.True(t, st.Tasks.GoalsStale)
	assert.True(t, st.HasPendingInternalTasks)
	assert.False(t, st.ShouldSkip)
}

func TestGather_GraphBranchFailureIsIsolated(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{RelevanceThreshold: 0.6})
	f.graph.err = errors.New("graph is down")

	f.transport.channels["ch-1"] = []transport.Message{
		msg("m1", "ch-1", "deep space news", 3*time.Minute),
	}

	st := f.g.Gather(context.Background())

	assert.Empty(t, st.Absences, "failed branch contributes its empty value")
	require.Len(t, st.Channels, 1, "other branches keep their real values")
	assert.True(t, st.HasRelevantContent)
	assert.False(t, st.ShouldSkip, "skip is computed from real values, not forced")
}

func TestGather_GraphPanicIsIsolated(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{})
	f.graph.panics = true

	st := f.g.Gather(context.Background())

	assert.Empty(t, st.Absences)
	assert.Len(t, st.Channels, 1)
}

func TestGather_ChannelFetchFailureIsIsolated(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{WatchChannels: []string{"ch-1", "ch-2"}})
	f.transport.fetchErr["ch-1"] = errors.New("permission denied")
	f.transport.channels["ch-2"] = []transport.Message{
		msg("m1", "ch-2", "hello", 2*time.Minute),
	}

	st := f.g.Gather(context.Background())

	require.Len(t, st.Channels, 1)
	assert.Equal(t, "ch-2", st.Channels[0].ID)
}

func TestGather_Absences(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{})
	f.graph.absences = []relgraph.Absence{
		{UserID: "u-1", UserName: "sam", DaysAbsent: 5, Trust: 0.8, LastTopic: "gardening"},
	}

	st := f.g.Gather(context.Background())

	require.Len(t, st.Absences, 1)
	assert.Equal(t, "sam", st.Absences[0].UserName)
	assert.Equal(t, 0.8, st.Absences[0].Strength)
	assert.True(t, st.HasPendingInternalTasks)
	assert.False(t, st.ShouldSkip)
}

func TestGather_Spontaneity(t *testing.T) {
	quietChannel := []transport.Message{
		msg("m1", "ch-1", "what's for lunch", 20*time.Minute),
	}

	t.Run("roll succeeds", func(t *testing.T) {
		f := newGatherFixture(t, GatherConfig{QuietMinutes: 15, SpontaneityEnabled: true})
		f.transport.channels["ch-1"] = quietChannel
		f.g.roll = func() float64 { return 0.0 }

		st := f.g.Gather(context.Background())
		assert.True(t, st.WantsToSocialize)
		assert.False(t, st.ShouldSkip)
	})

	t.Run("roll fails", func(t *testing.T) {
		f := newGatherFixture(t, GatherConfig{QuietMinutes: 15, SpontaneityEnabled: true})
		f.transport.channels["ch-1"] = quietChannel

		st := f.g.Gather(context.Background())
		assert.False(t, st.WantsToSocialize)
		assert.True(t, st.ShouldSkip)
	})

	t.Run("channel not quiet enough", func(t *testing.T) {
		f := newGatherFixture(t, GatherConfig{QuietMinutes: 15, SpontaneityEnabled: true})
		f.transport.channels["ch-1"] = []transport.Message{
			msg("m1", "ch-1", "what's for lunch", 5*time.Minute),
		}
		f.g.roll = func() float64 { return 0.0 }

		st := f.g.Gather(context.Background())
		assert.False(t, st.WantsToSocialize)
	})

	t.Run("recent musing suppresses", func(t *testing.T) {
		f := newGatherFixture(t, GatherConfig{QuietMinutes: 15, SpontaneityEnabled: true})
		f.transport.channels["ch-1"] = quietChannel
		f.g.roll = func() float64 { return 0.0 }
		_, err := f.cache.SetIfAbsent(context.Background(), "cooldown:musing", "fern", time.Hour)
		require.NoError(t, err)

		st := f.g.Gather(context.Background())
		assert.False(t, st.WantsToSocialize)
	})

	t.Run("asleep", func(t *testing.T) {
		f := newGatherFixture(t, GatherConfig{QuietMinutes: 15, SpontaneityEnabled: true})
		f.transport.channels["ch-1"] = quietChannel
		f.g.roll = func() float64 { return 0.0 }
		f.g.now = func() time.Time { return time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC) }

		st := f.g.Gather(context.Background())
		assert.False(t, st.WantsToSocialize)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newGatherFixture(t, GatherConfig{QuietMinutes: 15})
		f.transport.channels["ch-1"] = quietChannel
		f.g.roll = func() float64 { return 0.0 }

		st := f.g.Gather(context.Background())
		assert.False(t, st.WantsToSocialize)
	})
}

func TestGather_Idempotent(t *testing.T) {
	build := func() *gatherFixture {
		f := newGatherFixture(t, GatherConfig{WatchChannels: []string{"ch-1", "ch-2"}})
		f.transport.channels["ch-1"] = []transport.Message{
			msg("m1", "ch-1", "space elevators, discuss", 5*time.Minute, botAuthor("bot-2", "fern"), mentioning("self-id")),
			msg("m2", "ch-1", "lunch", 10*time.Minute),
		}
		f.transport.channels["ch-2"] = []transport.Message{
			msg("m3", "ch-2", "quiet here", 40*time.Minute),
		}
		f.diaryMat.ok = true
		return f
	}

	st1 := build().g.Gather(context.Background())
	st2 := build().g.Gather(context.Background())

	// Identical except for the generated cycle id.
	st2.CycleID = st1.CycleID
	assert.Equal(t, st1, st2)
}

func TestGather_CatastrophicFailureFallsBackToSkip(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{})
	f.g.now = nil // first use panics outside any guarded branch

	st := f.g.Gather(context.Background())

	require.NotNil(t, st)
	assert.True(t, st.ShouldSkip)
	assert.Empty(t, st.Channels)
	assert.Empty(t, st.Mentions)
	assert.Empty(t, st.Absences)
	assert.Equal(t, "juniper", st.CharacterID)
}

func TestGather_WatchedChannelsDeduplicated(t *testing.T) {
	f := newGatherFixture(t, GatherConfig{
		WatchChannels:   []string{"ch-1", "ch-2"},
		ConvoChannels:   []string{"ch-2", "ch-3"},
		PostingChannels: []string{"ch-1"},
	})

	assert.Equal(t, []string{"ch-1", "ch-2", "ch-3"}, f.g.watchedChannels())
}

func TestBucketFor(t *testing.T) {
	cases := []struct {
		hour int
		want TimeOfDay
	}{
		{5, Morning}, {10, Morning},
		{11, Midday}, {16, Midday},
		{17, Evening}, {21, Evening},
		{22, Night}, {2, Night}, {4, Night},
	}
	for _, tc := range cases {
		ts := time.Date(2026, 3, 14, tc.hour, 0, 0, 0, time.UTC)
		assert.Equal(t, tc.want, BucketFor(ts), "hour %d", tc.hour)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
