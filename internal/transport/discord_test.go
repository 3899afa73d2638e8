package transport

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestProject(t *testing.T) {
	d := &Discord{ackEmoji: "👀"}
	ts := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

	got := d.project(&discordgo.Message{
		ID:        "m1",
		ChannelID: "ch-1",
		Content:   "hello there",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "u-1", Username: "fern", Bot: true},
		MessageReference: &discordgo.MessageReference{
			MessageID: "m0",
			ChannelID: "ch-1",
		},
		Mentions: []*discordgo.User{{ID: "u-2"}, {ID: "u-3"}},
		Reactions: []*discordgo.MessageReactions{
			{Me: false, Emoji: &discordgo.Emoji{Name: "👀"}},
			{Me: true, Emoji: &discordgo.Emoji{Name: "🌱"}},
		},
	})

	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "ch-1", got.ChannelID)
	assert.Equal(t, ts, got.CreatedAt)
	assert.Equal(t, Author{ID: "u-1", Name: "fern", Bot: true}, got.Author)
	assert.Equal(t, "m0", got.ReplyToID)
	assert.Equal(t, []string{"u-2", "u-3"}, got.MentionIDs)
	assert.False(t, got.SeenByMe, "someone else's ack and my other reactions do not count")
}

func TestProjectSeenByMe(t *testing.T) {
	d := &Discord{ackEmoji: "👀"}

	got := d.project(&discordgo.Message{
		ID: "m1",
		Reactions: []*discordgo.MessageReactions{
			{Me: true, Emoji: &discordgo.Emoji{Name: "👀"}},
		},
	})
	assert.True(t, got.SeenByMe)
}

func TestMessageMentions(t *testing.T) {
	m := Message{MentionIDs: []string{"u-1", "u-2"}}
	assert.True(t, m.Mentions("u-1"))
	assert.False(t, m.Mentions("u-9"))

	empty := Message{}
	assert.False(t, empty.Mentions("u-1"))
}

func TestIsDMsDisabled(t *testing.T) {
	disabled := &discordgo.RESTError{
		Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeCannotSendMessagesToThisUser},
	}
	assert.True(t, isDMsDisabled(disabled))

	other := &discordgo.RESTError{
		Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingAccess},
	}
	assert.False(t, isDMsDisabled(other))
	assert.False(t, isDMsDisabled(assert.AnError))
}
