// Package transport abstracts the chat platform. The daily-life loop only
// sees this interface; the discordgo implementation lives alongside it.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrDMsDisabled reports that a user cannot be reached by direct message.
// It is a routine condition, not a fault.
var ErrDMsDisabled = errors.New("user has direct messages disabled")

// Author identifies who wrote a message.
type Author struct {
	ID   string
	Name string
	Bot  bool
}

// Message is one transport message projected into the loop's terms.
type Message struct {
	ID        string
	ChannelID string
	Author    Author
	Content   string
	CreatedAt time.Time

	// ReplyToID is the parent message id when this message is a reply.
	ReplyToID string

	// MentionIDs are user ids explicitly @-addressed.
	MentionIDs []string

	// SeenByMe is true when the character's own ack reaction is already on
	// this message. The gather phase drops these at fetch time.
	SeenByMe bool
}

// Mentions reports whether the message @-addresses the given user.
func (m *Message) Mentions(userID string) bool {
	for _, id := range m.MentionIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Transport is the platform surface the loop consumes.
type Transport interface {
	// FetchRecentMessages returns up to limit messages, newest first.
	FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)

	// FetchMessage resolves a single message.
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)

	// SendMessage posts to a channel and returns the new message id.
	// Returns ErrDMsDisabled (wrapped) when the target is a DM channel the
	// recipient has closed.
	SendMessage(ctx context.Context, channelID, content string) (string, error)

	// SendReply posts a threaded reply and returns the new message id.
	SendReply(ctx context.Context, channelID, replyToID, content string) (string, error)

	// AddReaction adds an emoji reaction.
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error

	// FetchUser resolves a user.
	FetchUser(ctx context.Context, userID string) (*Author, error)

	// CreateDMChannel opens (or reuses) a DM channel with a user and
	// returns its channel id.
	CreateDMChannel(ctx context.Context, userID string) (string, error)

	// ChannelName returns a human-readable channel name, or the id when
	// the name cannot be resolved.
	ChannelName(ctx context.Context, channelID string) string

	// MentionFor resolves the mention form (<@id>) for a named character
	// visible from the given channel.
	MentionFor(ctx context.Context, channelID, name string) (string, error)
}
