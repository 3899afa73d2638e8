package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/mkarlin/pulse/internal/logging"
)

// Discord implements Transport on a discordgo session. The session is
// shared with whatever immediate-response handler the process also runs.
type Discord struct {
	session  *discordgo.Session
	selfID   string
	ackEmoji string
}

// NewDiscord wraps an open discordgo session. ackEmoji is the character's
// "seen" marker reaction.
func NewDiscord(session *discordgo.Session, ackEmoji string) *Discord {
	selfID := ""
	if session.State != nil && session.State.User != nil {
		selfID = session.State.User.ID
	}
	return &Discord{
		session:  session,
		selfID:   selfID,
		ackEmoji: ackEmoji,
	}
}

// Connect creates and opens a session for the given bot token.
func Connect(token, ackEmoji string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open Discord connection: %w", err)
	}

	d := NewDiscord(session, ackEmoji)
	logging.Info("discord", "Connected as %s", session.State.User.Username)
	return d, nil
}

// Close disconnects the session.
func (d *Discord) Close() error {
	return d.session.Close()
}

// Session exposes the underlying session for handlers outside this loop.
func (d *Discord) Session() *discordgo.Session {
	return d.session
}

// FetchRecentMessages returns up to limit messages, newest first.
func (d *Discord) FetchRecentMessages(_ context.Context, channelID string, limit int) ([]Message, error) {
	msgs, err := d.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", channelID, err)
	}

	result := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		result = append(result, d.project(m))
	}
	return result, nil
}

// FetchMessage resolves a single message.
func (d *Discord) FetchMessage(_ context.Context, channelID, messageID string) (*Message, error) {
	m, err := d.session.ChannelMessage(channelID, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	msg := d.project(m)
	return &msg, nil
}

// SendMessage posts to a channel.
func (d *Discord) SendMessage(_ context.Context, channelID, content string) (string, error) {
	m, err := d.session.ChannelMessageSend(channelID, content)
	if err != nil {
		if isDMsDisabled(err) {
			return "", fmt.Errorf("send to %s: %w", channelID, ErrDMsDisabled)
		}
		return "", fmt.Errorf("send to %s: %w", channelID, err)
	}
	return m.ID, nil
}

// SendReply posts a threaded reply.
func (d *Discord) SendReply(_ context.Context, channelID, replyToID, content string) (string, error) {
	m, err := d.session.ChannelMessageSendReply(channelID, content, &discordgo.MessageReference{
		MessageID: replyToID,
		ChannelID: channelID,
	})
	if err != nil {
		return "", fmt.Errorf("reply in %s: %w", channelID, err)
	}
	return m.ID, nil
}

// AddReaction adds an emoji reaction.
func (d *Discord) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	if err := d.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		return fmt.Errorf("react to %s: %w", messageID, err)
	}
	return nil
}

// FetchUser resolves a user.
func (d *Discord) FetchUser(_ context.Context, userID string) (*Author, error) {
	u, err := d.session.User(userID)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", userID, err)
	}
	return &Author{ID: u.ID, Name: u.Username, Bot: u.Bot}, nil
}

// CreateDMChannel opens a DM channel with a user.
func (d *Discord) CreateDMChannel(_ context.Context, userID string) (string, error) {
	ch, err := d.session.UserChannelCreate(userID)
	if err != nil {
		if isDMsDisabled(err) {
			return "", fmt.Errorf("open DM with %s: %w", userID, ErrDMsDisabled)
		}
		return "", fmt.Errorf("open DM with %s: %w", userID, err)
	}
	return ch.ID, nil
}

// ChannelName returns a readable channel name, falling back to the id.
func (d *Discord) ChannelName(_ context.Context, channelID string) string {
	if ch, err := d.session.State.Channel(channelID); err == nil && ch.Name != "" {
		return ch.Name
	}
	if ch, err := d.session.Channel(channelID); err == nil && ch.Name != "" {
		return ch.Name
	}
	return channelID
}

// MentionFor resolves the mention form for a named member of the channel's
// guild.
func (d *Discord) MentionFor(_ context.Context, channelID, name string) (string, error) {
	ch, err := d.session.Channel(channelID)
	if err != nil {
		return "", fmt.Errorf("resolve channel %s: %w", channelID, err)
	}
	if ch.GuildID == "" {
		return "", fmt.Errorf("channel %s is not in a guild", channelID)
	}

	members, err := d.session.GuildMembersSearch(ch.GuildID, name, 5)
	if err != nil {
		return "", fmt.Errorf("search members for %q: %w", name, err)
	}
	for _, m := range members {
		if strings.EqualFold(m.User.Username, name) || strings.EqualFold(m.Nick, name) {
			return m.User.Mention(), nil
		}
	}
	return "", fmt.Errorf("no member named %q", name)
}

// project converts a discordgo message into the loop's shape.
func (d *Discord) project(m *discordgo.Message) Message {
	msg := Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		msg.Author = Author{ID: m.Author.ID, Name: m.Author.Username, Bot: m.Author.Bot}
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	for _, u := range m.Mentions {
		msg.MentionIDs = append(msg.MentionIDs, u.ID)
	}
	for _, r := range m.Reactions {
		if r.Me && r.Emoji != nil && r.Emoji.Name == d.ackEmoji {
			msg.SeenByMe = true
			break
		}
	}
	return msg
}

// isDMsDisabled checks the REST error code Discord returns when a user's
// privacy settings block the bot.
func isDMsDisabled(err error) bool {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		return rest.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser
	}
	return false
}
