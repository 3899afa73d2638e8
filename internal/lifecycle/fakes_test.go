package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mkarlin/pulse/internal/character"
	"github.com/mkarlin/pulse/internal/relgraph"
	"github.com/mkarlin/pulse/internal/transport"
)

// Fixed "now" for gather tests: a Saturday evening, UTC.
var testNow = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

func testCharacter() *character.Character {
	return &character.Character{
		ID:        "juniper",
		Name:      "Juniper",
		UserID:    "self-id",
		Drives:    []string{"space exploration and astronomy"},
		Goals:     []character.Goal{{Title: "stargazing", Description: "learn the northern constellations"}},
		Timezone:  "UTC",
		WakeHour:  8,
		SleepHour: 23,
		AckEmoji:  "👀",
	}
}

// --- transport fake ---

type sentMessage struct {
	channelID string
	replyToID string
	content   string
}

type addedReaction struct {
	channelID string
	messageID string
	emoji     string
}

type fakeTransport struct {
	mu        sync.Mutex
	channels  map[string][]transport.Message // newest first
	names     map[string]string
	fetchErr  map[string]error
	fetchHang bool // panic on fetch, for catastrophe tests

	dmChannels  map[string]string // userID -> DM channel id
	dmsDisabled map[string]bool
	mentions    map[string]string // bot name -> mention form

	sent      []sentMessage
	reactions []addedReaction
	nextID    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		channels:    make(map[string][]transport.Message),
		names:       make(map[string]string),
		fetchErr:    make(map[string]error),
		dmChannels:  make(map[string]string),
		dmsDisabled: make(map[string]bool),
		mentions:    make(map[string]string),
	}
}

func (f *fakeTransport) FetchRecentMessages(_ context.Context, channelID string, limit int) ([]transport.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchHang {
		panic("transport exploded")
	}
	if err := f.fetchErr[channelID]; err != nil {
		return nil, err
	}
	msgs := f.channels[channelID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]transport.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeTransport) FetchMessage(_ context.Context, channelID, messageID string) (*transport.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.channels[channelID] {
		if m.ID == messageID {
			cp := m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("message %s not found", messageID)
}

func (f *fakeTransport) SendMessage(_ context.Context, channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{channelID: channelID, content: content})
	return fmt.Sprintf("sent-%d", f.nextID), nil
}

func (f *fakeTransport) SendReply(_ context.Context, channelID, replyToID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{channelID: channelID, replyToID: replyToID, content: content})
	return fmt.Sprintf("sent-%d", f.nextID), nil
}

func (f *fakeTransport) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, addedReaction{channelID: channelID, messageID: messageID, emoji: emoji})
	return nil
}

func (f *fakeTransport) FetchUser(_ context.Context, userID string) (*transport.Author, error) {
	return &transport.Author{ID: userID, Name: "user-" + userID}, nil
}

func (f *fakeTransport) CreateDMChannel(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmsDisabled[userID] {
		return "", fmt.Errorf("open DM with %s: %w", userID, transport.ErrDMsDisabled)
	}
	ch, ok := f.dmChannels[userID]
	if !ok {
		ch = "dm-" + userID
		f.dmChannels[userID] = ch
	}
	return ch, nil
}

func (f *fakeTransport) ChannelName(_ context.Context, channelID string) string {
	if name, ok := f.names[channelID]; ok {
		return name
	}
	return channelID
}

func (f *fakeTransport) MentionFor(_ context.Context, _, name string) (string, error) {
	if m, ok := f.mentions[name]; ok {
		return m, nil
	}
	return "", fmt.Errorf("no member named %q", name)
}

// msg builds a transport message. Age is relative to testNow.
type msgOpt func(*transport.Message)

func botAuthor(id, name string) msgOpt {
	return func(m *transport.Message) { m.Author = transport.Author{ID: id, Name: name, Bot: true} }
}

func humanAuthor(id, name string) msgOpt {
	return func(m *transport.Message) { m.Author = transport.Author{ID: id, Name: name, Bot: false} }
}

func mentioning(userID string) msgOpt {
	return func(m *transport.Message) { m.MentionIDs = append(m.MentionIDs, userID) }
}

func replyTo(parentID string) msgOpt {
	return func(m *transport.Message) { m.ReplyToID = parentID }
}

func seen() msgOpt {
	return func(m *transport.Message) { m.SeenByMe = true }
}

func msg(id, channelID, content string, age time.Duration, opts ...msgOpt) transport.Message {
	m := transport.Message{
		ID:        id,
		ChannelID: channelID,
		Content:   content,
		CreatedAt: testNow.Add(-age),
		Author:    transport.Author{ID: "human-1", Name: "alice"},
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// --- embedder fake ---

// fakeEmbedder scores deterministically: texts containing "space" land on
// the interest axis, everything else is orthogonal.
type fakeEmbedder struct {
	err      error
	batchErr error
}

func (f *fakeEmbedder) vec(text string) []float64 {
	if strings.Contains(strings.ToLower(text), "space") {
		return []float64{1, 0}
	}
	return []float64{0, 1}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f.vec(t)
	}
	return out, nil
}

// --- artifact store fake ---

type fakeArtifacts struct {
	mu    sync.Mutex
	last  map[string]*time.Time // artifact type -> timestamp
	fail  error
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{last: make(map[string]*time.Time)}
}

func (f *fakeArtifacts) LastTimestamp(_ context.Context, _ string, artifactType string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return f.last[artifactType], nil
}

func (f *fakeArtifacts) clear(artifactType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.last, artifactType)
}

func (f *fakeArtifacts) set(artifactType string, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last[artifactType] = &ts
}

// --- relationship graph fake ---

type fakeGraph struct {
	absences []relgraph.Absence
	err      error
	panics   bool
}

func (f *fakeGraph) ConcerningAbsences(_ context.Context, _ string, _ float64, _, _ int) ([]relgraph.Absence, error) {
	if f.panics {
		panic("graph exploded")
	}
	return f.absences, f.err
}

// --- material checker fake ---

type fakeMaterial struct {
	ok  bool
	err error
}

func (f *fakeMaterial) Sufficient(_ context.Context) (bool, error) {
	return f.ok, f.err
}

// --- plan model fake ---

type fakePlanModel struct {
	resp      []byte
	err       error
	calls     int
	gotSys    string
	gotMsg    string
	gotSchema []byte
}

func (f *fakePlanModel) Plan(_ context.Context, system, briefing string, schema []byte) ([]byte, error) {
	f.calls++
	f.gotSys = system
	f.gotMsg = briefing
	f.gotSchema = schema
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// --- generation collaborator fakes ---

type fakeConvo struct {
	calls   []ConversationRequest
	err     error
	panics  bool
	content string
}

func (f *fakeConvo) ProcessMessage(ctx context.Context, req ConversationRequest) (string, error) {
	if f.panics {
		panic("pipeline exploded")
	}
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	content := f.content
	if content == "" {
		content = "hello there"
	}
	return req.Send(ctx, content)
}

type fakePoster struct {
	channelIDs []string
	directives []string
	err        error
}

func (f *fakePoster) Post(_ context.Context, channelID, directive string) (string, error) {
	f.channelIDs = append(f.channelIDs, channelID)
	f.directives = append(f.directives, directive)
	if f.err != nil {
		return "", f.err
	}
	return "post-1", nil
}

type fakeArtifactTask struct {
	calls int
	id    string
	err   error
}

func (f *fakeArtifactTask) WriteDiary(context.Context) (string, error)    { return f.run() }
func (f *fakeArtifactTask) GenerateDream(context.Context) (string, error) { return f.run() }
func (f *fakeArtifactTask) ReviewGoals(context.Context) (string, error)   { return f.run() }

func (f *fakeArtifactTask) run() (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.id == "" {
		return "artifact-1", nil
	}
	return f.id, nil
}
