// Package generators provides the default local-model implementations of
// the generation collaborators the loop delegates to: conversation replies,
// spontaneous posts, diary entries, dreams, and goal reviews. Hosted
// deployments swap these for their own pipelines; the loop only ever sees
// the interfaces.
package generators

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlin/pulse/internal/artifacts"
	"github.com/mkarlin/pulse/internal/character"
	"github.com/mkarlin/pulse/internal/embedding"
	"github.com/mkarlin/pulse/internal/journal"
	"github.com/mkarlin/pulse/internal/lifecycle"
	"github.com/mkarlin/pulse/internal/transport"
)

// Set bundles the default collaborators around one character.
type Set struct {
	llm       *embedding.Client
	char      *character.Character
	tr        transport.Transport
	artifacts *artifacts.Store
	journal   *journal.Journal
}

// New wires the default generator set.
func New(llm *embedding.Client, char *character.Character, tr transport.Transport,
	store *artifacts.Store, jrnl *journal.Journal) *Set {
	return &Set{llm: llm, char: char, tr: tr, artifacts: store, journal: jrnl}
}

func (s *Set) persona() string {
	return fmt.Sprintf("You are %s. Your drives: %s. Stay in character, be brief and natural.",
		s.char.Name, strings.Join(s.char.Drives, "; "))
}

// ProcessMessage generates a reply to the target message (or a proactive
// opener) and delivers it through the send callback.
func (s *Set) ProcessMessage(ctx context.Context, req lifecycle.ConversationRequest) (string, error) {
	var prompt strings.Builder
	prompt.WriteString(s.persona())
	prompt.WriteString("\n\n")

	if req.MessageID != "" {
		target, err := s.tr.FetchMessage(ctx, req.ChannelID, req.MessageID)
		if err != nil {
			return "", fmt.Errorf("fetch target: %w", err)
		}
		fmt.Fprintf(&prompt, "%s said: %q\nWrite your reply. Output only the reply text.",
			target.Author.Name, target.Content)
	} else {
		prompt.WriteString("Write a short, warm opening message. Output only the message text.")
	}
	if req.Note != "" {
		fmt.Fprintf(&prompt, "\nContext: %s", req.Note)
	}

	text, err := s.llm.Generate(ctx, prompt.String())
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	return req.Send(ctx, strings.TrimSpace(text))
}

// Post writes a spontaneous musing to the channel.
func (s *Set) Post(ctx context.Context, channelID, directive string) (string, error) {
	prompt := s.persona() + "\n\nThe channel has been quiet. Write one short musing or observation to start a conversation. Output only the message text."
	if directive != "" {
		prompt += "\n" + directive
	}

	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate post: %w", err)
	}
	return s.tr.SendMessage(ctx, channelID, strings.TrimSpace(text))
}

// WriteDiary produces today's diary entry from the day's journal.
func (s *Set) WriteDiary(ctx context.Context) (string, error) {
	entries, err := s.journal.Today()
	if err != nil {
		return "", fmt.Errorf("read journal: %w", err)
	}

	var day strings.Builder
	for _, e := range entries {
		if e.Summary != "" {
			day.WriteString("- " + e.Summary + "\n")
		}
	}

	prompt := fmt.Sprintf("%s\n\nWhat happened today:\n%s\nWrite a short first-person diary entry about today. Output only the entry.",
		s.persona(), day.String())

	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate diary: %w", err)
	}

	return s.record(ctx, artifacts.TypeDiary, text)
}

// GenerateDream produces a dream record recombining recent material.
func (s *Set) GenerateDream(ctx context.Context) (string, error) {
	prompt := s.persona() + "\n\nWrite a short, surreal dream you had last night, loosely recombining things from your recent days. Output only the dream."
	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate dream: %w", err)
	}
	return s.record(ctx, artifacts.TypeDream, text)
}

// ReviewGoals produces a goal-review artifact.
func (s *Set) ReviewGoals(ctx context.Context) (string, error) {
	var goals strings.Builder
	for _, g := range s.char.Goals {
		goals.WriteString("- " + g.Title + ": " + g.Description + "\n")
	}
	prompt := fmt.Sprintf("%s\n\nYour goals:\n%s\nReflect briefly: which are moving, which are stuck, what should change. Output only the reflection.",
		s.persona(), goals.String())

	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate goal review: %w", err)
	}
	return s.record(ctx, artifacts.TypeGoalReview, text)
}

func (s *Set) record(ctx context.Context, artifactType, content string) (string, error) {
	id := uuid.NewString()
	if err := s.artifacts.Record(ctx, s.char.ID, artifactType, id, strings.TrimSpace(content), time.Now()); err != nil {
		return "", fmt.Errorf("record %s: %w", artifactType, err)
	}
	return id, nil
}

// JournalMaterial gates diary writing on there being enough of a day to
// write about.
type JournalMaterial struct {
	Journal *journal.Journal
	Min     int
}

// Sufficient reports whether today produced at least Min journal entries.
func (m *JournalMaterial) Sufficient(_ context.Context) (bool, error) {
	entries, err := m.Journal.Today()
	if err != nil {
		return false, err
	}
	min := m.Min
	if min == 0 {
		min = 3
	}
	return len(entries) >= min, nil
}

// DreamMaterial gates dreams on a recent diary entry existing; dreams
// recombine diary material.
type DreamMaterial struct {
	Artifacts   *artifacts.Store
	CharacterID string
	MaxAge      time.Duration
}

// Sufficient reports whether a diary entry exists within MaxAge.
func (m *DreamMaterial) Sufficient(ctx context.Context) (bool, error) {
	last, err := m.Artifacts.LastTimestamp(ctx, m.CharacterID, artifacts.TypeDiary)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	maxAge := m.MaxAge
	if maxAge == 0 {
		maxAge = 48 * time.Hour
	}
	return time.Since(*last) <= maxAge, nil
}
