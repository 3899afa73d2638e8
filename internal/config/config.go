// Package config holds the environment-driven configuration surface for the
// daily-life loop. Values come from the process environment, optionally
// seeded from a .env file by the caller.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full set of recognized options.
type Config struct {
	// Discord
	DiscordToken    string   `env:"DISCORD_TOKEN,required"`
	WatchChannels   []string `env:"WATCH_CHANNEL_IDS" envSeparator:","`
	ConvoChannels   []string `env:"CONVERSATION_CHANNEL_IDS" envSeparator:","`
	PostingChannels []string `env:"POSTING_CHANNEL_IDS" envSeparator:","`

	// Character + state
	CharacterPath string `env:"CHARACTER_PATH" envDefault:"characters/default.yaml"`
	StatePath     string `env:"STATE_PATH" envDefault:"state"`

	// Cycle cadence
	CycleInterval time.Duration `env:"CYCLE_INTERVAL" envDefault:"7m"`

	// Gather tuning
	LookbackLimit      int     `env:"LOOKBACK_LIMIT" envDefault:"100"`
	RelevanceThreshold float64 `env:"RELEVANCE_THRESHOLD" envDefault:"0.6"`
	ChainLimit         int     `env:"CHAIN_LIMIT" envDefault:"5"`
	QuietMinutes       int     `env:"QUIET_CHANNEL_MINUTES" envDefault:"15"`

	// Spontaneity (anti-spam heuristics, empirically tuned)
	SpontaneityChance  float64       `env:"SPONTANEITY_CHANCE" envDefault:"0.01"`
	SpontaneityEnabled bool          `env:"SPONTANEITY_ENABLED" envDefault:"true"`
	MusingCooldown     time.Duration `env:"MUSING_COOLDOWN" envDefault:"45m"`

	// Internal task windows
	GoalReviewHour    int `env:"GOAL_REVIEW_HOUR" envDefault:"18"`
	GoalStalenessDays int `env:"GOAL_STALENESS_DAYS" envDefault:"7"`

	// Relationship attention
	AbsenceTrustThreshold float64 `env:"ABSENCE_TRUST_THRESHOLD" envDefault:"0.5"`
	AbsenceDays           int     `env:"ABSENCE_DAYS" envDefault:"3"`
	AbsenceLimit          int     `env:"ABSENCE_LIMIT" envDefault:"5"`

	// Planning
	MaxActions int `env:"MAX_ACTIONS" envDefault:"3"`

	// Ollama
	OllamaURL      string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	EmbedModel     string        `env:"EMBED_MODEL" envDefault:"nomic-embed-text"`
	PlannerModel   string        `env:"PLANNER_MODEL" envDefault:"llama3.2"`
	PlannerTimeout time.Duration `env:"PLANNER_TIMEOUT" envDefault:"90s"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
