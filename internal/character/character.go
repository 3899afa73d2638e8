// Package character loads character sheets. A sheet declares who the
// character is (drives, goals), where they live (timezone, waking hours),
// and their Discord identity. Sheets are YAML files edited by operators.
package character

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Goal is one long-term goal from the character sheet.
type Goal struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Character is a loaded character sheet.
type Character struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	UserID string `yaml:"user_id"` // Discord user id of this character's bot account

	Drives []string `yaml:"drives"`
	Goals  []Goal   `yaml:"goals"`

	Timezone  string `yaml:"timezone"`
	WakeHour  int    `yaml:"wake_hour"`
	SleepHour int    `yaml:"sleep_hour"`

	AckEmoji string `yaml:"ack_emoji"` // reaction used as the "seen" marker

	loc *time.Location
}

// Load reads and validates a character sheet.
func Load(path string) (*Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read character sheet: %w", err)
	}

	var c Character
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse character sheet: %w", err)
	}

	if c.ID == "" {
		return nil, fmt.Errorf("character sheet missing id")
	}
	if c.Name == "" {
		return nil, fmt.Errorf("character sheet missing name")
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.WakeHour == 0 && c.SleepHour == 0 {
		c.WakeHour, c.SleepHour = 8, 23
	}
	if c.AckEmoji == "" {
		c.AckEmoji = "👀"
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("character timezone %q: %w", c.Timezone, err)
	}
	c.loc = loc

	return &c, nil
}

// Location returns the character's timezone.
func (c *Character) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Awake reports whether hour falls inside the character's waking window.
// Windows that cross midnight (sleep hour < wake hour) are handled.
func (c *Character) Awake(hour int) bool {
	if c.WakeHour == c.SleepHour {
		return true
	}
	if c.WakeHour < c.SleepHour {
		return hour >= c.WakeHour && hour < c.SleepHour
	}
	return hour >= c.WakeHour || hour < c.SleepHour
}

// InterestText renders the character's drives and goal descriptions into one
// block of text that gets embedded as the character's interest vector.
func (c *Character) InterestText() string {
	var b strings.Builder
	for _, d := range c.Drives {
		b.WriteString(d)
		b.WriteString("\n")
	}
	for _, g := range c.Goals {
		if g.Description != "" {
			b.WriteString(g.Description)
			b.WriteString("\n")
		} else if g.Title != "" {
			b.WriteString(g.Title)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}
