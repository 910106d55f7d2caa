package domain

import (
	"fmt"
	"strings"
	"time"
)

type UserID string
type EventID string
type ReminderID string

type Mood string

const (
	MoodHungry Mood = "hungry"
	MoodTired  Mood = "tired"
	MoodHappy  Mood = "happy"
	MoodBored  Mood = "bored"
)

// Moods lists every mood in a stable order.
var Moods = []Mood{MoodHungry, MoodTired, MoodHappy, MoodBored}

type InteractionKind string

const (
	InteractionFeed InteractionKind = "feed"
	InteractionPlay InteractionKind = "play"
	InteractionRest InteractionKind = "rest"
)

// InteractionKinds lists every interaction in a stable order.
var InteractionKinds = []InteractionKind{InteractionFeed, InteractionPlay, InteractionRest}

type Timestamp = time.Time

// ParseMood accepts the wire value of a mood, case-insensitive.
func ParseMood(s string) (Mood, error) {
	m := Mood(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mood %q", s)
	}
	return m, nil
}

func (m Mood) Valid() bool {
	switch m {
	case MoodHungry, MoodTired, MoodHappy, MoodBored:
		return true
	}
	return false
}

// ParseInteractionKind accepts the wire value of an interaction, case-insensitive.
func ParseInteractionKind(s string) (InteractionKind, error) {
	k := InteractionKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown interaction %q", s)
	}
	return k, nil
}

func (k InteractionKind) Valid() bool {
	switch k {
	case InteractionFeed, InteractionPlay, InteractionRest:
		return true
	}
	return false
}
