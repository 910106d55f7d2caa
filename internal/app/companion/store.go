package companion

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/pocketpal/internal/domain"
)

// Field is a bit set of the parts of the state a mutation touches.
type Field uint8

const (
	FieldProfile Field = 1 << iota
	FieldMood
	FieldNotifications
	FieldHistory
)

// State is the companion plus its recent history, most-recent-first.
type State struct {
	Companion domain.Companion
	History   []domain.InteractionEvent
}

func (s State) clone() State {
	out := s
	if s.Companion.LastInteractionAt != nil {
		t := *s.Companion.LastInteractionAt
		out.Companion.LastInteractionAt = &t
	}
	out.History = slices.Clone(s.History)
	return out
}

// Mutation is a staged local change: what was attempted and what it replaced.
type Mutation struct {
	Action domain.Action
	Fields Field
	Before State
	After  State
	// Event is the history entry added by an interaction.
	Event *domain.InteractionEvent
	// Evicted holds the oldest entries Event pushed past the history limit.
	Evicted []domain.InteractionEvent
}

// Rollback returns current with the fields touched by m restored from its snapshot.
// Fields the mutation did not touch keep whatever current holds.
func (m Mutation) Rollback(current State) State {
	out := current.clone()
	before := m.Before.clone()

	if m.Fields&FieldProfile != 0 {
		out.Companion.Name = before.Companion.Name
		out.Companion.AvatarID = before.Companion.AvatarID
	}
	if m.Fields&FieldMood != 0 {
		out.Companion.Mood = before.Companion.Mood
		out.Companion.LastInteractionAt = before.Companion.LastInteractionAt
	}
	if m.Fields&FieldNotifications != 0 {
		out.Companion.NotificationsEnabled = before.Companion.NotificationsEnabled
	}
	if m.Fields&FieldHistory != 0 {
		if m.Event != nil {
			out.History = slices.DeleteFunc(out.History, func(e domain.InteractionEvent) bool {
				return e.ID == m.Event.ID
			})
			for _, e := range m.Evicted {
				if !slices.ContainsFunc(out.History, func(h domain.InteractionEvent) bool { return h.ID == e.ID }) {
					out.History = append(out.History, e)
				}
			}
		} else {
			out.History = before.History
		}
	}
	return out
}

// Changes is the merge-style update that persists the mutation.
func (m Mutation) Changes() domain.CompanionFields {
	c := m.After.Companion
	switch m.Action {
	case domain.ActionCreation:
		return domain.CompanionFields{
			CompanionName:     &c.Name,
			AvatarID:          &c.AvatarID,
			Mood:              &c.Mood,
			LastInteractionAt: c.LastInteractionAt,
		}
	case domain.ActionInteraction:
		return domain.CompanionFields{
			Mood:              &c.Mood,
			LastInteractionAt: c.LastInteractionAt,
		}
	case domain.ActionNotificationPreference:
		return domain.CompanionFields{NotificationsEnabled: &c.NotificationsEnabled}
	case domain.ActionReset:
		return domain.ResetFields()
	default:
		return domain.CompanionFields{}
	}
}

// Store holds one identity's companion in memory.
// Every mutating method stages the change immediately; Settle confirms or rolls it back.
type Store struct {
	mu           sync.RWMutex
	state        State
	historyLimit int
	newEventID   func() domain.EventID
}

func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = domain.DefaultHistoryLimit
	}
	return &Store{
		state:        State{Companion: domain.EmptyCompanion(true)},
		historyLimit: historyLimit,
		newEventID:   func() domain.EventID { return domain.EventID(uuid.NewString()) },
	}
}

// Load replaces the whole state; a nil record means the identity has none yet.
func (s *Store) Load(rec *domain.CompanionRecord, history []domain.InteractionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{Companion: domain.EmptyCompanion(true)}
	if rec != nil {
		s.state.Companion = rec.Companion()
	}
	s.state.History = s.trim(slices.Clone(history))
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *Store) HasCompanion() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Companion.HasCompanion()
}

func (s *Store) CreateCompanion(name, avatarID string, now time.Time) (Mutation, error) {
	name = strings.TrimSpace(name)
	avatarID = strings.TrimSpace(avatarID)
	if err := domain.ValidateCompanion(name, avatarID); err != nil {
		return Mutation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Companion.Name != "" || s.state.Companion.AvatarID != "" {
		return Mutation{}, domain.ErrCompanionExists
	}

	m := Mutation{
		Action: domain.ActionCreation,
		Fields: FieldProfile | FieldMood,
		Before: s.state.clone(),
	}
	s.state.Companion.Name = name
	s.state.Companion.AvatarID = avatarID
	s.state.Companion.Mood = domain.MoodHappy
	s.state.Companion.LastInteractionAt = &now
	m.After = s.state.clone()
	return m, nil
}

func (s *Store) ApplyInteraction(kind domain.InteractionKind, now time.Time) (Mutation, error) {
	if !kind.Valid() {
		return Mutation{}, &domain.ValidationError{Field: "interaction", Reason: "oneof"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Companion.HasCompanion() {
		return Mutation{}, domain.ErrNoCompanion
	}

	before := s.state.Companion.Mood
	event := domain.InteractionEvent{
		ID:         s.newEventID(),
		Kind:       kind,
		MoodBefore: before,
		MoodAfter:  domain.NextMood(before, kind),
		OccurredAt: now,
	}

	m := Mutation{
		Action: domain.ActionInteraction,
		Fields: FieldMood | FieldHistory,
		Before: s.state.clone(),
		Event:  &event,
	}
	s.state.Companion.Mood = event.MoodAfter
	s.state.Companion.LastInteractionAt = &now
	history := append([]domain.InteractionEvent{event}, s.state.History...)
	if len(history) > s.historyLimit {
		m.Evicted = slices.Clone(history[s.historyLimit:])
	}
	s.state.History = s.trim(history)
	m.After = s.state.clone()
	return m, nil
}

func (s *Store) SetNotificationsEnabled(enabled bool) Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Mutation{
		Action: domain.ActionNotificationPreference,
		Fields: FieldNotifications,
		Before: s.state.clone(),
	}
	s.state.Companion.NotificationsEnabled = enabled
	m.After = s.state.clone()
	return m
}

// Reset clears the companion and its history. The notification preference is kept.
func (s *Store) Reset() Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Mutation{
		Action: domain.ActionReset,
		Fields: FieldProfile | FieldMood | FieldHistory,
		Before: s.state.clone(),
	}
	s.state = State{Companion: domain.EmptyCompanion(s.state.Companion.NotificationsEnabled)}
	m.After = s.state.clone()
	return m
}

// Settle keeps m when err is nil and rolls it back otherwise.
func (s *Store) Settle(m Mutation, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = m.Rollback(s.state)
}

// ApplyRemoteRecord overwrites the companion fields with a remote copy; last write wins.
func (s *Store) ApplyRemoteRecord(rec *domain.CompanionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec == nil {
		s.state.Companion = domain.EmptyCompanion(s.state.Companion.NotificationsEnabled)
		return
	}
	s.state.Companion = rec.Companion()
}

// ApplyRemoteHistory replaces the history with a remote copy; last write wins.
func (s *Store) ApplyRemoteHistory(events []domain.InteractionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.History = s.trim(slices.Clone(events))
}

func (s *Store) trim(events []domain.InteractionEvent) []domain.InteractionEvent {
	if len(events) > s.historyLimit {
		return events[:s.historyLimit]
	}
	return events
}
