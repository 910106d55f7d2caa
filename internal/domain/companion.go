package domain

import "time"

// MaxCompanionNameLength is counted in characters, not bytes.
const MaxCompanionNameLength = 20

// DefaultHistoryLimit is how many recent interactions are mirrored locally.
const DefaultHistoryLimit = 20

// InteractionEvent is one entry of the append-only interaction history.
type InteractionEvent struct {
	ID         EventID
	Kind       InteractionKind
	MoodBefore Mood
	MoodAfter  Mood
	OccurredAt Timestamp
}

// Companion is the friend owned by one identity.
// Name and AvatarID are either both empty (not created yet) or both set.
type Companion struct {
	Name                 string
	AvatarID             string
	Mood                 Mood
	LastInteractionAt    *Timestamp
	NotificationsEnabled bool
}

// EmptyCompanion is the state before creation and after a reset.
func EmptyCompanion(notificationsEnabled bool) Companion {
	return Companion{
		Mood:                 MoodHappy,
		NotificationsEnabled: notificationsEnabled,
	}
}

func (c Companion) HasCompanion() bool {
	return c.Name != "" && c.AvatarID != ""
}

// CompanionRecord is the durable per-identity document.
type CompanionRecord struct {
	UserID               UserID
	Email                string
	CompanionName        string
	AvatarID             string
	Mood                 Mood
	LastInteractionAt    *Timestamp
	NotificationsEnabled bool
	CreatedAt            Timestamp
}

// Companion projects the record onto the in-memory aggregate.
func (r *CompanionRecord) Companion() Companion {
	mood := r.Mood
	if !mood.Valid() {
		mood = MoodHappy
	}
	return Companion{
		Name:                 r.CompanionName,
		AvatarID:             r.AvatarID,
		Mood:                 mood,
		LastInteractionAt:    r.LastInteractionAt,
		NotificationsEnabled: r.NotificationsEnabled,
	}
}

// NewUserRecord is the record written on registration.
func NewUserRecord(id UserID, email string, createdAt time.Time) *CompanionRecord {
	return &CompanionRecord{
		UserID:               id,
		Email:                email,
		Mood:                 MoodHappy,
		NotificationsEnabled: true,
		CreatedAt:            createdAt,
	}
}

// CompanionFields is a merge-style partial update; nil fields are left untouched.
// ClearLastInteraction writes a null lastInteractionAt.
type CompanionFields struct {
	CompanionName        *string
	AvatarID             *string
	Mood                 *Mood
	LastInteractionAt    *Timestamp
	ClearLastInteraction bool
	NotificationsEnabled *bool
}

// Apply merges the set fields into the record.
func (f CompanionFields) Apply(r *CompanionRecord) {
	if f.CompanionName != nil {
		r.CompanionName = *f.CompanionName
	}
	if f.AvatarID != nil {
		r.AvatarID = *f.AvatarID
	}
	if f.Mood != nil {
		r.Mood = *f.Mood
	}
	if f.ClearLastInteraction {
		r.LastInteractionAt = nil
	} else if f.LastInteractionAt != nil {
		t := *f.LastInteractionAt
		r.LastInteractionAt = &t
	}
	if f.NotificationsEnabled != nil {
		r.NotificationsEnabled = *f.NotificationsEnabled
	}
}

// ResetFields is the update that clears a companion back to empty.
func ResetFields() CompanionFields {
	empty := ""
	happy := MoodHappy
	return CompanionFields{
		CompanionName:        &empty,
		AvatarID:             &empty,
		Mood:                 &happy,
		ClearLastInteraction: true,
	}
}
