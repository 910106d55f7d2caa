package domain

import (
	"context"
	"time"
)

// CompanionGateway is the remote document store holding one record per identity
// plus its interaction history.
type CompanionGateway interface {
	// CreateUserRecord writes a fresh record and is a no-op when one exists.
	CreateUserRecord(ctx context.Context, id UserID, email string, createdAt time.Time) error
	// ReadCompanion returns ErrRecordNotFound when the identity has no record.
	ReadCompanion(ctx context.Context, id UserID) (*CompanionRecord, error)
	WriteCompanionFields(ctx context.Context, id UserID, fields CompanionFields) error
	AppendInteractionEvent(ctx context.Context, id UserID, event InteractionEvent) error
	// CommitInteraction writes the fields and appends the event atomically.
	CommitInteraction(ctx context.Context, id UserID, fields CompanionFields, event InteractionEvent) error
	// ResetCompanion clears the companion fields and deletes the history.
	ResetCompanion(ctx context.Context, id UserID) error
	// ListInteractionEvents returns most-recent-first, at most limit (all if limit <= 0).
	ListInteractionEvents(ctx context.Context, id UserID, limit int) ([]InteractionEvent, error)

	// SubscribeCompanion calls onUpdate with the current record and on every change;
	// nil means the record does not exist.
	SubscribeCompanion(ctx context.Context, id UserID, onUpdate func(*CompanionRecord)) (unsubscribe func(), err error)
	SubscribeInteractionHistory(ctx context.Context, id UserID, limit int, onUpdate func([]InteractionEvent)) (unsubscribe func(), err error)
}

// Credentials are what a user types on the sign-in / sign-up forms.
type Credentials struct {
	Email    string
	Password string
}

// Identity is an authenticated user.
type Identity struct {
	UserID UserID
	Email  string
}

// AuthProvider authenticates users. Failures are *AuthFailure.
type AuthProvider interface {
	SignUp(ctx context.Context, creds Credentials) (Identity, error)
	SignIn(ctx context.Context, creds Credentials) (Identity, error)
	SignOut(ctx context.Context) error
	// OnIdentityChanged reports the current identity (nil when signed out) on every change.
	OnIdentityChanged(fn func(*Identity)) (unsubscribe func())
}

// NotificationGateway schedules local reminders on the device.
type NotificationGateway interface {
	RequestPermission(ctx context.Context) (bool, error)
	ScheduleReminder(ctx context.Context, mood Mood, delay time.Duration) (ReminderID, error)
	CancelAllReminders(ctx context.Context) error
	// ListScheduledReminders is ordered by firing time.
	ListScheduledReminders(ctx context.Context) ([]Reminder, error)
}
