package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/pocketpal/internal/domain"
	"github.com/PabloGalante/pocketpal/internal/observability"
)

// Deliver is called when a reminder fires.
type Deliver func(domain.Reminder)

type scheduled struct {
	reminder domain.Reminder
	timer    *time.Timer
}

// Scheduler is a domain.NotificationGateway backed by in-process timers.
// Permission is decided up front, the way a device settings screen would.
type Scheduler struct {
	mu      sync.Mutex
	granted bool
	pending map[domain.ReminderID]*scheduled
	deliver Deliver
	now     func() time.Time
}

func NewScheduler(granted bool, deliver Deliver) *Scheduler {
	return &Scheduler{
		granted: granted,
		pending: make(map[domain.ReminderID]*scheduled),
		deliver: deliver,
		now:     time.Now,
	}
}

// SetPermission changes what RequestPermission answers from now on.
func (s *Scheduler) SetPermission(granted bool) {
	s.mu.Lock()
	s.granted = granted
	s.mu.Unlock()
}

func (s *Scheduler) RequestPermission(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted, nil
}

func (s *Scheduler) ScheduleReminder(ctx context.Context, mood domain.Mood, delay time.Duration) (domain.ReminderID, error) {
	content := domain.ReminderFor(mood)
	id := domain.ReminderID(uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.granted {
		return "", domain.ErrNotificationPermissionDenied
	}

	r := domain.Reminder{
		ID:      id,
		Mood:    mood,
		Title:   content.Title,
		Body:    content.Body,
		Delay:   delay,
		FiresAt: s.now().Add(delay),
	}
	s.pending[id] = &scheduled{
		reminder: r,
		timer:    time.AfterFunc(delay, func() { s.fire(id) }),
	}

	observability.LoggerFromContext(ctx).Debug("reminder scheduled",
		"reminder_id", id,
		"mood", mood,
		"fires_at", r.FiresAt)
	return id, nil
}

func (s *Scheduler) fire(id domain.ReminderID) {
	s.mu.Lock()
	sch, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if !ok || s.deliver == nil {
		return
	}
	s.deliver(sch.reminder)
}

func (s *Scheduler) CancelAllReminders(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sch := range s.pending {
		sch.timer.Stop()
		delete(s.pending, id)
	}
	return nil
}

func (s *Scheduler) ListScheduledReminders(ctx context.Context) ([]domain.Reminder, error) {
	s.mu.Lock()
	out := make([]domain.Reminder, 0, len(s.pending))
	for _, sch := range s.pending {
		out = append(out, sch.reminder)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.Reminder) int {
		return a.FiresAt.Compare(b.FiresAt)
	})
	return out, nil
}
