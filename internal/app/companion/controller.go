package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PabloGalante/pocketpal/internal/domain"
	"github.com/PabloGalante/pocketpal/internal/observability"
)

type Options struct {
	HistoryLimit int
	Now          func() time.Time
}

// Controller keeps one identity's Store in sync with the remote copy and
// drives reminder scheduling from confirmed changes.
type Controller struct {
	identity     domain.Identity
	store        *Store
	gateway      domain.CompanionGateway
	notifier     domain.NotificationGateway
	historyLimit int
	now          func() time.Time

	pendingMu sync.Mutex
	pending   Field

	inboxMu sync.Mutex
	inbox   []remoteUpdate
	wake    chan struct{}
	// drainMu keeps updates applied in arrival order
	drainMu sync.Mutex

	cancel    context.CancelFunc
	unsubs    []func()
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// remoteUpdate is one subscription delivery waiting to be applied.
type remoteUpdate struct {
	record    *domain.CompanionRecord
	history   []domain.InteractionEvent
	isHistory bool
}

func NewController(
	identity domain.Identity,
	gateway domain.CompanionGateway,
	notifier domain.NotificationGateway,
	opts Options,
) *Controller {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = domain.DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		identity:     identity,
		store:        NewStore(opts.HistoryLimit),
		gateway:      gateway,
		notifier:     notifier,
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

func (c *Controller) Identity() domain.Identity { return c.identity }

func (c *Controller) State() State { return c.store.Snapshot() }

func (c *Controller) HasCompanion() bool { return c.store.HasCompanion() }

func (c *Controller) withUser(ctx context.Context) context.Context {
	return observability.WithUserID(ctx, string(c.identity.UserID))
}

// Open loads the identity's record and history and subscribes to remote changes.
// A missing record loads as an empty companion.
func (c *Controller) Open(ctx context.Context) error {
	ctx = c.withUser(ctx)
	log := observability.LoggerFromContext(ctx)

	rec, err := c.gateway.ReadCompanion(ctx, c.identity.UserID)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		rec = nil
	case err != nil:
		log.Error("failed to load companion", "error", err)
		return fmt.Errorf("load companion: %w", err)
	}

	history, err := c.gateway.ListInteractionEvents(ctx, c.identity.UserID, c.historyLimit)
	if err != nil {
		log.Error("failed to load history", "error", err)
		return fmt.Errorf("load history: %w", err)
	}
	c.store.Load(rec, history)

	// subscriptions outlive the caller's ctx and end with Close
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	unsubRecord, err := c.gateway.SubscribeCompanion(subCtx, c.identity.UserID, c.enqueueRecord)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe companion: %w", err)
	}
	unsubHistory, err := c.gateway.SubscribeInteractionHistory(subCtx, c.identity.UserID, c.historyLimit, c.enqueueHistory)
	if err != nil {
		unsubRecord()
		cancel()
		return fmt.Errorf("subscribe history: %w", err)
	}
	c.unsubs = []func(){unsubRecord, unsubHistory}

	// apply what was delivered during subscribe before handing over to the loop
	c.drain()

	c.wg.Add(1)
	go c.run()

	log.Info("companion opened", "has_companion", c.store.HasCompanion(), "history", len(history))
	return nil
}

// Close stops the subscriptions. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		for _, unsub := range c.unsubs {
			unsub()
		}
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.wg.Wait()
	})
}

// ─────────────────────────────────────────
// Inbound remote updates
// ─────────────────────────────────────────

func (c *Controller) enqueueRecord(rec *domain.CompanionRecord) {
	c.enqueue(remoteUpdate{record: rec})
}

func (c *Controller) enqueueHistory(events []domain.InteractionEvent) {
	c.enqueue(remoteUpdate{history: events, isHistory: true})
}

func (c *Controller) enqueue(u remoteUpdate) {
	c.inboxMu.Lock()
	c.inbox = append(c.inbox, u)
	c.inboxMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			c.drain()
		}
	}
}

func (c *Controller) drain() {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	c.inboxMu.Lock()
	updates := c.inbox
	c.inbox = nil
	c.inboxMu.Unlock()

	for _, u := range updates {
		if u.isHistory {
			c.store.ApplyRemoteHistory(u.history)
		} else {
			c.store.ApplyRemoteRecord(u.record)
		}
	}
}

// ─────────────────────────────────────────
// Mutations
// ─────────────────────────────────────────

func (c *Controller) begin(f Field) error {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.pending&f != 0 {
		return domain.ErrMutationInFlight
	}
	c.pending |= f
	return nil
}

func (c *Controller) end(f Field) {
	c.pendingMu.Lock()
	c.pending &^= f
	c.pendingMu.Unlock()
}

// CreateCompanion names the friend and picks its avatar. Mood starts happy.
func (c *Controller) CreateCompanion(ctx context.Context, name, avatarID string) error {
	const touched = FieldProfile | FieldMood
	if err := c.begin(touched); err != nil {
		return err
	}
	defer c.end(touched)

	ctx = c.withUser(ctx)
	m, err := c.store.CreateCompanion(name, avatarID, c.now())
	if err != nil {
		return err
	}

	err = c.gateway.WriteCompanionFields(ctx, c.identity.UserID, m.Changes())
	return c.settle(ctx, m, err)
}

// Interact applies an interaction and records it in the history.
func (c *Controller) Interact(ctx context.Context, kind domain.InteractionKind) error {
	const touched = FieldMood | FieldHistory
	if err := c.begin(touched); err != nil {
		return err
	}
	defer c.end(touched)

	ctx = c.withUser(ctx)
	m, err := c.store.ApplyInteraction(kind, c.now())
	if err != nil {
		return err
	}

	observability.LoggerFromContext(ctx).Info("interaction staged",
		"kind", kind,
		"mood_before", m.Event.MoodBefore,
		"mood_after", m.Event.MoodAfter)

	err = c.gateway.CommitInteraction(ctx, c.identity.UserID, m.Changes(), *m.Event)
	return c.settle(ctx, m, err)
}

// SetNotifications turns reminders on or off. Turning them on asks for permission first;
// a denial leaves the preference untouched.
func (c *Controller) SetNotifications(ctx context.Context, enabled bool) error {
	if err := c.begin(FieldNotifications); err != nil {
		return err
	}
	defer c.end(FieldNotifications)

	ctx = c.withUser(ctx)
	if enabled {
		granted, err := c.notifier.RequestPermission(ctx)
		if err != nil {
			return fmt.Errorf("request notification permission: %w", err)
		}
		if !granted {
			observability.LoggerFromContext(ctx).Warn("notification permission denied")
			return domain.ErrNotificationPermissionDenied
		}
	}

	m := c.store.SetNotificationsEnabled(enabled)
	err := c.gateway.WriteCompanionFields(ctx, c.identity.UserID, m.Changes())
	return c.settle(ctx, m, err)
}

// Reset deletes the companion and its history and cancels every reminder.
func (c *Controller) Reset(ctx context.Context) error {
	const touched = FieldProfile | FieldMood | FieldHistory
	if err := c.begin(touched); err != nil {
		return err
	}
	defer c.end(touched)

	ctx = c.withUser(ctx)
	m := c.store.Reset()
	err := c.gateway.ResetCompanion(ctx, c.identity.UserID)
	return c.settle(ctx, m, err)
}

func (c *Controller) settle(ctx context.Context, m Mutation, err error) error {
	log := observability.LoggerFromContext(ctx).With("action", m.Action)

	c.store.Settle(m, err)
	// echoes of this write queued during the call are applied before returning
	defer c.drain()

	if err != nil {
		log.Error("change not saved, rolled back", "error", err)
		return &domain.PersistenceFailure{Action: m.Action, Err: err}
	}

	log.Info("change saved")
	c.afterConfirmed(ctx, m)
	return nil
}

// afterConfirmed keeps reminders in line with a change that is now durable.
// Scheduler failures are logged; the saved change stands.
func (c *Controller) afterConfirmed(ctx context.Context, m Mutation) {
	log := observability.LoggerFromContext(ctx).With("action", m.Action)
	current := c.store.Snapshot().Companion

	var err error
	switch m.Action {
	case domain.ActionCreation, domain.ActionInteraction:
		if current.NotificationsEnabled {
			err = c.reschedule(ctx, m.After.Companion.Mood)
		}
	case domain.ActionNotificationPreference:
		if m.After.Companion.NotificationsEnabled {
			if current.HasCompanion() {
				err = c.reschedule(ctx, current.Mood)
			}
		} else {
			err = c.notifier.CancelAllReminders(ctx)
		}
	case domain.ActionReset:
		err = c.notifier.CancelAllReminders(ctx)
	}
	if err != nil {
		log.Warn("failed to update reminders", "error", err)
	}
}

func (c *Controller) reschedule(ctx context.Context, mood domain.Mood) error {
	if err := c.notifier.CancelAllReminders(ctx); err != nil {
		return fmt.Errorf("cancel reminders: %w", err)
	}
	content := domain.ReminderFor(mood)
	id, err := c.notifier.ScheduleReminder(ctx, mood, content.Delay)
	if err != nil {
		return fmt.Errorf("schedule reminder: %w", err)
	}
	observability.LoggerFromContext(ctx).Info("reminder scheduled",
		"reminder_id", id,
		"mood", mood,
		"delay", content.Delay.String())
	return nil
}

// ─────────────────────────────────────────
// Reads
// ─────────────────────────────────────────

// History returns the last limit interactions, most recent first.
// If limit <= 0, the configured history limit is used.
func (c *Controller) History(limit int) []domain.InteractionEvent {
	history := c.store.Snapshot().History
	if limit <= 0 || limit > len(history) {
		return history
	}
	return history[:limit]
}

// Reminders lists the reminders currently waiting on the device.
func (c *Controller) Reminders(ctx context.Context) ([]domain.Reminder, error) {
	return c.notifier.ListScheduledReminders(ctx)
}

// SendTestReminder schedules a reminder for the current mood that fires in a few seconds.
func (c *Controller) SendTestReminder(ctx context.Context) (domain.ReminderID, error) {
	ctx = c.withUser(ctx)
	granted, err := c.notifier.RequestPermission(ctx)
	if err != nil {
		return "", fmt.Errorf("request notification permission: %w", err)
	}
	if !granted {
		return "", domain.ErrNotificationPermissionDenied
	}
	current := c.store.Snapshot().Companion
	if !current.HasCompanion() {
		return "", domain.ErrNoCompanion
	}
	return c.notifier.ScheduleReminder(ctx, current.Mood, domain.TestReminderDelay)
}
