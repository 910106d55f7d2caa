package companion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/pocketpal/internal/adapters/notify"
	"github.com/PabloGalante/pocketpal/internal/adapters/storage/memory"
	"github.com/PabloGalante/pocketpal/internal/app/companion"
	"github.com/PabloGalante/pocketpal/internal/domain"
)

var testIdentity = domain.Identity{UserID: "user-1", Email: "ana@example.com"}

type fixture struct {
	store     *memory.CompanionStore
	scheduler *notify.Scheduler
	ctrl      *companion.Controller
}

func clock() func() time.Time {
	now := t0
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func openController(t *testing.T, gateway domain.CompanionGateway, scheduler *notify.Scheduler) *companion.Controller {
	t.Helper()
	ctrl := companion.NewController(testIdentity, gateway, scheduler, companion.Options{Now: clock()})
	require.NoError(t, ctrl.Open(context.Background()))
	t.Cleanup(ctrl.Close)
	return ctrl
}

func newFixture(t *testing.T, seed *domain.CompanionRecord) fixture {
	t.Helper()
	store := memory.NewCompanionStore()
	if seed != nil {
		store.PutRecord(*seed)
	}
	scheduler := notify.NewScheduler(true, nil)
	t.Cleanup(func() { _ = scheduler.CancelAllReminders(context.Background()) })

	return fixture{store: store, scheduler: scheduler, ctrl: openController(t, store, scheduler)}
}

func seeded(mood domain.Mood, notifications bool) *domain.CompanionRecord {
	last := t0
	return &domain.CompanionRecord{
		UserID:               testIdentity.UserID,
		Email:                testIdentity.Email,
		CompanionName:        "Tom",
		AvatarID:             "turtle",
		Mood:                 mood,
		LastInteractionAt:    &last,
		NotificationsEnabled: notifications,
		CreatedAt:            t0,
	}
}

func reminders(t *testing.T, s *notify.Scheduler) []domain.Reminder {
	t.Helper()
	out, err := s.ListScheduledReminders(context.Background())
	require.NoError(t, err)
	return out
}

func TestOpenWithoutRecordNeedsCompanion(t *testing.T) {
	f := newFixture(t, nil)

	assert.False(t, f.ctrl.HasCompanion())
	st := f.ctrl.State()
	assert.Equal(t, domain.MoodHappy, st.Companion.Mood)
	assert.True(t, st.Companion.NotificationsEnabled)
	assert.Empty(t, st.History)
}

func TestCreateCompanionPersistsAndSchedulesCheckIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.NewUserRecord(testIdentity.UserID, testIdentity.Email, t0))

	require.NoError(t, f.ctrl.CreateCompanion(ctx, "Tom", "turtle"))

	rec, err := f.store.ReadCompanion(ctx, testIdentity.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Tom", rec.CompanionName)
	assert.Equal(t, "turtle", rec.AvatarID)
	assert.Equal(t, domain.MoodHappy, rec.Mood)
	assert.Equal(t, testIdentity.Email, rec.Email)

	assert.True(t, f.ctrl.HasCompanion())
	scheduled := reminders(t, f.scheduler)
	require.Len(t, scheduled, 1)
	assert.Equal(t, domain.MoodHappy, scheduled[0].Mood)
	assert.Equal(t, 6*time.Hour, scheduled[0].Delay)
}

func TestInteractionScenarioHungryPlay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodHungry, true))

	require.NoError(t, f.ctrl.Interact(ctx, domain.InteractionPlay))

	st := f.ctrl.State()
	assert.Equal(t, domain.MoodBored, st.Companion.Mood)
	require.Len(t, st.History, 1)
	assert.Equal(t, domain.InteractionPlay, st.History[0].Kind)
	assert.Equal(t, domain.MoodHungry, st.History[0].MoodBefore)
	assert.Equal(t, domain.MoodBored, st.History[0].MoodAfter)

	remote, err := f.store.ListInteractionEvents(ctx, testIdentity.UserID, 0)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, st.History[0].ID, remote[0].ID)

	scheduled := reminders(t, f.scheduler)
	require.Len(t, scheduled, 1)
	assert.Equal(t, domain.MoodBored, scheduled[0].Mood)
	assert.Equal(t, 3*time.Hour, scheduled[0].Delay)
}

func TestEachConfirmedInteractionReplacesTheReminder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodHungry, true))

	require.NoError(t, f.ctrl.Interact(ctx, domain.InteractionRest))
	scheduled := reminders(t, f.scheduler)
	require.Len(t, scheduled, 1)
	assert.Equal(t, domain.MoodTired, scheduled[0].Mood)
	assert.Equal(t, 4*time.Hour, scheduled[0].Delay)

	require.NoError(t, f.ctrl.Interact(ctx, domain.InteractionRest))
	scheduled = reminders(t, f.scheduler)
	require.Len(t, scheduled, 1)
	assert.Equal(t, domain.MoodHappy, scheduled[0].Mood)
	assert.Equal(t, 6*time.Hour, scheduled[0].Delay)
}

func TestInteractionWithNotificationsOffSchedulesNothing(t *testing.T) {
	f := newFixture(t, seeded(domain.MoodHungry, false))

	require.NoError(t, f.ctrl.Interact(context.Background(), domain.InteractionFeed))
	assert.Empty(t, reminders(t, f.scheduler))
}

func TestFailedInteractionRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodTired, true))
	before := f.ctrl.State()

	f.store.FailNext(memory.OpCommitInteraction, errors.New("unavailable"))
	err := f.ctrl.Interact(ctx, domain.InteractionFeed)

	var pf *domain.PersistenceFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, domain.ActionInteraction, pf.Action)
	assert.Equal(t, "The interaction could not be saved.", domain.UserMessage(err))

	after := f.ctrl.State()
	assert.Equal(t, before.Companion, after.Companion)
	assert.Empty(t, after.History)
	assert.Empty(t, reminders(t, f.scheduler))

	rec, err := f.store.ReadCompanion(ctx, testIdentity.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.MoodTired, rec.Mood)
}

func TestFailedFeedLeavesBoredFriendBored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodBored, true))

	f.store.FailNext(memory.OpCommitInteraction, errors.New("unavailable"))
	err := f.ctrl.Interact(ctx, domain.InteractionFeed)
	require.Error(t, err)

	st := f.ctrl.State()
	assert.Equal(t, domain.MoodBored, st.Companion.Mood)
	require.NotNil(t, st.Companion.LastInteractionAt)
	assert.True(t, st.Companion.LastInteractionAt.Equal(t0))
	assert.Empty(t, st.History)
	assert.Empty(t, reminders(t, f.scheduler))
}

func TestFailedCreationRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.store.FailNext(memory.OpWriteCompanionFields, errors.New("unavailable"))

	err := f.ctrl.CreateCompanion(context.Background(), "Tom", "turtle")
	var pf *domain.PersistenceFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, domain.ActionCreation, pf.Action)
	assert.False(t, f.ctrl.HasCompanion())
}

func TestResetClearsEverythingRemotely(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodBored, true))
	require.NoError(t, f.ctrl.Interact(ctx, domain.InteractionPlay))
	require.Len(t, reminders(t, f.scheduler), 1)

	require.NoError(t, f.ctrl.Reset(ctx))

	st := f.ctrl.State()
	assert.False(t, st.Companion.HasCompanion())
	assert.Equal(t, domain.MoodHappy, st.Companion.Mood)
	assert.Nil(t, st.Companion.LastInteractionAt)
	assert.Empty(t, st.History)
	assert.True(t, st.Companion.NotificationsEnabled)
	assert.Empty(t, reminders(t, f.scheduler))

	rec, err := f.store.ReadCompanion(ctx, testIdentity.UserID)
	require.NoError(t, err)
	assert.Empty(t, rec.CompanionName)
	assert.Nil(t, rec.LastInteractionAt)
	remote, err := f.store.ListInteractionEvents(ctx, testIdentity.UserID, 0)
	require.NoError(t, err)
	assert.Empty(t, remote)
}

func TestInteractAfterResetNeedsCompanion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodBored, true))
	require.NoError(t, f.ctrl.Reset(ctx))

	assert.ErrorIs(t, f.ctrl.Interact(ctx, domain.InteractionFeed), domain.ErrNoCompanion)
	require.NoError(t, f.ctrl.CreateCompanion(ctx, "Kiwi", "bird"))
	assert.Equal(t, "Kiwi", f.ctrl.State().Companion.Name)
}

func TestNotificationsToggle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodTired, false))

	require.NoError(t, f.ctrl.SetNotifications(ctx, true))
	scheduled := reminders(t, f.scheduler)
	require.Len(t, scheduled, 1)
	assert.Equal(t, domain.MoodTired, scheduled[0].Mood)

	rec, err := f.store.ReadCompanion(ctx, testIdentity.UserID)
	require.NoError(t, err)
	assert.True(t, rec.NotificationsEnabled)

	require.NoError(t, f.ctrl.SetNotifications(ctx, false))
	assert.Empty(t, reminders(t, f.scheduler))
	assert.False(t, f.ctrl.State().Companion.NotificationsEnabled)
}

func TestNotificationsPermissionDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodHappy, false))
	f.scheduler.SetPermission(false)

	err := f.ctrl.SetNotifications(ctx, true)
	require.ErrorIs(t, err, domain.ErrNotificationPermissionDenied)

	assert.False(t, f.ctrl.State().Companion.NotificationsEnabled)
	rec, err := f.store.ReadCompanion(ctx, testIdentity.UserID)
	require.NoError(t, err)
	assert.False(t, rec.NotificationsEnabled)
	assert.Empty(t, reminders(t, f.scheduler))
}

func TestFailedNotificationPreferenceRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodTired, true))
	require.NoError(t, f.ctrl.Interact(ctx, domain.InteractionRest))
	scheduled := reminders(t, f.scheduler)
	require.Len(t, scheduled, 1)

	f.store.FailNext(memory.OpWriteCompanionFields, errors.New("unavailable"))
	err := f.ctrl.SetNotifications(ctx, false)

	var pf *domain.PersistenceFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, domain.ActionNotificationPreference, pf.Action)
	assert.True(t, f.ctrl.State().Companion.NotificationsEnabled)
	assert.Equal(t, scheduled, reminders(t, f.scheduler))

	rec, err := f.store.ReadCompanion(ctx, testIdentity.UserID)
	require.NoError(t, err)
	assert.True(t, rec.NotificationsEnabled)
}

func TestFailedResetKeepsFriendAndReminders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodBored, true))
	require.NoError(t, f.ctrl.Interact(ctx, domain.InteractionPlay))
	before := f.ctrl.State()
	scheduled := reminders(t, f.scheduler)
	require.Len(t, scheduled, 1)

	f.store.FailNext(memory.OpResetCompanion, errors.New("unavailable"))
	err := f.ctrl.Reset(ctx)

	var pf *domain.PersistenceFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, domain.ActionReset, pf.Action)
	assert.Equal(t, "Resetting your friend failed.", domain.UserMessage(err))

	after := f.ctrl.State()
	assert.Equal(t, before.Companion, after.Companion)
	assert.Equal(t, before.History, after.History)
	assert.True(t, f.ctrl.HasCompanion())
	assert.Equal(t, scheduled, reminders(t, f.scheduler))
}

func TestSendTestReminder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodHungry, false))

	id, err := f.ctrl.SendTestReminder(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	scheduled := reminders(t, f.scheduler)
	require.Len(t, scheduled, 1)
	assert.Equal(t, domain.TestReminderDelay, scheduled[0].Delay)
	assert.Equal(t, domain.MoodHungry, scheduled[0].Mood)
}

// gatedGateway holds CommitInteraction until released.
type gatedGateway struct {
	*memory.CompanionStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGateway) CommitInteraction(
	ctx context.Context,
	id domain.UserID,
	fields domain.CompanionFields,
	event domain.InteractionEvent,
) error {
	g.entered <- struct{}{}
	<-g.release
	return g.CompanionStore.CommitInteraction(ctx, id, fields, event)
}

func TestConflictingMutationIsRejectedWhileInFlight(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCompanionStore()
	store.PutRecord(*seeded(domain.MoodHungry, true))
	gateway := &gatedGateway{
		CompanionStore: store,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	scheduler := notify.NewScheduler(true, nil)
	defer func() { _ = scheduler.CancelAllReminders(ctx) }()
	ctrl := openController(t, gateway, scheduler)

	done := make(chan error, 1)
	go func() { done <- ctrl.Interact(ctx, domain.InteractionFeed) }()
	<-gateway.entered

	// staged optimistically before the write completes
	assert.Equal(t, domain.MoodHappy, ctrl.State().Companion.Mood)
	assert.ErrorIs(t, ctrl.Interact(ctx, domain.InteractionPlay), domain.ErrMutationInFlight)
	assert.ErrorIs(t, ctrl.Reset(ctx), domain.ErrMutationInFlight)

	// a different field is not blocked
	require.NoError(t, ctrl.SetNotifications(ctx, false))

	close(gateway.release)
	require.NoError(t, <-done)

	st := ctrl.State()
	assert.Equal(t, domain.MoodHappy, st.Companion.Mood)
	assert.Len(t, st.History, 1)
	assert.False(t, st.Companion.NotificationsEnabled)
}

func TestRemoteChangesAreApplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, seeded(domain.MoodHappy, true))

	hungry := domain.MoodHungry
	require.NoError(t, f.store.WriteCompanionFields(ctx, testIdentity.UserID, domain.CompanionFields{Mood: &hungry}))

	require.Eventually(t, func() bool {
		return f.ctrl.State().Companion.Mood == domain.MoodHungry
	}, time.Second, 5*time.Millisecond)

	event := domain.InteractionEvent{
		ID:         "remote-1",
		Kind:       domain.InteractionFeed,
		MoodBefore: domain.MoodHungry,
		MoodAfter:  domain.MoodHappy,
		OccurredAt: t0.Add(time.Hour),
	}
	require.NoError(t, f.store.AppendInteractionEvent(ctx, testIdentity.UserID, event))

	require.Eventually(t, func() bool {
		h := f.ctrl.History(0)
		return len(h) == 1 && h[0].ID == "remote-1"
	}, time.Second, 5*time.Millisecond)
}

func TestCloseStopsSubscriptions(t *testing.T) {
	store := memory.NewCompanionStore()
	scheduler := notify.NewScheduler(true, nil)
	ctrl := companion.NewController(testIdentity, store, scheduler, companion.Options{})
	require.NoError(t, ctrl.Open(context.Background()))
	assert.Equal(t, 2, store.Subscribers(testIdentity.UserID))

	ctrl.Close()
	ctrl.Close()
	assert.Equal(t, 0, store.Subscribers(testIdentity.UserID))
}
