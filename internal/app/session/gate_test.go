package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/PabloGalante/pocketpal/internal/adapters/notify"
	"github.com/PabloGalante/pocketpal/internal/adapters/storage/memory"
	"github.com/PabloGalante/pocketpal/internal/app/companion"
	"github.com/PabloGalante/pocketpal/internal/app/session"
	"github.com/PabloGalante/pocketpal/internal/domain"
)

type fixture struct {
	auth      *memory.AuthProvider
	store     *memory.CompanionStore
	scheduler *notify.Scheduler
	gate      *session.Gate
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	auth := memory.NewAuthProviderWithCost(bcrypt.MinCost)
	store := memory.NewCompanionStore()
	scheduler := notify.NewScheduler(true, nil)
	gate := session.NewGate(auth, store, scheduler, companion.Options{})

	t.Cleanup(func() {
		gate.Close(context.Background())
		_ = scheduler.CancelAllReminders(context.Background())
	})
	return fixture{auth: auth, store: store, scheduler: scheduler, gate: gate}
}

func watch(t *testing.T, g *session.Gate) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSignUpCreatesRecordAndNeedsCompanion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assert.Equal(t, session.PhaseUnauthenticated, f.gate.Phase())

	require.NoError(t, f.gate.SignUp(ctx, "Ana@Example.com", "secret1", "secret1"))

	assert.Equal(t, session.StateAuthenticated, f.gate.State())
	assert.Equal(t, session.PhaseNeedsCompanion, f.gate.Phase())
	identity := f.gate.Identity()
	require.NotNil(t, identity)
	assert.Equal(t, "ana@example.com", identity.Email)

	rec, err := f.store.ReadCompanion(ctx, identity.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.MoodHappy, rec.Mood)
	assert.True(t, rec.NotificationsEnabled)
	assert.Empty(t, rec.CompanionName)

	ctrl, err := f.gate.Companion()
	require.NoError(t, err)
	require.NoError(t, ctrl.CreateCompanion(ctx, "Tom", "turtle"))
	assert.Equal(t, session.PhaseActive, f.gate.Phase())
}

func TestSignUpValidationNeverReachesProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret2")
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "confirm", vErr.Field)
	assert.Equal(t, session.StateUnauthenticated, f.gate.State())

	// the account was not created, so signing in fails
	err = f.gate.SignIn(ctx, "ana@example.com", "secret1")
	var authErr *domain.AuthFailure
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthUserNotFound, authErr.Code)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1"))
	require.NoError(t, f.gate.SignOut(ctx))

	err := f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1")
	assert.Equal(t, "This email address is already in use.", domain.UserMessage(err))
	assert.Equal(t, session.StateUnauthenticated, f.gate.State())
}

func TestSignInWithWrongPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1"))
	require.NoError(t, f.gate.SignOut(ctx))

	err := f.gate.SignIn(ctx, "ana@example.com", "wrong-password")

	var authErr *domain.AuthFailure
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthWrongPassword, authErr.Code)
	assert.Equal(t, "Wrong password.", domain.UserMessage(err))
	assert.Equal(t, session.StateUnauthenticated, f.gate.State())
	assert.Nil(t, f.gate.Identity())
	assert.ErrorIs(t, f.gate.LastError(), err)

	_, err = f.gate.Companion()
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestSignInRestoresCompanion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1"))
	ctrl, err := f.gate.Companion()
	require.NoError(t, err)
	require.NoError(t, ctrl.CreateCompanion(ctx, "Tom", "turtle"))
	require.NoError(t, ctrl.Interact(ctx, domain.InteractionRest))
	require.NoError(t, f.gate.SignOut(ctx))

	require.NoError(t, f.gate.SignIn(ctx, "ana@example.com", "secret1"))
	assert.Equal(t, session.PhaseActive, f.gate.Phase())

	ctrl, err = f.gate.Companion()
	require.NoError(t, err)
	st := ctrl.State()
	assert.Equal(t, "Tom", st.Companion.Name)
	assert.Len(t, st.History, 1)
}

func TestSignInWhileSignedIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1"))

	assert.ErrorIs(t, f.gate.SignIn(ctx, "ana@example.com", "secret1"), session.ErrAlreadySignedIn)
}

func TestRecordCreationFailureSignsOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.FailNext(memory.OpCreateUserRecord, errors.New("unavailable"))

	err := f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1")
	require.Error(t, err)
	assert.Equal(t, session.StateUnauthenticated, f.gate.State())

	var current *domain.Identity
	unsubscribe := f.auth.OnIdentityChanged(func(id *domain.Identity) { current = id })
	unsubscribe()
	assert.Nil(t, current)
}

func TestSignInFailingToLoadCompanionSignsOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1"))
	require.NoError(t, f.gate.SignOut(ctx))

	f.store.FailNext(memory.OpReadCompanion, errors.New("unavailable"))
	err := f.gate.SignIn(ctx, "ana@example.com", "secret1")

	var authErr *domain.AuthFailure
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthUnknown, authErr.Code)
	assert.Equal(t, session.StateUnauthenticated, f.gate.State())
	assert.Nil(t, f.gate.Identity())

	var current *domain.Identity
	unsubscribe := f.auth.OnIdentityChanged(func(id *domain.Identity) { current = id })
	unsubscribe()
	assert.Nil(t, current)

	require.NoError(t, f.gate.SignIn(ctx, "ana@example.com", "secret1"))
	assert.Equal(t, session.StateAuthenticated, f.gate.State())
}

func TestSignOutDiscardsCompanionState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1"))
	identity := f.gate.Identity()
	require.NotNil(t, identity)
	assert.Equal(t, 2, f.store.Subscribers(identity.UserID))

	require.NoError(t, f.gate.SignOut(ctx))

	assert.Equal(t, session.PhaseUnauthenticated, f.gate.Phase())
	assert.Equal(t, 0, f.store.Subscribers(identity.UserID))
	_, err := f.gate.Companion()
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestWatchRestoresExistingSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	identity, err := f.auth.SignUp(ctx, domain.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)

	watch(t, f.gate)

	require.Eventually(t, func() bool {
		return f.gate.State() == session.StateAuthenticated
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, identity.UserID, f.gate.Identity().UserID)
}

func TestWatchLeavesInvalidatedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	watch(t, f.gate)

	require.NoError(t, f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1"))
	require.Equal(t, session.StateAuthenticated, f.gate.State())

	f.auth.Disable("ana@example.com")

	require.Eventually(t, func() bool {
		return f.gate.State() == session.StateUnauthenticated
	}, time.Second, 5*time.Millisecond)
	_, err := f.gate.Companion()
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	err = f.gate.SignIn(ctx, "ana@example.com", "secret1")
	var authErr *domain.AuthFailure
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, domain.AuthUserDisabled, authErr.Code)
}

func TestWatchSwitchesIdentityWithoutCarryingState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	watch(t, f.gate)

	require.NoError(t, f.gate.SignUp(ctx, "ana@example.com", "secret1", "secret1"))
	ctrl, err := f.gate.Companion()
	require.NoError(t, err)
	require.NoError(t, ctrl.CreateCompanion(ctx, "Tom", "turtle"))
	anaID := f.gate.Identity().UserID

	// another account signs in on the provider directly
	bob, err := f.auth.SignUp(ctx, domain.Credentials{Email: "bob@example.com", Password: "secret1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		id := f.gate.Identity()
		return id != nil && id.UserID == bob.UserID && f.gate.State() == session.StateAuthenticated
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, session.PhaseNeedsCompanion, f.gate.Phase())
	ctrl, err = f.gate.Companion()
	require.NoError(t, err)
	assert.Empty(t, ctrl.State().Companion.Name)
	assert.Equal(t, 0, f.store.Subscribers(anaID))
}
