package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PabloGalante/pocketpal/internal/app/companion"
	"github.com/PabloGalante/pocketpal/internal/domain"
	"github.com/PabloGalante/pocketpal/internal/observability"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Phase is what the application should show.
type Phase string

const (
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseAuthenticating  Phase = "authenticating"
	PhaseNeedsCompanion  Phase = "needs-companion"
	PhaseActive          Phase = "active"
)

var ErrAuthInProgress = errors.New("a sign-in is already in progress")
var ErrAlreadySignedIn = errors.New("already signed in")

// Gate tracks who is signed in and owns that identity's companion controller.
// The controller is created when an identity is entered and closed when it is left,
// so nothing carries over between identities.
type Gate struct {
	auth     domain.AuthProvider
	gateway  domain.CompanionGateway
	notifier domain.NotificationGateway
	opts     companion.Options
	now      func() time.Time

	mu         sync.Mutex
	state      State
	identity   *domain.Identity
	controller *companion.Controller
	lastErr    error
}

func NewGate(
	auth domain.AuthProvider,
	gateway domain.CompanionGateway,
	notifier domain.NotificationGateway,
	opts companion.Options,
) *Gate {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		auth:     auth,
		gateway:  gateway,
		notifier: notifier,
		opts:     opts,
		now:      now,
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Identity is nil unless authenticated.
func (g *Gate) Identity() *domain.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.identity == nil {
		return nil
	}
	id := *g.identity
	return &id
}

// LastError is the failure of the most recent authentication attempt, if any.
func (g *Gate) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

func (g *Gate) Phase() Phase {
	g.mu.Lock()
	state, ctrl := g.state, g.controller
	g.mu.Unlock()

	switch state {
	case StateAuthenticating:
		return PhaseAuthenticating
	case StateAuthenticated:
		if ctrl != nil && ctrl.HasCompanion() {
			return PhaseActive
		}
		return PhaseNeedsCompanion
	default:
		return PhaseUnauthenticated
	}
}

// Companion returns the signed-in identity's controller.
func (g *Gate) Companion() (*companion.Controller, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated || g.controller == nil {
		return nil, domain.ErrNotAuthenticated
	}
	return g.controller, nil
}

// SignUp registers a new account, creates its record and enters it.
func (g *Gate) SignUp(ctx context.Context, email, password, confirm string) error {
	if err := domain.ValidateRegistration(email, password, confirm); err != nil {
		return err
	}
	if err := g.beginAuth(); err != nil {
		return err
	}

	creds := domain.Credentials{Email: strings.TrimSpace(email), Password: password}
	log := observability.LoggerFromContext(ctx)
	log.Info("sign up started")

	identity, err := g.auth.SignUp(ctx, creds)
	if err != nil {
		return g.failAuth(ctx, err)
	}

	ctx = observability.WithUserID(ctx, string(identity.UserID))
	if err := g.gateway.CreateUserRecord(ctx, identity.UserID, identity.Email, g.now()); err != nil {
		_ = g.auth.SignOut(ctx)
		return g.failAuth(ctx, fmt.Errorf("create user record: %w", err))
	}

	return g.enter(ctx, identity, true)
}

// SignIn authenticates an existing account and enters it.
func (g *Gate) SignIn(ctx context.Context, email, password string) error {
	creds := domain.Credentials{Email: strings.TrimSpace(email), Password: password}
	if err := domain.ValidateSignIn(creds); err != nil {
		return err
	}
	if err := g.beginAuth(); err != nil {
		return err
	}

	observability.LoggerFromContext(ctx).Info("sign in started")

	identity, err := g.auth.SignIn(ctx, creds)
	if err != nil {
		return g.failAuth(ctx, err)
	}
	return g.enter(observability.WithUserID(ctx, string(identity.UserID)), identity, true)
}

// SignOut ends the session and discards the companion state.
func (g *Gate) SignOut(ctx context.Context) error {
	if err := g.auth.SignOut(ctx); err != nil {
		observability.LoggerFromContext(ctx).Error("sign out failed", "error", err)
		return fmt.Errorf("sign out: %w", err)
	}
	g.leave(ctx)
	return nil
}

// Close leaves the current identity without signing out of the provider.
func (g *Gate) Close(ctx context.Context) {
	g.leave(ctx)
}

// Watch follows the provider's identity changes until ctx is done: a restored
// session is entered, an invalidated one is left.
func (g *Gate) Watch(ctx context.Context) {
	var (
		mu     sync.Mutex
		latest *domain.Identity
		wake   = make(chan struct{}, 1)
	)

	unsubscribe := g.auth.OnIdentityChanged(func(identity *domain.Identity) {
		mu.Lock()
		latest = identity
		mu.Unlock()

		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			mu.Lock()
			identity := latest
			mu.Unlock()
			g.reconcile(ctx, identity)
		}
	}
}

func (g *Gate) reconcile(ctx context.Context, identity *domain.Identity) {
	log := observability.LoggerFromContext(ctx)

	g.mu.Lock()
	state, current := g.state, g.identity
	g.mu.Unlock()

	switch {
	case state == StateAuthenticating:
		// an explicit sign-in/up owns this transition
		return

	case identity == nil:
		if state == StateAuthenticated {
			log.Info("session ended externally")
			g.leave(ctx)
		}

	case state == StateAuthenticated && current != nil && current.UserID == identity.UserID:
		return

	default:
		if state == StateAuthenticated {
			log.Info("identity switched", "from", current.UserID, "to", identity.UserID)
			g.leave(ctx)
		}
		if err := g.beginAuth(); err != nil {
			return
		}
		log.Info("restoring session", "user_id", identity.UserID)
		_ = g.enter(observability.WithUserID(ctx, string(identity.UserID)), *identity, false)
	}
}

func (g *Gate) beginAuth() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateAuthenticating:
		return ErrAuthInProgress
	case StateAuthenticated:
		return ErrAlreadySignedIn
	}
	g.state = StateAuthenticating
	g.lastErr = nil
	return nil
}

func (g *Gate) failAuth(ctx context.Context, err error) error {
	var authErr *domain.AuthFailure
	if !errors.As(err, &authErr) {
		err = &domain.AuthFailure{Code: domain.AuthUnknown, Err: err}
	}
	observability.LoggerFromContext(ctx).Warn("authentication failed", "error", err)

	g.mu.Lock()
	g.state = StateUnauthenticated
	g.identity = nil
	g.lastErr = err
	g.mu.Unlock()
	return err
}

// enter builds and opens a fresh controller for identity. The gate must be Authenticating.
// With signOutOnFailure, a failed open also ends the provider session so the two agree.
func (g *Gate) enter(ctx context.Context, identity domain.Identity, signOutOnFailure bool) error {
	ctrl := companion.NewController(identity, g.gateway, g.notifier, g.opts)
	if err := ctrl.Open(ctx); err != nil {
		ctrl.Close()
		if signOutOnFailure {
			if signOutErr := g.auth.SignOut(ctx); signOutErr != nil {
				observability.LoggerFromContext(ctx).Error("sign out after failed open", "error", signOutErr)
			}
		}
		return g.failAuth(ctx, err)
	}

	g.mu.Lock()
	g.state = StateAuthenticated
	g.identity = &identity
	g.controller = ctrl
	g.mu.Unlock()

	observability.LoggerFromContext(ctx).Info("authenticated", "has_companion", ctrl.HasCompanion())
	return nil
}

func (g *Gate) leave(ctx context.Context) {
	g.mu.Lock()
	ctrl := g.controller
	wasAuthenticated := g.state == StateAuthenticated
	g.controller = nil
	g.identity = nil
	if wasAuthenticated {
		g.state = StateUnauthenticated
	}
	g.mu.Unlock()

	if ctrl != nil {
		ctrl.Close()
		observability.LoggerFromContext(ctx).Info("signed out", "user_id", ctrl.Identity().UserID)
	}
}
