package memory

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/PabloGalante/pocketpal/internal/domain"
)

type account struct {
	identity domain.Identity
	hash     []byte
	disabled bool
}

// AuthProvider is an in-memory domain.AuthProvider with bcrypt-hashed passwords.
// It keeps a single signed-in identity, like a device does.
type AuthProvider struct {
	mu        sync.Mutex
	accounts  map[string]*account // by lower-cased email
	current   *domain.Identity
	listeners map[int]func(*domain.Identity)
	nextID    int
	cost      int
}

func NewAuthProvider() *AuthProvider {
	return NewAuthProviderWithCost(bcrypt.DefaultCost)
}

// NewAuthProviderWithCost lets tests trade hash strength for speed.
func NewAuthProviderWithCost(cost int) *AuthProvider {
	return &AuthProvider{
		accounts:  make(map[string]*account),
		listeners: make(map[int]func(*domain.Identity)),
		cost:      cost,
	}
}

func (p *AuthProvider) SignUp(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	email := normalizeEmail(creds.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthInvalidEmail}
	}
	if len(creds.Password) < domain.MinPasswordLength {
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthWeakPassword}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), p.cost)
	if err != nil {
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthUnknown, Err: err}
	}

	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthEmailAlreadyInUse}
	}
	acc := &account{
		identity: domain.Identity{UserID: domain.UserID(uuid.NewString()), Email: email},
		hash:     hash,
	}
	p.accounts[email] = acc
	p.mu.Unlock()

	p.setCurrent(&acc.identity)
	return acc.identity, nil
}

func (p *AuthProvider) SignIn(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	email := normalizeEmail(creds.Email)

	p.mu.Lock()
	acc, ok := p.accounts[email]
	p.mu.Unlock()

	if !ok {
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthUserNotFound}
	}
	if acc.disabled {
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthUserDisabled}
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(creds.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthWrongPassword}
		}
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthUnknown, Err: err}
	}

	p.setCurrent(&acc.identity)
	return acc.identity, nil
}

func (p *AuthProvider) SignOut(ctx context.Context) error {
	p.setCurrent(nil)
	return nil
}

// Disable blocks future sign-ins and ends the session if that account is signed in.
func (p *AuthProvider) Disable(email string) {
	email = normalizeEmail(email)

	p.mu.Lock()
	acc, ok := p.accounts[email]
	if ok {
		acc.disabled = true
	}
	signedIn := ok && p.current != nil && p.current.UserID == acc.identity.UserID
	p.mu.Unlock()

	if signedIn {
		p.setCurrent(nil)
	}
}

// OnIdentityChanged calls fn with the current identity right away, then on every change.
func (p *AuthProvider) OnIdentityChanged(fn func(*domain.Identity)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := copyIdentity(p.current)
	p.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *AuthProvider) setCurrent(identity *domain.Identity) {
	p.mu.Lock()
	p.current = copyIdentity(identity)
	fns := make([]func(*domain.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(identity))
	}
}

func copyIdentity(identity *domain.Identity) *domain.Identity {
	if identity == nil {
		return nil
	}
	out := *identity
	return &out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
