package identitytoolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PabloGalante/pocketpal/internal/domain"
	"github.com/PabloGalante/pocketpal/internal/observability"
)

// Client is a domain.AuthProvider backed by the Identity Toolkit REST API
// (Firebase email/password accounts). The signed-in identity lives in memory only.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	mu        sync.Mutex
	current   *session
	listeners map[int]func(*domain.Identity)
	nextID    int
}

type session struct {
	identity     domain.Identity
	idToken      string
	refreshToken string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		listeners:  make(map[int]func(*domain.Identity)),
	}
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) SignUp(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	return c.passwordCall(ctx, "accounts:signUp", creds)
}

func (c *Client) SignIn(ctx context.Context, creds domain.Credentials) (domain.Identity, error) {
	return c.passwordCall(ctx, "accounts:signInWithPassword", creds)
}

func (c *Client) passwordCall(ctx context.Context, method string, creds domain.Credentials) (domain.Identity, error) {
	log := observability.LoggerFromContext(ctx).With("method", method)

	body, err := json.Marshal(passwordRequest{
		Email:             creds.Email,
		Password:          creds.Password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthUnknown, Err: err}
	}

	endpoint := fmt.Sprintf("%s/%s?key=%s", c.BaseURL, method, url.QueryEscape(c.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		log.Error("failed to create request", "error", err)
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthUnknown, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Error("failed to call identity service", "error", err)
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthUnknown, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			log.Error("identity service returned unreadable error", "status", resp.StatusCode, "error", err)
			return domain.Identity{}, &domain.AuthFailure{
				Code: domain.AuthUnknown,
				Err:  fmt.Errorf("identity service returned %d", resp.StatusCode),
			}
		}
		code := CodeFor(apiErr.Error.Message)
		log.Warn("identity service rejected request", "status", resp.StatusCode, "code", code)
		return domain.Identity{}, &domain.AuthFailure{
			Code: code,
			Err:  fmt.Errorf("identity service: %s", apiErr.Error.Message),
		}
	}

	var out passwordResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Error("failed to decode identity response", "error", err)
		return domain.Identity{}, &domain.AuthFailure{Code: domain.AuthUnknown, Err: err}
	}

	identity := domain.Identity{UserID: domain.UserID(out.LocalID), Email: out.Email}
	c.setCurrent(&session{identity: identity, idToken: out.IDToken, refreshToken: out.RefreshToken})
	return identity, nil
}

// CodeFor maps an Identity Toolkit error message to an auth code.
// Messages may carry a detail after " : ", e.g. "WEAK_PASSWORD : Password should be at least 6 characters".
func CodeFor(message string) domain.AuthCode {
	key, _, _ := strings.Cut(message, " : ")
	switch strings.TrimSpace(key) {
	case "EMAIL_EXISTS":
		return domain.AuthEmailAlreadyInUse
	case "INVALID_EMAIL", "MISSING_EMAIL":
		return domain.AuthInvalidEmail
	case "OPERATION_NOT_ALLOWED", "PASSWORD_LOGIN_DISABLED":
		return domain.AuthOperationNotAllowed
	case "WEAK_PASSWORD":
		return domain.AuthWeakPassword
	case "USER_DISABLED":
		return domain.AuthUserDisabled
	case "EMAIL_NOT_FOUND":
		return domain.AuthUserNotFound
	case "INVALID_PASSWORD":
		return domain.AuthWrongPassword
	case "INVALID_LOGIN_CREDENTIALS":
		return domain.AuthInvalidCredential
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return domain.AuthTooManyRequests
	default:
		return domain.AuthUnknown
	}
}

func (c *Client) SignOut(ctx context.Context) error {
	c.setCurrent(nil)
	return nil
}

// IDToken is the bearer token of the current session, empty when signed out.
func (c *Client) IDToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.idToken
}

func (c *Client) OnIdentityChanged(fn func(*domain.Identity)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	current := c.identityLocked()
	c.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) identityLocked() *domain.Identity {
	if c.current == nil {
		return nil
	}
	identity := c.current.identity
	return &identity
}

func (c *Client) setCurrent(s *session) {
	c.mu.Lock()
	c.current = s
	fns := make([]func(*domain.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		var identity *domain.Identity
		if s != nil {
			cp := s.identity
			identity = &cp
		}
		fn(identity)
	}
}
