package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/PabloGalante/pocketpal/internal/adapters/storage/memory"
	"github.com/PabloGalante/pocketpal/internal/domain"
)

func authCode(t *testing.T, err error) domain.AuthCode {
	t.Helper()
	var authErr *domain.AuthFailure
	require.True(t, errors.As(err, &authErr), "expected *AuthFailure, got %v", err)
	return authErr.Code
}

func TestAuthProviderSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	p := memory.NewAuthProviderWithCost(bcrypt.MinCost)

	id, err := p.SignUp(ctx, domain.Credentials{Email: " Ana@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id.UserID)
	assert.Equal(t, "ana@example.com", id.Email)

	require.NoError(t, p.SignOut(ctx))

	again, err := p.SignIn(ctx, domain.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, id.UserID, again.UserID)
}

func TestAuthProviderErrorCodes(t *testing.T) {
	ctx := context.Background()
	p := memory.NewAuthProviderWithCost(bcrypt.MinCost)

	_, err := p.SignUp(ctx, domain.Credentials{Email: "nope", Password: "secret1"})
	assert.Equal(t, domain.AuthInvalidEmail, authCode(t, err))

	_, err = p.SignUp(ctx, domain.Credentials{Email: "ana@example.com", Password: "123"})
	assert.Equal(t, domain.AuthWeakPassword, authCode(t, err))

	_, err = p.SignUp(ctx, domain.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = p.SignUp(ctx, domain.Credentials{Email: "ANA@example.com", Password: "secret1"})
	assert.Equal(t, domain.AuthEmailAlreadyInUse, authCode(t, err))

	_, err = p.SignIn(ctx, domain.Credentials{Email: "bob@example.com", Password: "secret1"})
	assert.Equal(t, domain.AuthUserNotFound, authCode(t, err))

	_, err = p.SignIn(ctx, domain.Credentials{Email: "ana@example.com", Password: "secret2"})
	assert.Equal(t, domain.AuthWrongPassword, authCode(t, err))

	p.Disable("ana@example.com")
	_, err = p.SignIn(ctx, domain.Credentials{Email: "ana@example.com", Password: "secret1"})
	assert.Equal(t, domain.AuthUserDisabled, authCode(t, err))
}

func TestAuthProviderListeners(t *testing.T) {
	ctx := context.Background()
	p := memory.NewAuthProviderWithCost(bcrypt.MinCost)

	var seen []*domain.Identity
	unsubscribe := p.OnIdentityChanged(func(id *domain.Identity) { seen = append(seen, id) })

	id, err := p.SignUp(ctx, domain.Credentials{Email: "ana@example.com", Password: "secret1"})
	require.NoError(t, err)
	p.Disable("ana@example.com")

	require.Len(t, seen, 3)
	assert.Nil(t, seen[0])
	require.NotNil(t, seen[1])
	assert.Equal(t, id.UserID, seen[1].UserID)
	assert.Nil(t, seen[2])

	unsubscribe()
	require.NoError(t, p.SignOut(ctx))
	assert.Len(t, seen, 3)
}
