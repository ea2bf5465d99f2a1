package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/storage"
)

func newTestCredentials(t *testing.T) (*CredentialStore, *storage.MemoryStore, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	store := storage.NewMemoryStore()
	return NewCredentialStore(store, "_system/users.json", bcrypt.MinCost, logger), store, hook
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	creds, _, _ := newTestCredentials(t)

	user, err := creds.Register(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	got, err := creds.Authenticate(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = creds.Authenticate(ctx, "alice@example.com", "wrong-pass")
	assert.ErrorIs(t, err, apperr.ErrAuth)

	_, err = creds.Authenticate(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, apperr.ErrAuth)
	assert.Equal(t, apperr.Message(ErrInvalidCredentials), apperr.Message(err))
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	creds, _, _ := newTestCredentials(t)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"missing email", "", "secret1"},
		{"blank email", "   ", "secret1"},
		{"missing password", "a@example.com", ""},
		{"short password", "a@example.com", "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := creds.Register(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	_, err := creds.Register(ctx, "a@example.com", "123456")
	assert.NoError(t, err)
}

func TestRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	creds, _, _ := newTestCredentials(t)

	_, err := creds.Register(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	_, err = creds.Register(ctx, "alice@example.com", "another1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// emails compare case-sensitively
	_, err = creds.Register(ctx, "Alice@example.com", "another1")
	assert.NoError(t, err)
}

func TestConcurrentRegistrationsAreAllKept(t *testing.T) {
	ctx := context.Background()
	creds, _, _ := newTestCredentials(t)

	emails := []string{"a@x.io", "b@x.io", "c@x.io", "d@x.io"}

	var wg sync.WaitGroup
	for _, email := range emails {
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			_, err := creds.Register(ctx, email, "secret1")
			assert.NoError(t, err)
		}(email)
	}
	wg.Wait()

	for _, email := range emails {
		_, err := creds.Lookup(ctx, email)
		assert.NoError(t, err, email)
	}
}

func TestSetPassword(t *testing.T) {
	ctx := context.Background()
	creds, _, _ := newTestCredentials(t)

	_, err := creds.Register(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, creds.SetPassword(ctx, "alice@example.com", "newsecret"))

	_, err = creds.Authenticate(ctx, "alice@example.com", "secret1")
	assert.ErrorIs(t, err, apperr.ErrAuth)
	_, err = creds.Authenticate(ctx, "alice@example.com", "newsecret")
	assert.NoError(t, err)

	assert.ErrorIs(t, creds.SetPassword(ctx, "alice@example.com", "short"), apperr.ErrValidation)
	assert.ErrorIs(t, creds.SetPassword(ctx, "ghost@example.com", "newsecret"), apperr.ErrNotFound)
}

func TestLookupAndGetUserByID(t *testing.T) {
	ctx := context.Background()
	creds, _, _ := newTestCredentials(t)

	user, err := creds.Register(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	byEmail, err := creds.Lookup(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byID, err := creds.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)

	_, err = creds.Lookup(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDirectoryNeverLeaksPasswords(t *testing.T) {
	ctx := context.Background()
	creds, store, hook := newTestCredentials(t)

	_, err := creds.Register(ctx, "alice@example.com", "plaintext-secret")
	require.NoError(t, err)
	require.NoError(t, creds.SetPassword(ctx, "alice@example.com", "another-secret"))

	obj, err := store.Get(ctx, "_system/users.json")
	require.NoError(t, err)
	assert.NotContains(t, string(obj.Data), "plaintext-secret")
	assert.NotContains(t, string(obj.Data), "another-secret")

	for _, entry := range hook.AllEntries() {
		line, _ := entry.String()
		assert.NotContains(t, line, "plaintext-secret")
		assert.NotContains(t, line, "$2a$")
	}
}
