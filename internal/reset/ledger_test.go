package reset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/auth"
	"github.com/filevault-gateway/internal/storage"
)

type SpyMailer struct {
	mock.Mock
}

func (m *SpyMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	args := m.Called(ctx, email, link)
	return args.Error(0)
}

type fixture struct {
	ledger *Ledger
	creds  *auth.CredentialStore
	mailer *SpyMailer
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	creds := auth.NewCredentialStore(store, "_system/users.json", bcrypt.MinCost, logger)

	_, err := creds.Register(context.Background(), "alice@example.com", "secret1")
	require.NoError(t, err)

	f := &fixture{
		creds:  creds,
		mailer: &SpyMailer{},
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.ledger = NewLedger(store, creds, f.mailer, Config{
		DocumentKey: "_system/reset_tokens.json",
		PublicURL:   "https://files.example.com/",
	}, logger)
	f.ledger.now = func() time.Time { return f.clock }
	return f
}

func TestIssueSendsLink(t *testing.T) {
	f := newFixture(t)
	f.mailer.On("SendPasswordReset", mock.Anything, "alice@example.com",
		mock.MatchedBy(func(link string) bool {
			return len(link) > len("https://files.example.com/reset-password/")
		})).Return(nil).Once()

	tok, err := f.ledger.Issue(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(time.Hour), tok.Expiry)
	assert.False(t, tok.Used)

	f.mailer.AssertExpectations(t)
	link := f.mailer.Calls[0].Arguments.String(2)
	assert.Equal(t, "https://files.example.com/reset-password/"+tok.Token.String(), link)
}

func TestIssueUnknownEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Issue(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	f.mailer.AssertNotCalled(t, "SendPasswordReset", mock.Anything, mock.Anything, mock.Anything)
}

func TestIssueSurvivesMailerFailure(t *testing.T) {
	f := newFixture(t)
	f.mailer.On("SendPasswordReset", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp down"))

	tok, err := f.ledger.Issue(context.Background(), "alice@example.com")
	require.NoError(t, err)

	email, err := f.ledger.Validate(context.Background(), tok.Token.String())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
}

func TestValidateLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.On("SendPasswordReset", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	tok, err := f.ledger.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock = f.clock.Add(59 * time.Minute)
	email, err := f.ledger.Validate(ctx, tok.Token.String())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	// validation does not consume
	_, err = f.ledger.Validate(ctx, tok.Token.String())
	require.NoError(t, err)

	f.clock = tok.Expiry
	_, err = f.ledger.Validate(ctx, tok.Token.String())
	require.NoError(t, err)

	f.clock = tok.Expiry.Add(time.Second)
	_, err = f.ledger.Validate(ctx, tok.Token.String())
	assert.ErrorIs(t, err, apperr.ErrExpired)

	_, err = f.ledger.Validate(ctx, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.ledger.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.On("SendPasswordReset", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	tok, err := f.ledger.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	_, err = f.ledger.Consume(ctx, tok.Token.String(), "short")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// a rejected password leaves the token live
	_, err = f.ledger.Validate(ctx, tok.Token.String())
	require.NoError(t, err)

	email, err := f.ledger.Consume(ctx, tok.Token.String(), "brand-new")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	_, err = f.creds.Authenticate(ctx, "alice@example.com", "brand-new")
	assert.NoError(t, err)
	_, err = f.creds.Authenticate(ctx, "alice@example.com", "secret1")
	assert.ErrorIs(t, err, apperr.ErrAuth)

	_, err = f.ledger.Consume(ctx, tok.Token.String(), "another1")
	assert.ErrorIs(t, err, apperr.ErrUsed)

	_, err = f.ledger.Validate(ctx, tok.Token.String())
	assert.ErrorIs(t, err, apperr.ErrUsed)
}

func TestConsumeExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.On("SendPasswordReset", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	tok, err := f.ledger.Issue(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	_, err = f.ledger.Consume(ctx, tok.Token.String(), "brand-new")
	assert.ErrorIs(t, err, apperr.ErrExpired)

	_, err = f.creds.Authenticate(ctx, "alice@example.com", "secret1")
	assert.NoError(t, err)
}

func TestUsedReportedAfterExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.On("SendPasswordReset", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	tok, err := f.ledger.Issue(ctx, "alice@example.com")
	require.NoError(t, err)
	_, err = f.ledger.Consume(ctx, tok.Token.String(), "brand-new")
	require.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	_, err = f.ledger.Validate(ctx, tok.Token.String())
	assert.ErrorIs(t, err, apperr.ErrUsed)
	_, err = f.ledger.Consume(ctx, tok.Token.String(), "brand-new")
	assert.ErrorIs(t, err, apperr.ErrUsed)
}

func TestMultipleLiveTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.On("SendPasswordReset", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	first, err := f.ledger.Issue(ctx, "alice@example.com")
	require.NoError(t, err)
	second, err := f.ledger.Issue(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = f.ledger.Validate(ctx, first.Token.String())
	assert.NoError(t, err)
	_, err = f.ledger.Validate(ctx, second.Token.String())
	assert.NoError(t, err)

	_, err = f.ledger.Consume(ctx, second.Token.String(), "brand-new")
	require.NoError(t, err)

	_, err = f.ledger.Validate(ctx, first.Token.String())
	assert.NoError(t, err)
}
