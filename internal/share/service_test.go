package share

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *time.Time) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	svc := NewService(store, "_system/shares/", 0, 0, logger)
	svc.now = func() time.Time { return clock }
	return svc, store, &clock
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	owner := uuid.New()

	tok, err := svc.Issue(ctx, "abc_report.pdf", "report.pdf", owner, 2)
	require.NoError(t, err)
	assert.Equal(t, owner, tok.OwnerUserID)

	_, err = store.Head(ctx, "_system/shares/"+tok.Token.String()+".json")
	require.NoError(t, err)

	got, err := svc.Validate(ctx, tok.Token.String())
	require.NoError(t, err)
	assert.Equal(t, "abc_report.pdf", got.StorageKey)
	assert.Equal(t, "report.pdf", got.Filename)
}

func TestExpiryWindow(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	issued := *clock

	tok, err := svc.Issue(ctx, "k", "f.txt", uuid.New(), 3)
	require.NoError(t, err)
	assert.Equal(t, issued.Add(3*time.Hour), tok.Expiry)

	*clock = issued.Add(3 * time.Hour)
	_, err = svc.Validate(ctx, tok.Token.String())
	assert.NoError(t, err)

	*clock = issued.Add(3*time.Hour + time.Second)
	_, err = svc.Validate(ctx, tok.Token.String())
	assert.ErrorIs(t, err, apperr.ErrExpired)
	assert.NotErrorIs(t, err, apperr.ErrAuth)
}

func TestIssueRejectsOversizedLifetime(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)

	tok, err := svc.Issue(ctx, "k_a.txt", "a.txt", uuid.New(), DefaultMaxHours)
	require.NoError(t, err)
	assert.Equal(t, clock.Add(DefaultMaxHours*time.Hour), tok.Expiry)

	for _, hours := range []int{DefaultMaxHours + 1, 3000000} {
		_, err := svc.Issue(ctx, "k_a.txt", "a.txt", uuid.New(), hours)
		assert.ErrorIs(t, err, apperr.ErrValidation, "hours=%d", hours)
	}

	infos, err := store.List(ctx, "_system/shares/")
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestDefaultHours(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)

	for _, hours := range []int{0, -5} {
		tok, err := svc.Issue(ctx, "k", "f.txt", uuid.New(), hours)
		require.NoError(t, err)
		assert.Equal(t, clock.Add(DefaultHours*time.Hour), tok.Expiry)
	}
}

func TestValidateUnknown(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Validate(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Validate(ctx, "../users")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTokensAreIndependentObjects(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	for i := 0; i < 5; i++ {
		_, err := svc.Issue(ctx, "k", "f.txt", uuid.New(), 1)
		require.NoError(t, err)
	}

	objs, err := store.List(ctx, "_system/shares/")
	require.NoError(t, err)
	assert.Len(t, objs, 5)
	for _, o := range objs {
		assert.True(t, strings.HasSuffix(o.Key, ".json"))
	}
}
