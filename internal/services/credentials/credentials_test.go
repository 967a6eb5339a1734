package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"courier/internal/domain/models"
	"courier/internal/lib/crypto"
	"courier/internal/lib/logger/handlers/slogdiscard"
	"courier/internal/storage/sqlite"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, clock *fakeClock) (*Store, *sqlite.Storage) {
	t.Helper()

	backend, err := sqlite.New(filepath.Join(t.TempDir(), "courier.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	sealer, err := crypto.NewSealer([]byte("test-secret"))
	require.NoError(t, err)

	return New(slogdiscard.NewDiscardLogger(), backend, sealer, clock.Now), backend
}

func seed(t *testing.T, ctx context.Context, s *Store, expiry time.Time) models.Session {
	t.Helper()

	sess := models.Session{
		AccessToken:  gofakeit.UUID(),
		RefreshToken: gofakeit.UUID(),
		Expiry:       expiry,
		Role:         models.RoleDriver,
		Onboarded:    true,
		User:         json.RawMessage(`{"name":"` + gofakeit.Name() + `"}`),
	}

	require.NoError(t, s.SaveAccessToken(ctx, sess.AccessToken))
	require.NoError(t, s.SaveRefreshToken(ctx, sess.RefreshToken))
	require.NoError(t, s.SaveExpiry(ctx, sess.Expiry))
	require.NoError(t, s.SaveRole(ctx, sess.Role))
	require.NoError(t, s.SaveOnboardingStatus(ctx, sess.Onboarded))
	require.NoError(t, s.SaveUserData(ctx, sess.User))

	return sess
}

func TestStore_Snapshot(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, _ := newTestStore(t, clock)

	want := seed(t, ctx, s, clock.now.Add(time.Hour))

	got := s.Snapshot(ctx)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.Expiry.Equal(got.Expiry))
	assert.Equal(t, want.Role, got.Role)
	assert.True(t, got.Onboarded)
	assert.JSONEq(t, string(want.User), string(got.User))
}

func TestStore_EmptyStoreReadsAbsent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, &fakeClock{now: time.Now()})

	assert.Empty(t, s.AccessToken(ctx))
	assert.Empty(t, s.RefreshToken(ctx))
	assert.Empty(t, s.Role(ctx))
	assert.False(t, s.HasOnboarded(ctx))
	assert.Nil(t, s.UserData(ctx))
	assert.True(t, s.Expiry(ctx).IsZero())
}

func TestStore_ValuesAreSealedAtRest(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t, &fakeClock{now: time.Now()})

	token := gofakeit.UUID()
	require.NoError(t, s.SaveAccessToken(ctx, token))

	raw, err := backend.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), token)
}

func TestStore_IsAccessTokenExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	tests := []struct {
		name    string
		prepare func(t *testing.T, s *Store, b *sqlite.Storage)
		want    bool
	}{
		{
			name:    "missing expiry",
			prepare: func(t *testing.T, s *Store, b *sqlite.Storage) {},
			want:    true,
		},
		{
			name: "malformed expiry",
			prepare: func(t *testing.T, s *Store, b *sqlite.Storage) {
				require.NoError(t, s.put(ctx, KeyExpiry, []byte("next tuesday")))
			},
			want: true,
		},
		{
			name: "undecryptable expiry",
			prepare: func(t *testing.T, s *Store, b *sqlite.Storage) {
				require.NoError(t, b.Put(ctx, KeyExpiry, []byte("garbage")))
			},
			want: true,
		},
		{
			name: "past expiry",
			prepare: func(t *testing.T, s *Store, b *sqlite.Storage) {
				require.NoError(t, s.SaveExpiry(ctx, clock.now.Add(-time.Second)))
			},
			want: true,
		},
		{
			name: "expiry equals now",
			prepare: func(t *testing.T, s *Store, b *sqlite.Storage) {
				require.NoError(t, s.SaveExpiry(ctx, clock.now))
			},
			want: true,
		},
		{
			name: "future expiry",
			prepare: func(t *testing.T, s *Store, b *sqlite.Storage) {
				require.NoError(t, s.SaveExpiry(ctx, clock.now.Add(time.Minute)))
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b := newTestStore(t, clock)
			tt.prepare(t, s, b)
			assert.Equal(t, tt.want, s.IsAccessTokenExpired(ctx))
		})
	}
}

func TestStore_ExpiryFollowsClock(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, _ := newTestStore(t, clock)

	require.NoError(t, s.SaveExpiry(ctx, clock.now.Add(time.Hour)))
	assert.False(t, s.IsAccessTokenExpired(ctx))

	clock.now = clock.now.Add(time.Hour + time.Millisecond)
	assert.True(t, s.IsAccessTokenExpired(ctx))
}

func TestStore_ClearAccessTokensOnly(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	s, _ := newTestStore(t, clock)
	want := seed(t, ctx, s, clock.now.Add(time.Hour))

	require.NoError(t, s.ClearAccessTokensOnly(ctx))

	assert.Empty(t, s.AccessToken(ctx))
	assert.True(t, s.Expiry(ctx).IsZero())
	assert.Equal(t, want.RefreshToken, s.RefreshToken(ctx))
	assert.Equal(t, want.Role, s.Role(ctx))
	assert.True(t, s.HasOnboarded(ctx))
	assert.NotNil(t, s.UserData(ctx))
}

func TestStore_ClearSessionOnly_KeepsIdentity(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	s, _ := newTestStore(t, clock)
	want := seed(t, ctx, s, clock.now.Add(time.Hour))

	require.NoError(t, s.ClearSessionOnly(ctx))

	assert.Empty(t, s.AccessToken(ctx))
	assert.Empty(t, s.RefreshToken(ctx))
	assert.Nil(t, s.UserData(ctx))
	assert.True(t, s.IsAccessTokenExpired(ctx))
	assert.Equal(t, want.Role, s.Role(ctx))
	assert.True(t, s.HasOnboarded(ctx))
}

func TestStore_ClearAll(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	s, backend := newTestStore(t, clock)
	seed(t, ctx, s, clock.now.Add(time.Hour))

	require.NoError(t, s.ClearAll(ctx))

	assert.Equal(t, models.Session{}, s.Snapshot(ctx))

	keys, err := backend.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (failingBackend) Put(context.Context, string, []byte) error { return errBackendDown }
func (failingBackend) Delete(context.Context, ...string) error { return errBackendDown }

func TestStore_BackendFailures(t *testing.T) {
	ctx := context.Background()
	sealer, err := crypto.NewSealer([]byte("test-secret"))
	require.NoError(t, err)

	s := New(slogdiscard.NewDiscardLogger(), failingBackend{}, sealer, nil)

	// reads degrade to absent
	assert.Equal(t, models.Session{}, s.Snapshot(ctx))
	assert.True(t, s.IsAccessTokenExpired(ctx))

	// writes and clears report
	assert.ErrorIs(t, s.SaveRole(ctx, models.RoleClient), errBackendDown)
	assert.ErrorIs(t, s.ClearAll(ctx), errBackendDown)
}
