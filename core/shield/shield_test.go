package shield

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/tests"
)

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}
func (failingStore) Block(context.Context, string, time.Duration) error { return errors.New("redis down") }
func (failingStore) BlockedFor(context.Context, string) (time.Duration, error) {
	return 0, errors.New("redis down")
}

func TestShield_Check(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.NowFunc = func() time.Time { return now }
	sh := New(store, testutil.NewLogger(t))

	sec := settings.DefaultSecurity()
	sec.IsActive = true
	sec.RateLimit = settings.RateLimit{MaxRefreshes: 3, RefreshWindowSeconds: 60, BlockDurationMinutes: 15}

	for i := 0; i < 3; i++ {
		assert.True(t, sh.Check(ctx, "10.0.0.1", sec).Allowed, "hit %d", i+1)
	}
	v := sh.Check(ctx, "10.0.0.1", sec)
	assert.False(t, v.Allowed)
	assert.Equal(t, 15*time.Minute, v.RetryAfter)

	// other clients are unaffected
	assert.True(t, sh.Check(ctx, "10.0.0.2", sec).Allowed)

	// still blocked later on
	now = now.Add(10 * time.Minute)
	v = sh.Check(ctx, "10.0.0.1", sec)
	assert.False(t, v.Allowed)
	assert.Equal(t, 5*time.Minute, v.RetryAfter)

	// block expires
	now = now.Add(5 * time.Minute)
	assert.True(t, sh.Check(ctx, "10.0.0.1", sec).Allowed)
}

func TestShield_WindowResets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.NowFunc = func() time.Time { return now }
	sh := New(store, testutil.NewLogger(t))

	sec := settings.DefaultSecurity()
	sec.IsActive = true
	sec.RateLimit.MaxRefreshes = 2

	assert.True(t, sh.Check(ctx, "c", sec).Allowed)
	assert.True(t, sh.Check(ctx, "c", sec).Allowed)
	now = now.Add(time.Minute)
	assert.True(t, sh.Check(ctx, "c", sec).Allowed)
}

func TestShield_Inactive(t *testing.T) {
	sh := New(failingStore{}, testutil.NewLogger(t))
	assert.True(t, sh.Check(context.Background(), "c", settings.DefaultSecurity()).Allowed)
}

func TestShield_FailsOpen(t *testing.T) {
	sh := New(failingStore{}, testutil.NewLogger(t))
	sec := settings.DefaultSecurity()
	sec.IsActive = true
	assert.True(t, sh.Check(context.Background(), "c", sec).Allowed)
}
