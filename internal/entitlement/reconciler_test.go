package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FloraLens-io/floralens/internal/models"
	"github.com/FloraLens-io/floralens/internal/store"
)

type stubStore struct {
	profile      *models.Profile
	subscription *models.Subscription
	count        int

	profileErr      error
	subscriptionErr error
	countErr        error

	increments int
}

func (s *stubStore) GetUser(ctx context.Context, id string) (*models.Profile, error) {
	if s.profileErr != nil {
		return nil, s.profileErr
	}
	return s.profile, nil
}

func (s *stubStore) GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	if s.subscriptionErr != nil {
		return nil, s.subscriptionErr
	}
	if s.subscription == nil {
		return nil, store.ErrNotFound
	}
	return s.subscription, nil
}

func (s *stubStore) GetScanCount(ctx context.Context, userID, date string) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.count, nil
}

func (s *stubStore) IncrementScanCount(ctx context.Context, userID, date string) (int, error) {
	s.increments++
	s.count++
	return s.count, nil
}

func activeSub(end time.Time) *models.Subscription {
	return &models.Subscription{
		ID:      "sub-1",
		UserID:  "uid-1",
		Plan:    "premium",
		Status:  models.SubscriptionActive,
		EndDate: end,
	}
}

func TestDailyScansRemaining(t *testing.T) {
	now := time.Now()
	for count, want := range map[int]int{0: 5, 3: 2, 5: 0, 9: 0} {
		ent := &Entitlements{ScanCount: count}
		assert.Equal(t, want, ent.DailyScansRemaining(), "count=%d", count)
	}

	// At the limit, scanning depends solely on subscription status.
	ent := &Entitlements{ScanCount: 5}
	assert.False(t, ent.CanScan(now))
	ent.Subscription = activeSub(now.Add(24 * time.Hour))
	assert.True(t, ent.CanScan(now))
}

func TestHasActiveSubscription(t *testing.T) {
	now := time.Now()

	t.Run("No record", func(t *testing.T) {
		ent := &Entitlements{}
		assert.False(t, ent.HasActiveSubscription(now))
	})

	t.Run("Active record", func(t *testing.T) {
		ent := &Entitlements{Subscription: activeSub(now.Add(24 * time.Hour))}
		assert.True(t, ent.HasActiveSubscription(now))
	})

	t.Run("Cancelled record", func(t *testing.T) {
		sub := activeSub(now.Add(24 * time.Hour))
		sub.Status = models.SubscriptionCancelled
		ent := &Entitlements{Subscription: sub}
		assert.False(t, ent.HasActiveSubscription(now))
	})

	t.Run("Flag active but past end date", func(t *testing.T) {
		ent := &Entitlements{Subscription: activeSub(now.Add(-time.Hour))}
		assert.False(t, ent.HasActiveSubscription(now))
	})
}

func TestCanScan(t *testing.T) {
	now := time.Now()

	t.Run("Free quota available", func(t *testing.T) {
		ent := &Entitlements{ScanCount: 0}
		assert.True(t, ent.CanScan(now))
	})

	t.Run("Quota exhausted without subscription", func(t *testing.T) {
		ent := &Entitlements{ScanCount: 5}
		assert.False(t, ent.CanScan(now))
	})

	t.Run("Subscription overrides quota", func(t *testing.T) {
		ent := &Entitlements{ScanCount: 5, Subscription: activeSub(now.Add(time.Hour))}
		assert.True(t, ent.CanScan(now))
	})
}

func TestLoadJoinsAllReads(t *testing.T) {
	s := &stubStore{
		profile:      &models.Profile{ID: "uid-1", Email: "a@b.co"},
		subscription: activeSub(time.Now().Add(time.Hour)),
		count:        2,
	}
	ent := New(s).Load(context.Background(), "uid-1")

	require.NotNil(t, ent.Profile)
	assert.Equal(t, "a@b.co", ent.Profile.Email)
	require.NotNil(t, ent.Subscription)
	assert.Equal(t, 2, ent.ScanCount)
	assert.Equal(t, 3, ent.DailyScansRemaining())
}

func TestLoadToleratesPartialFailure(t *testing.T) {
	s := &stubStore{
		profileErr:      errors.New("boom"),
		subscriptionErr: errors.New("boom"),
		countErr:        errors.New("boom"),
	}
	ent := New(s).Load(context.Background(), "uid-1")

	require.NotNil(t, ent)
	assert.Nil(t, ent.Profile)
	assert.Nil(t, ent.Subscription)
	assert.Equal(t, 0, ent.ScanCount)
	// Degraded view still allows the free quota.
	assert.True(t, ent.CanScan(time.Now()))
}

func TestRecordScan(t *testing.T) {
	s := &stubStore{count: 4}
	r := New(s)
	count, err := r.RecordScan(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, 1, s.increments)
}

func TestDateKey(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 02:30 local on the 31st is 21:30 UTC on the 30th.
	ts := time.Date(2026, 8, 31, 2, 30, 0, 0, loc)
	assert.Equal(t, "2026-08-30", DateKey(ts))
}
