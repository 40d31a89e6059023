// Package entitlement merges profile, subscription and daily-counter reads
// into a single view and decides whether the user may run a scan.
package entitlement

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/FloraLens-io/floralens/internal/models"
	"github.com/FloraLens-io/floralens/internal/store"
)

// DailyLimit is the free-tier scan quota per calendar day.
const DailyLimit = 5

// Reader is the slice of the store the reconciler needs.
type Reader interface {
	GetUser(ctx context.Context, id string) (*models.Profile, error)
	GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	GetScanCount(ctx context.Context, userID, date string) (int, error)
	IncrementScanCount(ctx context.Context, userID, date string) (int, error)
}

// Entitlements is the reconciled view for one user. Absent records stay nil;
// the view is safe to derive rights from even when every read failed.
type Entitlements struct {
	Profile      *models.Profile
	Subscription *models.Subscription
	ScanCount    int

	limit int
}

// HasActiveSubscription reports whether a subscription record exists with
// status "active" and an end date not yet passed. The date check is
// authoritative over the stored flag: a record still flagged active past its
// end date does not grant access.
func (e *Entitlements) HasActiveSubscription(now time.Time) bool {
	if e == nil || e.Subscription == nil {
		return false
	}
	if e.Subscription.Status != models.SubscriptionActive {
		return false
	}
	return !now.After(e.Subscription.EndDate)
}

// DailyScansRemaining returns the free scans left today, floored at zero.
func (e *Entitlements) DailyScansRemaining() int {
	if e == nil {
		return 0
	}
	limit := e.limit
	if limit == 0 {
		limit = DailyLimit
	}
	remaining := limit - e.ScanCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanScan reports whether a scan is allowed right now.
func (e *Entitlements) CanScan(now time.Time) bool {
	return e.HasActiveSubscription(now) || e.DailyScansRemaining() > 0
}

// Reconciler loads entitlement state from the store.
type Reconciler struct {
	store Reader
	limit int
	now   func() time.Time
}

func New(s Reader) *Reconciler {
	return &Reconciler{store: s, limit: DailyLimit, now: time.Now}
}

// Load fetches profile, active subscription and today's counter concurrently
// and joins them into one view. A missing record is "none"; any other fetch
// error is logged and degrades to "none" as well. Load never fails: the worst
// outcome is a view in which nothing is granted beyond the free quota.
func (r *Reconciler) Load(ctx context.Context, userID string) *Entitlements {
	ent := &Entitlements{limit: r.limit}
	date := DateKey(r.now())

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		p, err := r.store.GetUser(ctx, userID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Warnf("entitlement: profile fetch failed (user=%s): %v", userID, err)
			}
			return
		}
		ent.Profile = p
	}()

	go func() {
		defer wg.Done()
		s, err := r.store.GetActiveSubscription(ctx, userID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Warnf("entitlement: subscription fetch failed (user=%s): %v", userID, err)
			}
			return
		}
		ent.Subscription = s
	}()

	go func() {
		defer wg.Done()
		count, err := r.store.GetScanCount(ctx, userID, date)
		if err != nil {
			log.Warnf("entitlement: scan count fetch failed (user=%s date=%s): %v", userID, date, err)
			return
		}
		ent.ScanCount = count
	}()

	wg.Wait()
	return ent
}

// RecordScan bumps today's counter and returns the new count. The increment
// is a read-modify-write at the store; concurrent devices can lose updates,
// which the domain tolerates.
func (r *Reconciler) RecordScan(ctx context.Context, userID string) (int, error) {
	return r.store.IncrementScanCount(ctx, userID, DateKey(r.now()))
}

// DateKey renders t as the UTC day key used for scan counters.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
