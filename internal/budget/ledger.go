// Package budget enforces the engine's daily and monthly spend caps and
// gates admission to the paid remote layer.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardamom-hq/cardamom/internal/common"
)

// warnFraction is the spend fraction at which a one-time warning fires.
const warnFraction = 0.8

// SpendStore is the durable side of the ledger: atomic per-period
// accumulators. AddSpend must be an atomic increment returning the new
// period total.
type SpendStore interface {
	AddSpend(ctx context.Context, periodKey string, amountCents int64) (int64, error)
	GetSpend(ctx context.Context, periodKey string) (int64, error)
}

// Limits are the spend caps in cents.
type Limits struct {
	DailyCapCents   int64
	MonthlyCapCents int64
}

// Usage is a snapshot of the ledger for reporting.
type Usage struct {
	DailySpentCents       int64
	MonthlySpentCents     int64
	DailyRemainingCents   int64
	MonthlyRemainingCents int64
	ProjectedMonthlyCents int64
	RemoteDisabled        bool
	RemoteDisabledUntil   time.Time
}

// Guard maintains the daily and monthly accumulators and the hard-disable
// signal for the remote layer. Increments are atomic; concurrent requests
// racing check-then-track can overshoot the cap by at most the in-flight
// calls' cost, which is accepted rather than serializing requests.
type Guard struct {
	store  SpendStore
	logger *slog.Logger
	now    func() time.Time
	limits Limits

	mu           sync.Mutex
	dayKey       string
	monthKey     string
	warnedDay    bool
	warnedMonth  bool
	dailySpent   atomic.Int64
	monthlySpent atomic.Int64

	disabledUntil atomic.Int64 // unix nanos; 0 when remote is allowed

	retryOpts common.RetryOptions
}

// NewGuard creates a budget guard and loads the current period totals from
// the store.
func NewGuard(ctx context.Context, store SpendStore, limits Limits, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{
		store:  store,
		limits: limits,
		logger: logger,
		now:    time.Now,
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Multiplier:   2.0,
		},
	}

	now := g.now()
	g.dayKey = dayKey(now)
	g.monthKey = monthKey(now)

	daily, err := store.GetSpend(ctx, g.dayKey)
	if err != nil {
		return nil, err
	}
	monthly, err := store.GetSpend(ctx, g.monthKey)
	if err != nil {
		return nil, err
	}
	g.dailySpent.Store(daily)
	g.monthlySpent.Store(monthly)

	if daily >= limits.DailyCapCents {
		g.disableRemote(now)
	}

	return g, nil
}

func dayKey(t time.Time) string   { return t.Format("2006-01-02") }
func monthKey(t time.Time) string { return t.Format("2006-01") }

// rollover resets whichever period accumulator has expired. Only the
// expired period resets; the other keeps accumulating.
func (g *Guard) rollover(ctx context.Context) {
	now := g.now()
	day, month := dayKey(now), monthKey(now)

	g.mu.Lock()
	defer g.mu.Unlock()

	if day != g.dayKey {
		g.dayKey = day
		g.warnedDay = false
		spent, err := g.store.GetSpend(ctx, day)
		if err != nil {
			spent = 0
		}
		g.dailySpent.Store(spent)
	}

	if month != g.monthKey {
		g.monthKey = month
		g.warnedMonth = false
		spent, err := g.store.GetSpend(ctx, month)
		if err != nil {
			spent = 0
		}
		g.monthlySpent.Store(spent)
	}
}

// WithinBudget reports whether the remote layer may be used right now.
func (g *Guard) WithinBudget(ctx context.Context) bool {
	return g.Admit(ctx) == nil
}

// Admit reports whether the paid layer may spend right now. A denial
// carries ErrBudgetExceeded; it is a routing signal for the caller, never
// surfaced to the end user.
func (g *Guard) Admit(ctx context.Context) error {
	g.rollover(ctx)

	if until := g.disabledUntil.Load(); until != 0 {
		if g.now().UnixNano() < until {
			return fmt.Errorf("%w: remote layer disabled until %s",
				common.ErrBudgetExceeded, time.Unix(0, until).Format(time.RFC3339))
		}
		// Cool-down expired; clear the signal.
		g.disabledUntil.CompareAndSwap(until, 0)
	}

	if g.dailySpent.Load() >= g.limits.DailyCapCents {
		return fmt.Errorf("%w: daily cap reached", common.ErrBudgetExceeded)
	}
	if g.monthlySpent.Load() >= g.limits.MonthlyCapCents {
		return fmt.Errorf("%w: monthly cap reached", common.ErrBudgetExceeded)
	}
	return nil
}

// Track records spend against both periods and returns the updated usage.
// The durable increments are retried on conflict with bounded backoff.
func (g *Guard) Track(ctx context.Context, amountCents int64) (Usage, error) {
	g.rollover(ctx)

	g.mu.Lock()
	day, month := g.dayKey, g.monthKey
	g.mu.Unlock()

	var dailyTotal, monthlyTotal int64
	err := common.WithRetry(ctx, func() error {
		total, err := g.store.AddSpend(ctx, day, amountCents)
		if err != nil {
			return err
		}
		dailyTotal = total
		return nil
	}, g.retryOpts)
	if err != nil {
		return Usage{}, err
	}

	err = common.WithRetry(ctx, func() error {
		total, err := g.store.AddSpend(ctx, month, amountCents)
		if err != nil {
			return err
		}
		monthlyTotal = total
		return nil
	}, g.retryOpts)
	if err != nil {
		return Usage{}, err
	}

	g.dailySpent.Store(dailyTotal)
	g.monthlySpent.Store(monthlyTotal)

	g.checkThresholds(dailyTotal, monthlyTotal)

	return g.usage(dailyTotal, monthlyTotal), nil
}

// checkThresholds emits the one-time 80% warnings and the hard-disable
// signal when the daily cap is met or exceeded.
func (g *Guard) checkThresholds(daily, monthly int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.warnedDay && float64(daily) >= warnFraction*float64(g.limits.DailyCapCents) {
		g.warnedDay = true
		g.logger.Warn("daily spend approaching cap",
			"spent_cents", daily,
			"cap_cents", g.limits.DailyCapCents)
	}
	if !g.warnedMonth && float64(monthly) >= warnFraction*float64(g.limits.MonthlyCapCents) {
		g.warnedMonth = true
		g.logger.Warn("monthly spend approaching cap",
			"spent_cents", monthly,
			"cap_cents", g.limits.MonthlyCapCents)
	}

	if daily >= g.limits.DailyCapCents {
		g.disableRemote(g.now())
	}
}

// disableRemote sets the hard-disable signal for the remainder of the day.
// The signal expires on its own at the period boundary.
func (g *Guard) disableRemote(now time.Time) {
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	g.disabledUntil.Store(endOfDay.UnixNano())
	g.logger.Warn("remote layer disabled until end of day",
		"until", endOfDay,
		"daily_spent_cents", g.dailySpent.Load())
}

// UsageReport returns the current ledger snapshot for dashboards.
func (g *Guard) UsageReport(ctx context.Context) Usage {
	g.rollover(ctx)
	return g.usage(g.dailySpent.Load(), g.monthlySpent.Load())
}

func (g *Guard) usage(daily, monthly int64) Usage {
	now := g.now()
	dayOfMonth := now.Day()
	daysInMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()

	projected := monthly
	if dayOfMonth > 0 {
		projected = monthly / int64(dayOfMonth) * int64(daysInMonth)
	}

	until := g.disabledUntil.Load()
	disabled := until != 0 && now.UnixNano() < until

	u := Usage{
		DailySpentCents:       daily,
		MonthlySpentCents:     monthly,
		DailyRemainingCents:   max64(g.limits.DailyCapCents-daily, 0),
		MonthlyRemainingCents: max64(g.limits.MonthlyCapCents-monthly, 0),
		ProjectedMonthlyCents: projected,
		RemoteDisabled:        disabled,
	}
	if disabled {
		u.RemoteDisabledUntil = time.Unix(0, until)
	}
	return u
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
