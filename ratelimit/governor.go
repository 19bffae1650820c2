package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gallerio/go-storage/core"
	glog "github.com/goliatone/go-logger/glog"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key identifies one accounting bucket.
type Key struct {
	Provider string
	Class    core.OperationClass
}

// WindowState tracks rolling hour and day consumption for a bucket.
type WindowState struct {
	Key       Key
	HourStart time.Time
	HourCount int
	DayStart  time.Time
	DayCount  int
	UpdatedAt time.Time
}

// BackoffState tracks the provider-wide throttle window. Throttles affect
// every class of a provider, so backoff lives at provider scope.
type BackoffState struct {
	Provider  string
	Attempts  int
	Until     *time.Time
	UpdatedAt time.Time
}

// StateStore persists governor state. Implementations return
// ErrStateNotFound for missing buckets.
type StateStore interface {
	GetWindow(ctx context.Context, key Key) (WindowState, error)
	UpsertWindow(ctx context.Context, state WindowState) error
	ListWindows(ctx context.Context, provider string) ([]WindowState, error)
	GetBackoff(ctx context.Context, provider string) (BackoffState, error)
	UpsertBackoff(ctx context.Context, state BackoffState) error
}

type Option func(*Governor)

func WithQuotaTable(table QuotaTable) Option {
	return func(g *Governor) {
		if len(table) > 0 {
			g.quotas = table
		}
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(g *Governor) { g.logger = glog.Ensure(logger) }
}

func WithBackoffBounds(initial, maximum time.Duration) Option {
	return func(g *Governor) {
		if initial > 0 {
			g.initialBackoff = initial
		}
		if maximum > 0 {
			g.maxBackoff = maximum
		}
	}
}

// Governor admits provider requests against static quotas and opens an
// adaptive backoff window when a provider throttles us.
type Governor struct {
	store          StateStore
	quotas         QuotaTable
	logger         glog.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

func NewGovernor(store StateStore, options ...Option) (*Governor, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: state store is required")
	}
	governor := &Governor{
		store:          store,
		quotas:         DefaultQuotaTable(),
		logger:         glog.Ensure(nil),
		initialBackoff: time.Second,
		maxBackoff:     5 * time.Minute,
		Now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(governor)
	}
	return governor, nil
}

// CanMakeRequest reports whether the bucket has headroom. Crossing 80% of
// either window logs a warning so operators see exhaustion coming.
func (g *Governor) CanMakeRequest(ctx context.Context, provider string, class core.OperationClass) (bool, error) {
	if g == nil {
		return false, fmt.Errorf("ratelimit: governor is nil")
	}
	key, err := normalizeKey(provider, class)
	if err != nil {
		return false, err
	}
	state, err := g.currentWindow(ctx, key)
	if err != nil {
		return false, err
	}
	quota := g.quotas.Lookup(key.Provider, key.Class)

	if exceeded(state.HourCount, quota.HourLimit) || exceeded(state.DayCount, quota.DayLimit) {
		return false, nil
	}
	if nearLimit(state.HourCount, quota.HourLimit) {
		g.logger.Warn("rate quota nearing hourly limit",
			"provider", key.Provider, "class", string(key.Class),
			"used", state.HourCount, "limit", quota.HourLimit)
	}
	if nearLimit(state.DayCount, quota.DayLimit) {
		g.logger.Warn("rate quota nearing daily limit",
			"provider", key.Provider, "class", string(key.Class),
			"used", state.DayCount, "limit", quota.DayLimit)
	}
	return true, nil
}

func (g *Governor) RecordRequest(ctx context.Context, provider string, class core.OperationClass) error {
	if g == nil {
		return fmt.Errorf("ratelimit: governor is nil")
	}
	key, err := normalizeKey(provider, class)
	if err != nil {
		return err
	}
	state, err := g.currentWindow(ctx, key)
	if err != nil {
		return err
	}
	now := g.now()
	state.HourCount++
	state.DayCount++
	state.UpdatedAt = now
	if err := g.store.UpsertWindow(ctx, state); err != nil {
		return err
	}
	return g.maybeClearBackoff(ctx, key.Provider, now)
}

// RecordThrottle opens or extends the provider backoff window. The delay
// doubles per consecutive throttle and caps at the configured maximum; a
// provider retry-after hint wins when it is longer.
func (g *Governor) RecordThrottle(ctx context.Context, provider string, class core.OperationClass, retryAfter time.Duration) error {
	if g == nil {
		return fmt.Errorf("ratelimit: governor is nil")
	}
	key, err := normalizeKey(provider, class)
	if err != nil {
		return err
	}

	backoff, err := g.store.GetBackoff(ctx, key.Provider)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		backoff = BackoffState{Provider: key.Provider}
	}

	now := g.now()
	backoff.Attempts++
	delay := g.nextBackoff(backoff.Attempts)
	if retryAfter > delay {
		delay = retryAfter
	}
	until := now.Add(delay)
	backoff.Until = &until
	backoff.UpdatedAt = now

	g.logger.Warn("provider throttled; opening backoff window",
		"provider", key.Provider, "class", string(key.Class),
		"attempts", backoff.Attempts, "until", until)
	return g.store.UpsertBackoff(ctx, backoff)
}

func (g *Governor) IsInBackoff(ctx context.Context, provider string) (bool, *time.Time, error) {
	if g == nil {
		return false, nil, fmt.Errorf("ratelimit: governor is nil")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return false, nil, fmt.Errorf("ratelimit: provider is required")
	}
	backoff, err := g.store.GetBackoff(ctx, provider)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if backoff.Until == nil {
		return false, nil, nil
	}
	now := g.now()
	if now.Before(*backoff.Until) {
		until := backoff.Until.UTC()
		return true, &until, nil
	}
	return false, nil, nil
}

// Usage snapshots every class bucket of a provider for the diagnostics
// surface.
func (g *Governor) Usage(ctx context.Context, provider string) ([]core.RateUsage, error) {
	if g == nil {
		return nil, fmt.Errorf("ratelimit: governor is nil")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, fmt.Errorf("ratelimit: provider is required")
	}

	var backoffUntil *time.Time
	if inBackoff, until, err := g.IsInBackoff(ctx, provider); err != nil {
		return nil, err
	} else if inBackoff {
		backoffUntil = until
	}

	classes := []core.OperationClass{
		core.OperationClassUpload,
		core.OperationClassSync,
		core.OperationClassAPI,
	}
	usage := make([]core.RateUsage, 0, len(classes))
	for _, class := range classes {
		key := Key{Provider: provider, Class: class}
		state, err := g.currentWindow(ctx, key)
		if err != nil {
			return nil, err
		}
		quota := g.quotas.Lookup(provider, class)
		usage = append(usage, core.RateUsage{
			Provider:       provider,
			OperationClass: string(class),
			HourUsed:       state.HourCount,
			HourLimit:      quota.HourLimit,
			DayUsed:        state.DayCount,
			DayLimit:       quota.DayLimit,
			BackoffUntil:   backoffUntil,
		})
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].OperationClass < usage[j].OperationClass })
	return usage, nil
}

// currentWindow loads the bucket and rolls expired windows forward.
func (g *Governor) currentWindow(ctx context.Context, key Key) (WindowState, error) {
	now := g.now()
	state, err := g.store.GetWindow(ctx, key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return WindowState{
				Key:       key,
				HourStart: now.Truncate(time.Hour),
				DayStart:  now.Truncate(24 * time.Hour),
				UpdatedAt: now,
			}, nil
		}
		return WindowState{}, err
	}
	if now.Sub(state.HourStart) >= time.Hour {
		state.HourStart = now.Truncate(time.Hour)
		state.HourCount = 0
	}
	if now.Sub(state.DayStart) >= 24*time.Hour {
		state.DayStart = now.Truncate(24 * time.Hour)
		state.DayCount = 0
	}
	return state, nil
}

// maybeClearBackoff resets attempts after a clean request past the window so
// the next throttle starts from the initial delay again.
func (g *Governor) maybeClearBackoff(ctx context.Context, provider string, now time.Time) error {
	backoff, err := g.store.GetBackoff(ctx, provider)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}
	if backoff.Attempts == 0 && backoff.Until == nil {
		return nil
	}
	if backoff.Until != nil && now.Before(*backoff.Until) {
		return nil
	}
	backoff.Attempts = 0
	backoff.Until = nil
	backoff.UpdatedAt = now
	return g.store.UpsertBackoff(ctx, backoff)
}

func (g *Governor) nextBackoff(attempt int) time.Duration {
	initial := g.initialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := g.maxBackoff
	if maximum <= 0 {
		maximum = 5 * time.Minute
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func (g *Governor) now() time.Time {
	if g != nil && g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeKey(provider string, class core.OperationClass) (Key, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return Key{}, fmt.Errorf("ratelimit: provider is required")
	}
	switch class {
	case core.OperationClassUpload, core.OperationClassSync, core.OperationClassAPI:
	default:
		return Key{}, fmt.Errorf("ratelimit: unknown operation class: %s", class)
	}
	return Key{Provider: provider, Class: class}, nil
}

func exceeded(used int, limit int) bool {
	return limit > 0 && used >= limit
}

func nearLimit(used int, limit int) bool {
	return limit > 0 && used*5 >= limit*4 && used < limit
}

var _ core.RateGovernor = (*Governor)(nil)
