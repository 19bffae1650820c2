package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/gallerio/go-storage/core"
)

func newTestGovernor(t *testing.T, options ...Option) (*Governor, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0).UTC()
	governor, err := NewGovernor(NewMemoryStateStore(), options...)
	if err != nil {
		t.Fatalf("NewGovernor: %v", err)
	}
	governor.Now = func() time.Time { return now }
	return governor, &now
}

func TestGovernorAllowsFreshBucket(t *testing.T) {
	governor, _ := newTestGovernor(t)

	allowed, err := governor.CanMakeRequest(context.Background(), "gdrive", core.OperationClassUpload)
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if !allowed {
		t.Fatalf("expected fresh bucket to be admitted")
	}
}

func TestGovernorDeniesExhaustedHourWindow(t *testing.T) {
	governor, _ := newTestGovernor(t, WithQuotaTable(QuotaTable{
		"gdrive": {core.OperationClassUpload: {HourLimit: 2, DayLimit: 100}},
	}))

	for i := 0; i < 2; i++ {
		if err := governor.RecordRequest(context.Background(), "gdrive", core.OperationClassUpload); err != nil {
			t.Fatalf("RecordRequest: %v", err)
		}
	}
	allowed, err := governor.CanMakeRequest(context.Background(), "gdrive", core.OperationClassUpload)
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if allowed {
		t.Fatalf("expected exhausted hour window to deny")
	}
}

func TestGovernorClassesAccountSeparately(t *testing.T) {
	governor, _ := newTestGovernor(t, WithQuotaTable(QuotaTable{
		"gdrive": {
			core.OperationClassUpload: {HourLimit: 1, DayLimit: 10},
			core.OperationClassSync:   {HourLimit: 5, DayLimit: 10},
		},
	}))

	if err := governor.RecordRequest(context.Background(), "gdrive", core.OperationClassUpload); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	allowed, err := governor.CanMakeRequest(context.Background(), "gdrive", core.OperationClassUpload)
	if err != nil {
		t.Fatalf("CanMakeRequest upload: %v", err)
	}
	if allowed {
		t.Fatalf("expected upload bucket exhausted")
	}
	allowed, err = governor.CanMakeRequest(context.Background(), "gdrive", core.OperationClassSync)
	if err != nil {
		t.Fatalf("CanMakeRequest sync: %v", err)
	}
	if !allowed {
		t.Fatalf("expected sync bucket unaffected by upload exhaustion")
	}
}

func TestGovernorHourWindowRollsOver(t *testing.T) {
	governor, now := newTestGovernor(t, WithQuotaTable(QuotaTable{
		"dropbox": {core.OperationClassAPI: {HourLimit: 1, DayLimit: 100}},
	}))

	if err := governor.RecordRequest(context.Background(), "dropbox", core.OperationClassAPI); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	allowed, _ := governor.CanMakeRequest(context.Background(), "dropbox", core.OperationClassAPI)
	if allowed {
		t.Fatalf("expected hour window exhausted")
	}

	*now = now.Add(61 * time.Minute)
	allowed, err := governor.CanMakeRequest(context.Background(), "dropbox", core.OperationClassAPI)
	if err != nil {
		t.Fatalf("CanMakeRequest after rollover: %v", err)
	}
	if !allowed {
		t.Fatalf("expected hour window to roll over")
	}
}

func TestGovernorBackoffDoublesAndCaps(t *testing.T) {
	governor, now := newTestGovernor(t, WithBackoffBounds(2*time.Second, 8*time.Second))

	delays := make([]time.Duration, 0, 4)
	for i := 0; i < 4; i++ {
		if err := governor.RecordThrottle(context.Background(), "gdrive", core.OperationClassAPI, 0); err != nil {
			t.Fatalf("RecordThrottle: %v", err)
		}
		inBackoff, until, err := governor.IsInBackoff(context.Background(), "gdrive")
		if err != nil {
			t.Fatalf("IsInBackoff: %v", err)
		}
		if !inBackoff || until == nil {
			t.Fatalf("expected backoff window after throttle %d", i+1)
		}
		delays = append(delays, until.Sub(*now))
	}

	expected := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, want := range expected {
		if delays[i] != want {
			t.Fatalf("throttle %d: expected delay %s, got %s", i+1, want, delays[i])
		}
	}
}

func TestGovernorBackoffEscalatesAcrossExpiredWindows(t *testing.T) {
	governor, now := newTestGovernor(t, WithBackoffBounds(2*time.Second, time.Minute))

	if err := governor.RecordThrottle(context.Background(), "gdrive", core.OperationClassAPI, 0); err != nil {
		t.Fatalf("RecordThrottle: %v", err)
	}

	// The provider throttles again after the first window lapses. Attempts
	// only reset on a clean request, so the delay keeps doubling.
	*now = now.Add(3 * time.Second)
	if err := governor.RecordThrottle(context.Background(), "gdrive", core.OperationClassAPI, 0); err != nil {
		t.Fatalf("RecordThrottle: %v", err)
	}
	_, until, err := governor.IsInBackoff(context.Background(), "gdrive")
	if err != nil {
		t.Fatalf("IsInBackoff: %v", err)
	}
	if until == nil || until.Sub(*now) != 4*time.Second {
		t.Fatalf("expected second throttle to double the delay, got %+v", until)
	}
}

func TestGovernorRetryAfterHintOverridesShorterBackoff(t *testing.T) {
	governor, now := newTestGovernor(t, WithBackoffBounds(time.Second, time.Minute))

	if err := governor.RecordThrottle(context.Background(), "dropbox", core.OperationClassUpload, 30*time.Second); err != nil {
		t.Fatalf("RecordThrottle: %v", err)
	}
	_, until, err := governor.IsInBackoff(context.Background(), "dropbox")
	if err != nil {
		t.Fatalf("IsInBackoff: %v", err)
	}
	if until == nil || until.Sub(*now) != 30*time.Second {
		t.Fatalf("expected retry-after hint to set the window, got %+v", until)
	}
}

func TestGovernorBackoffResetsAfterCleanRequest(t *testing.T) {
	governor, now := newTestGovernor(t, WithBackoffBounds(2*time.Second, time.Minute))

	if err := governor.RecordThrottle(context.Background(), "gdrive", core.OperationClassAPI, 0); err != nil {
		t.Fatalf("RecordThrottle: %v", err)
	}
	if err := governor.RecordThrottle(context.Background(), "gdrive", core.OperationClassAPI, 0); err != nil {
		t.Fatalf("RecordThrottle: %v", err)
	}

	*now = now.Add(time.Minute)
	if err := governor.RecordRequest(context.Background(), "gdrive", core.OperationClassAPI); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}

	if err := governor.RecordThrottle(context.Background(), "gdrive", core.OperationClassAPI, 0); err != nil {
		t.Fatalf("RecordThrottle: %v", err)
	}
	_, until, err := governor.IsInBackoff(context.Background(), "gdrive")
	if err != nil {
		t.Fatalf("IsInBackoff: %v", err)
	}
	if until == nil || until.Sub(*now) != 2*time.Second {
		t.Fatalf("expected attempts reset to yield initial delay, got %+v", until)
	}
}

func TestGovernorUsageSnapshot(t *testing.T) {
	governor, _ := newTestGovernor(t)

	if err := governor.RecordRequest(context.Background(), "gdrive", core.OperationClassUpload); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	usage, err := governor.Usage(context.Background(), "gdrive")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if len(usage) != 3 {
		t.Fatalf("expected 3 class buckets, got %d", len(usage))
	}
	var uploadUsage *core.RateUsage
	for i := range usage {
		if usage[i].OperationClass == string(core.OperationClassUpload) {
			uploadUsage = &usage[i]
		}
	}
	if uploadUsage == nil {
		t.Fatalf("expected upload bucket in snapshot")
	}
	if uploadUsage.HourUsed != 1 || uploadUsage.DayUsed != 1 {
		t.Fatalf("expected one recorded request, got %+v", uploadUsage)
	}
	if uploadUsage.HourLimit == 0 || uploadUsage.DayLimit == 0 {
		t.Fatalf("expected default quota limits, got %+v", uploadUsage)
	}
}

func TestGovernorRejectsUnknownClass(t *testing.T) {
	governor, _ := newTestGovernor(t)
	if _, err := governor.CanMakeRequest(context.Background(), "gdrive", core.OperationClass("bogus")); err == nil {
		t.Fatalf("expected unknown operation class to be rejected")
	}
}
