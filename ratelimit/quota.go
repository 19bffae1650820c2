package ratelimit

import (
	"strings"

	"github.com/gallerio/go-storage/core"
)

// Quota bounds one (provider, operation class) bucket over rolling hour and
// day windows. A zero limit means unbounded.
type Quota struct {
	HourLimit int
	DayLimit  int
}

// QuotaTable maps provider id to per-class quotas. Classes are accounted
// separately so background sync polling cannot starve user uploads.
type QuotaTable map[string]map[core.OperationClass]Quota

// DefaultQuotaTable reserves conservative shares of each provider's
// published per-app ceilings.
func DefaultQuotaTable() QuotaTable {
	return QuotaTable{
		"gdrive": {
			core.OperationClassUpload: {HourLimit: 3_000, DayLimit: 40_000},
			core.OperationClassSync:   {HourLimit: 1_000, DayLimit: 15_000},
			core.OperationClassAPI:    {HourLimit: 2_000, DayLimit: 30_000},
		},
		"dropbox": {
			core.OperationClassUpload: {HourLimit: 2_000, DayLimit: 25_000},
			core.OperationClassSync:   {HourLimit: 800, DayLimit: 10_000},
			core.OperationClassAPI:    {HourLimit: 1_500, DayLimit: 20_000},
		},
	}
}

// Lookup resolves the quota for a bucket; unknown providers and classes get
// a conservative fallback.
func (t QuotaTable) Lookup(provider string, class core.OperationClass) Quota {
	fallback := Quota{HourLimit: 500, DayLimit: 5_000}
	classes, ok := t[strings.TrimSpace(provider)]
	if !ok {
		return fallback
	}
	quota, ok := classes[class]
	if !ok {
		return fallback
	}
	return quota
}
