// Package domain contains core business types and interfaces.
//
// This file defines quota types for metering free-tier feature use per day.
package domain

import "time"

// DefaultFreeDailyLimit is the number of metered actions a free user may
// perform per calendar day.
const DefaultFreeDailyLimit = 5

// DateLayout is the layout of DailyUsageDate.
const DateLayout = "2006-01-02"

// DenyReason explains why a metered action was refused.
type DenyReason string

const (
	DenyLimitReached DenyReason = "limit_reached"
)

// UsageDecision is the result of a quota check.
type UsageDecision struct {
	Allowed bool
	Reason  DenyReason // empty when Allowed
	Used    int        // effective usage for today after the decision
	Limit   int        // 0 when unlimited
}

// Allowed builds an allowing decision.
func Allowed(used, limit int) UsageDecision {
	return UsageDecision{Allowed: true, Used: used, Limit: limit}
}

// Denied builds a refusing decision.
func Denied(reason DenyReason, used, limit int) UsageDecision {
	return UsageDecision{Reason: reason, Used: used, Limit: limit}
}

// QuotaUsage represents current usage against the daily limit.
type QuotaUsage struct {
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
	Date      string `json:"date"`
}

// Clock supplies the current time. Tests substitute a fixed clock so day
// rollover does not depend on the wall clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// DayKey formats t as a calendar date in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}
