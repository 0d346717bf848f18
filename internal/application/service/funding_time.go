package service

import (
	"strings"
	"time"

	"fundarb/internal/application/port"
)

// DefaultFundingInterval 默认 8 小时结算一次
const DefaultFundingInterval = 8 * time.Hour

// FundingTimeSource records which step of the fallback chain produced the instant.
type FundingTimeSource string

const (
	FundingFromInstant  FundingTimeSource = "instant"
	FundingFromText     FundingTimeSource = "text"
	FundingFromFallback FundingTimeSource = "fallback"
)

var fundingTextLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ResolveNextFunding: structured instant -> ISO text -> now + 8h.
func ResolveNextFunding(ft port.FundingTime, now time.Time) (time.Time, FundingTimeSource) {
	switch ft.Kind {
	case port.FundingTimeInstant:
		if !ft.Instant.IsZero() {
			return ft.Instant.UTC(), FundingFromInstant
		}
	case port.FundingTimeText:
		if t, ok := parseFundingText(ft.Text); ok {
			return t, FundingFromText
		}
	}
	return now.UTC().Add(DefaultFundingInterval), FundingFromFallback
}

func parseFundingText(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range fundingTextLayouts {
		// layouts without a zone are read as UTC
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
