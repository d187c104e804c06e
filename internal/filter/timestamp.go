package filter

import (
	"fmt"
	"time"
)

// bareLayouts carry no zone and are read as UTC. Layouts with an explicit
// offset are tried first so that the offset always wins.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
	}
	bareLayouts = []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.000",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
	}
)

// ParseStamp parses the delay stamp formats seen on the wire.
func ParseStamp(s string) (time.Time, error) {
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range bareLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// TimestampGate rejects messages stamped before the backend started, less
// a grace period that absorbs small clock differences.
type TimestampGate struct {
	cutoff time.Time
}

func NewTimestampGate(startedAt time.Time, grace time.Duration) *TimestampGate {
	return &TimestampGate{cutoff: startedAt.Add(-grace)}
}

// Cutoff is the earliest stamp that is still considered live.
func (g *TimestampGate) Cutoff() time.Time {
	return g.cutoff
}

// Check decides whether a message with the given stamp is live. An empty
// stamp is live; an unparseable one is treated as history.
func (g *TimestampGate) Check(stamp string) Verdict {
	if stamp == "" {
		return Pass
	}
	t, err := ParseStamp(stamp)
	if err != nil {
		return DropUnparseableStamp
	}
	if t.Before(g.cutoff) {
		return DropHistorical
	}
	return Pass
}
