// Package filter decides which parsed chat messages are live and new.
package filter

import (
	"time"

	"go.uber.org/zap"

	"github.com/valvoice/backend/internal/logging"
	"github.com/valvoice/backend/internal/xmpp"
)

type Verdict int

const (
	Pass Verdict = iota
	DropHistorical
	DropUnparseableStamp
	DropDuplicate
)

var verdictNames = map[Verdict]string{
	Pass:                 "pass",
	DropHistorical:       "historical",
	DropUnparseableStamp: "unparseable_stamp",
	DropDuplicate:        "duplicate",
}

func (v Verdict) String() string {
	if s, ok := verdictNames[v]; ok {
		return s
	}
	return "unknown"
}

// Chain runs the timestamp gate and then the duplicate gate. A message
// dropped as historical is never recorded as seen.
type Chain struct {
	timestamps *TimestampGate
	duplicates *DuplicateGate
	logger     *zap.Logger
}

func NewChain(startedAt time.Time, grace time.Duration, cacheSize int, logger *zap.Logger) *Chain {
	return &Chain{
		timestamps: NewTimestampGate(startedAt, grace),
		duplicates: NewDuplicateGate(cacheSize),
		logger:     logger,
	}
}

func (c *Chain) Check(m xmpp.ParsedMessage) Verdict {
	v := c.timestamps.Check(m.Stamp)
	if v == Pass {
		v = c.duplicates.Check(m)
	}
	if v != Pass {
		c.logger.Debug("message dropped",
			zap.Stringer("reason", v),
			zap.String("id", m.ID),
			zap.String("stamp", m.Stamp),
			zap.String("body", logging.Truncate(m.Body, 40)))
	}
	return v
}
