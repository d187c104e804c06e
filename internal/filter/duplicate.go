package filter

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/valvoice/backend/internal/lru"
	"github.com/valvoice/backend/internal/xmpp"
)

// DuplicateGate drops a message whose key was seen among the most recent
// capacity keys.
type DuplicateGate struct {
	seen *lru.Set[string]
}

func NewDuplicateGate(capacity int) *DuplicateGate {
	return &DuplicateGate{
		seen: lru.New[string](capacity),
	}
}

// Key identifies a message for duplicate detection: its stanza id when it
// has one, otherwise a hash of sender and body.
func Key(m xmpp.ParsedMessage) string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return "hash:" + strconv.FormatUint(xxhash.Sum64String(m.From), 16) +
		":" + strconv.FormatUint(xxhash.Sum64String(m.Body), 16)
}

// Check records the message key and reports DropDuplicate if it was
// already present. The lookup and insert are a single atomic step.
func (g *DuplicateGate) Check(m xmpp.ParsedMessage) Verdict {
	if g.seen.ContainsOrAdd(Key(m)) {
		return DropDuplicate
	}
	return Pass
}

func (g *DuplicateGate) Len() int {
	return g.seen.Len()
}
