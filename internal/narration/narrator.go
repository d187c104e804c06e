package narration

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/valvoice/backend/internal/events"
	"github.com/valvoice/backend/internal/logging"
	"github.com/valvoice/backend/internal/session"
	"github.com/valvoice/backend/internal/xmpp"
)

// Counters is a snapshot of narration statistics.
type Counters struct {
	Total              int64             `json:"total"`
	Narrated           int64             `json:"narrated"`
	NarratedCharacters int64             `json:"narratedCharacters"`
	TotalPerChannel    map[Channel]int64 `json:"totalPerChannel"`
	NarratedPerChannel map[Channel]int64 `json:"narratedPerChannel"`
	// SinkFailures counts messages the policy allowed but the sink rejected.
	// They are not part of Narrated.
	SinkFailures int64 `json:"sinkFailures"`
}

// Narrator is the end of the ingestion pipeline. Handle is called from the
// stream reader goroutine, so sinks see messages in arrival order.
type Narrator struct {
	policy   *Policy
	sess     *session.Session
	sink     Sink
	observer events.Observer
	logger   *zap.Logger

	mu           sync.Mutex
	counters     Counters
	baseMessages int64
	baseChars    int64
}

func NewNarrator(policy *Policy, sess *session.Session, sink Sink, observer events.Observer, logger *zap.Logger) *Narrator {
	return &Narrator{
		policy:   policy,
		sess:     sess,
		sink:     sink,
		observer: observer,
		logger:   logger,
		counters: Counters{
			TotalPerChannel:    make(map[Channel]int64),
			NarratedPerChannel: make(map[Channel]int64),
		},
	}
}

// Seed continues the narrated totals from a previous run. It only affects
// the values reported through StatsUpdated.
func (n *Narrator) Seed(messages, characters int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.baseMessages = messages
	n.baseChars = characters
}

// Handle classifies p, applies the policy and narrates it if allowed. It
// reports whether the sink accepted the message.
func (n *Narrator) Handle(ctx context.Context, p xmpp.ParsedMessage) bool {
	selfID, _ := n.sess.Identity.Get()
	m := NewMessage(p, selfID)

	if name, ok := n.sess.Roster.Name(m.SenderID); ok {
		m.SenderName = name
		m.Text = name + " says: " + m.Content
	}

	n.mu.Lock()
	n.counters.Total++
	if m.Channel != ChannelUnknown {
		n.counters.TotalPerChannel[m.Channel]++
	}
	n.mu.Unlock()

	ok, reason := n.policy.Decide(m, n.sess.GameState.Get())
	if !ok {
		n.logger.Debug("message not narrated",
			zap.String("reason", reason),
			zap.String("channel", string(m.Channel)),
			zap.String("sender", m.SenderID),
			zap.Bool("own", m.Own))
		return false
	}

	n.logger.Info("narrating",
		zap.String("channel", string(m.Channel)),
		zap.String("sender", m.SenderID),
		zap.String("text", logging.Truncate(m.Text, 60)))

	if err := n.sink.Narrate(ctx, m); err != nil {
		n.mu.Lock()
		n.counters.SinkFailures++
		n.mu.Unlock()
		n.logger.Warn("narration sink failed", zap.String("channel", string(m.Channel)), zap.Error(err))
		return false
	}

	n.mu.Lock()
	n.counters.Narrated++
	n.counters.NarratedPerChannel[m.Channel]++
	n.counters.NarratedCharacters += int64(len([]rune(m.Content)))
	messages := n.baseMessages + n.counters.Narrated
	chars := n.baseChars + n.counters.NarratedCharacters
	n.mu.Unlock()

	n.observer.StatsUpdated(messages, chars)
	return true
}

// Counters returns a copy of this run's counters.
func (n *Narrator) Counters() Counters {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := n.counters
	c.TotalPerChannel = make(map[Channel]int64, len(n.counters.TotalPerChannel))
	for k, v := range n.counters.TotalPerChannel {
		c.TotalPerChannel[k] = v
	}
	c.NarratedPerChannel = make(map[Channel]int64, len(n.counters.NarratedPerChannel))
	for k, v := range n.counters.NarratedPerChannel {
		c.NarratedPerChannel[k] = v
	}
	return c
}
