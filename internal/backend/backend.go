// Package backend wires the ingestion pipeline together: it owns the
// interceptor supervisor and routes every event it reads to the identity
// extractor, the presence interpreter or the message filter chain, and
// hands surviving chat messages to the narrator.
package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/valvoice/backend/internal/config"
	"github.com/valvoice/backend/internal/events"
	"github.com/valvoice/backend/internal/filter"
	"github.com/valvoice/backend/internal/identity"
	"github.com/valvoice/backend/internal/narration"
	"github.com/valvoice/backend/internal/presence"
	"github.com/valvoice/backend/internal/session"
	"github.com/valvoice/backend/internal/stream"
	"github.com/valvoice/backend/internal/supervisor"
	"github.com/valvoice/backend/internal/xmpp"
)

type Options struct {
	Config  *config.Config
	WorkDir string
	// Sink receives narrated messages; defaults to a LogSink.
	Sink narration.Sink
	// GameState is told about every presence update; may be nil.
	GameState presence.Consumer
	Logger    *zap.Logger
	// Now fixes the session start marker; defaults to time.Now.
	Now func() time.Time
}

// PipelineCounters counts how incoming fragments were routed.
type PipelineCounters struct {
	Fragments   int64 `json:"fragments"`
	Presence    int64 `json:"presence"`
	Roster      int64 `json:"roster"`
	Archive     int64 `json:"archive"`
	NonChat     int64 `json:"nonChat"`
	Messages    int64 `json:"messages"`
	Historical  int64 `json:"historical"`
	Unparseable int64 `json:"unparseable"`
	Duplicate   int64 `json:"duplicate"`
	Passed      int64 `json:"passed"`
	Panics      int64 `json:"panics"`
}

type pipelineCounters struct {
	fragments, presence, roster, archive, nonChat, messages atomic.Int64
	historical, unparseable, duplicate, passed, panics      atomic.Int64
}

type Backend struct {
	cfg        *config.Config
	sess       *session.Session
	dispatcher *events.Dispatcher
	extractor  *identity.Extractor
	presence   *presence.Interpreter
	chain      *filter.Chain
	policy     *narration.Policy
	narrator   *narration.Narrator
	supervisor *supervisor.Supervisor
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	applyMu sync.Mutex
	applied *config.Config

	counters pipelineCounters
}

func New(opts Options) *Backend {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := opts.Sink
	if sink == nil {
		sink = narration.LogSink{Logger: logger.Named("narration")}
	}

	cfg := opts.Config
	sess := session.New(now())
	dispatcher := events.NewDispatcher(logger.Named("events"))
	policy := narration.NewPolicy(cfg.Narration)

	ctx, cancel := context.WithCancel(context.Background())
	b := &Backend{
		cfg:        cfg,
		applied:    cfg,
		sess:       sess,
		dispatcher: dispatcher,
		extractor:  identity.NewExtractor(sess.Identity, dispatcher, logger.Named("identity")),
		presence:   presence.NewInterpreter(sess.GameState, opts.GameState, logger.Named("presence")),
		chain:      filter.NewChain(sess.StartedAt, cfg.Filter.GracePeriod, cfg.Filter.DuplicateCacheSize, logger.Named("filter")),
		policy:     policy,
		narrator:   narration.NewNarrator(policy, sess, sink, dispatcher, logger.Named("narration")),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	b.supervisor = supervisor.New(cfg.Interceptor, opts.WorkDir, b, dispatcher, logger.Named("supervisor"))
	return b
}

func (b *Backend) Session() *session.Session { return b.sess }
func (b *Backend) Dispatcher() *events.Dispatcher { return b.dispatcher }
func (b *Backend) Narrator() *narration.Narrator { return b.narrator }
func (b *Backend) Supervisor() *supervisor.Supervisor { return b.supervisor }

// Start launches and validates the interceptor. A startup failure is also
// sent to observers as the single Fatal notification.
func (b *Backend) Start(ctx context.Context) error {
	b.logger.Info("starting backend",
		zap.Time("startedAt", b.sess.StartedAt),
		zap.Duration("grace", b.cfg.Filter.GracePeriod),
		zap.String("sources", b.policy.Sources().String()))

	err := b.supervisor.Start(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	cause, reason := supervisor.FatalCause(err)
	b.logger.Error("backend failed to start", zap.String("cause", string(cause)), zap.Error(err))
	b.dispatcher.Fatal(cause, reason)
	return err
}

// Stop tears down the interceptor. Safe to call more than once.
func (b *Backend) Stop() error {
	err := b.supervisor.Stop()
	b.cancel()
	return err
}

// Done is closed when the interceptor process exits.
func (b *Backend) Done() <-chan struct{} {
	return b.supervisor.Done()
}

// ApplyConfig applies the parts of cfg that can change while running.
// Only the narration section is live; other sections need a restart.
func (b *Backend) ApplyConfig(cfg *config.Config) {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	changes := config.Diff(b.applied, cfg)
	if len(changes) == 0 {
		b.logger.Debug("config reloaded without narration changes")
		return
	}
	for _, change := range changes {
		b.logger.Info("config changed", zap.String("change", change))
	}
	b.policy.Apply(cfg.Narration)
	b.applied = cfg
}

func (b *Backend) Counters() PipelineCounters {
	c := &b.counters
	return PipelineCounters{
		Fragments:   c.fragments.Load(),
		Presence:    c.presence.Load(),
		Roster:      c.roster.Load(),
		Archive:     c.archive.Load(),
		NonChat:     c.nonChat.Load(),
		Messages:    c.messages.Load(),
		Historical:  c.historical.Load(),
		Unparseable: c.unparseable.Load(),
		Duplicate:   c.duplicate.Load(),
		Passed:      c.passed.Load(),
		Panics:      c.panics.Load(),
	}
}

// HandleEvent routes one interceptor record. It runs on the reader
// goroutine; a panic while handling a record drops only that record.
func (b *Backend) HandleEvent(e stream.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.counters.panics.Add(1)
			b.logger.Error("panic while handling event",
				zap.String("type", e.Type),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"))
		}
	}()

	switch {
	case e.Type == stream.TypeIncoming:
		b.handleIncoming(e.Data())
	case e.Type == stream.TypeOutgoing:
		b.extractor.Handle(e.Data())
	case e.Type == stream.TypeError:
		if b.cfg.Interceptor.IsFatalCode(e.Code()) {
			return
		}
		b.logger.Warn("interceptor error",
			zap.Int("code", e.Code()),
			zap.String("reason", e.Reason()),
			zap.Int("socketID", e.SocketID()))
	case e.IsOpen():
		b.logger.Info("connection opened",
			zap.String("peer", e.Peer()),
			zap.Int("socketID", e.SocketID()),
			zap.String("host", e.Host()),
			zap.Int("port", e.Port()))
	case e.IsClose():
		b.logger.Info("connection closed",
			zap.String("peer", e.Peer()),
			zap.Int("socketID", e.SocketID()))
	default:
		b.logger.Debug("unhandled event", zap.String("type", e.Type))
	}
}

func (b *Backend) handleIncoming(fragment string) {
	if fragment == "" {
		return
	}
	b.counters.fragments.Add(1)

	switch kind := xmpp.Classify(fragment); kind {
	case xmpp.KindPresence:
		b.counters.presence.Add(1)
		b.presence.Handle(fragment)

	case xmpp.KindRoster:
		b.counters.roster.Add(1)
		items := xmpp.ParseRoster(fragment)
		for _, it := range items {
			b.sess.Roster.Put(it.ID, it.Name)
		}
		b.logger.Debug("roster updated", zap.Int("items", len(items)), zap.Int("total", b.sess.Roster.Len()))

	case xmpp.KindArchive:
		b.counters.archive.Add(1)
		b.logger.Debug("archive fragment dropped")

	case xmpp.KindNonChat:
		b.counters.nonChat.Add(1)

	case xmpp.KindMessages:
		b.handleMessages(fragment)
	}
}

func (b *Backend) handleMessages(fragment string) {
	msgs, err := xmpp.ParseMessages(fragment)
	if err != nil {
		b.logger.Debug("message fragment dropped", zap.Error(err), zap.Int("len", len(fragment)))
		return
	}

	for _, m := range msgs {
		if !m.HasBody() {
			continue
		}
		b.counters.messages.Add(1)

		switch b.chain.Check(m) {
		case filter.Pass:
			b.counters.passed.Add(1)
			b.narrator.Handle(b.ctx, m)
		case filter.DropHistorical:
			b.counters.historical.Add(1)
		case filter.DropUnparseableStamp:
			b.counters.unparseable.Add(1)
		case filter.DropDuplicate:
			b.counters.duplicate.Add(1)
		}
	}
}
