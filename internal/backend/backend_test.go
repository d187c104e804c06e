package backend

import (
	"bufio"
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/valvoice/backend/internal/config"
	"github.com/valvoice/backend/internal/events"
	"github.com/valvoice/backend/internal/mock"
	"github.com/valvoice/backend/internal/narration"
	"github.com/valvoice/backend/internal/presence"
	"github.com/valvoice/backend/internal/session"
	"github.com/valvoice/backend/internal/stream"
)

var startedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu   sync.Mutex
	msgs []narration.Message
}

func (s *recordingSink) Narrate(_ context.Context, m narration.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Text
	}
	return out
}

func newTestBackend(t *testing.T, sink narration.Sink, consumer presence.Consumer) *Backend {
	t.Helper()
	cfg := config.Default()
	cfg.Interceptor.Executable = "valvoice-test-missing"
	return New(Options{
		Config:    cfg,
		WorkDir:   t.TempDir(),
		Sink:      sink,
		GameState: consumer,
		Logger:    zaptest.NewLogger(t),
		Now:       func() time.Time { return startedAt },
	})
}

// replay feeds the mock interceptor's scripted session through b.
func replay(t *testing.T, b *Backend) {
	t.Helper()
	var buf bytes.Buffer
	gen := mock.NewGenerator(&buf, mock.Options{Now: func() time.Time { return startedAt.Add(time.Minute) }})
	require.NoError(t, gen.Run(context.Background()))

	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		e, err := stream.ParseLine(sc.Bytes())
		if err != nil {
			continue
		}
		b.HandleEvent(e)
	}
	require.NoError(t, sc.Err())
}

func TestScriptedSessionEndToEnd(t *testing.T) {
	sink := &recordingSink{}
	var states []session.GameState
	b := newTestBackend(t, sink, presence.ConsumerFunc(func(s session.GameState) {
		states = append(states, s)
	}))

	var identity string
	b.Dispatcher().Register(&events.Funcs{OnIdentity: func(id string) { identity = id }})

	replay(t, b)

	assert.Equal(t, mock.DefaultSelfID, identity)
	assert.Equal(t, []string{
		"Jett says: queue up?",
		"ready",
		"Sage says: I'll play sage",
		"Omen says: smoking B main",
	}, sink.texts())

	assert.Equal(t, []session.GameState{
		session.Menus, session.Pregame, session.Ingame, session.Menus,
	}, states)
	assert.Equal(t, session.Menus, b.Session().GameState.Get())
	assert.Equal(t, 3, b.Session().Roster.Len())

	c := b.Counters()
	assert.EqualValues(t, 8, c.Messages)
	assert.EqualValues(t, 1, c.Historical)
	assert.EqualValues(t, 1, c.Duplicate)
	assert.EqualValues(t, 6, c.Passed)
	assert.EqualValues(t, 1, c.Archive)
	assert.EqualValues(t, 1, c.Roster)
	assert.EqualValues(t, 4, c.Presence)
	assert.Zero(t, c.Panics)

	nc := b.Narrator().Counters()
	assert.EqualValues(t, 6, nc.Total)
	assert.EqualValues(t, 4, nc.Narrated)
	assert.EqualValues(t, 1, nc.TotalPerChannel[narration.ChannelAll])
	assert.EqualValues(t, 1, nc.TotalPerChannel[narration.ChannelWhisper])
}

func TestApplyConfigChangesPolicyLive(t *testing.T) {
	sink := &recordingSink{}
	b := newTestBackend(t, sink, nil)

	cfg := config.Default()
	cfg.Narration.Sources = "ALL"
	cfg.Narration.Whispers = true
	b.ApplyConfig(cfg)

	replay(t, b)

	texts := sink.texts()
	assert.Contains(t, texts, "gl hf")
	assert.Contains(t, texts, "psst")
	assert.NotContains(t, texts, "Jett says: queue up?")
}

func TestApplyConfigWithoutChangesKeepsPolicy(t *testing.T) {
	b := newTestBackend(t, &recordingSink{}, nil)
	b.ApplyConfig(config.Default())
	assert.Equal(t, "SELF+PARTY+TEAM", b.policy.Sources().String())
}

func TestHandleEventRecoversFromPanic(t *testing.T) {
	sink := narration.SinkFunc(func(context.Context, narration.Message) error {
		panic("sink exploded")
	})
	b := newTestBackend(t, sink, nil)

	assert.NotPanics(t, func() { replay(t, b) })
	assert.Positive(t, b.Counters().Panics)
	assert.Equal(t, 3, b.Session().Roster.Len())
}

func TestHandleEventIgnoresNonDataRecords(t *testing.T) {
	b := newTestBackend(t, &recordingSink{}, nil)

	for _, line := range []string{
		`{"type":"open-valorant","socketID":3,"host":"127.0.0.1","port":5223}`,
		`{"type":"close-valorant","socketID":3}`,
		`{"type":"error","code":104,"reason":"ECONNRESET"}`,
		`{"type":"error","code":409,"reason":"Riot Client is running"}`,
		`{"type":"incoming","socketID":3}`,
		`{"type":"heartbeat"}`,
	} {
		e, err := stream.ParseLine([]byte(line))
		require.NoError(t, err)
		b.HandleEvent(e)
	}

	assert.Zero(t, b.Counters().Fragments)
	assert.Zero(t, b.Counters().Panics)
}

func TestStartReportsFatalOnce(t *testing.T) {
	b := newTestBackend(t, &recordingSink{}, nil)

	var mu sync.Mutex
	var causes []events.FatalCause
	var statuses []string
	b.Dispatcher().Register(&events.Funcs{
		OnFatal: func(cause events.FatalCause, _ string) {
			mu.Lock()
			defer mu.Unlock()
			causes = append(causes, cause)
		},
		OnStatus: func(component, status string, _ bool) {
			mu.Lock()
			defer mu.Unlock()
			statuses = append(statuses, component+"="+status)
		},
	})

	err := b.Start(context.Background())
	require.Error(t, err)
	require.NoError(t, b.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.FatalCause{events.CauseInternal}, causes)
	assert.Contains(t, statuses, "xmpp=MITM exe missing")
}

func TestStartCancelledDuringWarmupIsNotFatal(t *testing.T) {
	cfg := config.Default()
	cfg.Interceptor.Warmup = time.Minute
	b := New(Options{Config: cfg, WorkDir: t.TempDir(), Logger: zaptest.NewLogger(t)})

	fatal := false
	b.Dispatcher().Register(&events.Funcs{OnFatal: func(events.FatalCause, string) { fatal = true }})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, b.Start(ctx))
	assert.False(t, fatal)
	assert.NoError(t, b.Stop())
}
