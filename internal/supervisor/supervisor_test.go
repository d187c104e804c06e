//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/valvoice/backend/internal/config"
	"github.com/valvoice/backend/internal/events"
	"github.com/valvoice/backend/internal/stream"
)

const fakeName = "fake-mitm"

type statusLog struct {
	mu       sync.Mutex
	statuses []string
}

func (l *statusLog) observer() *events.Funcs {
	return &events.Funcs{OnStatus: func(component, status string, _ bool) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.statuses = append(l.statuses, component+"="+status)
	}}
}

func (l *statusLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.statuses...)
}

type eventLog struct {
	mu    sync.Mutex
	types []string
}

func (l *eventLog) HandleEvent(e stream.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, e.Type)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.types...)
}

func testConfig() config.InterceptorConfig {
	cfg := config.Default().Interceptor
	cfg.Executable = fakeName
	cfg.ValidationWindow = 300 * time.Millisecond
	cfg.ValidationPoll = 20 * time.Millisecond
	cfg.GracefulStop = time.Second
	cfg.ForcefulStop = time.Second
	cfg.DrainTimeout = time.Second
	cfg.KillByName = false
	return cfg
}

// writeScript installs a fake interceptor under dir/sub.
func writeScript(t *testing.T, dir, sub, body string) {
	t.Helper()
	target := filepath.Join(dir, sub)
	require.NoError(t, os.MkdirAll(target, 0o755))
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(target, fakeName), []byte(script), 0o755))
}

func newSupervisor(t *testing.T, dir string, cfg config.InterceptorConfig) (*Supervisor, *statusLog, *eventLog) {
	t.Helper()
	statuses, evs := &statusLog{}, &eventLog{}
	s := New(cfg, dir, evs, statuses.observer(), zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Stop() })
	return s, statuses, evs
}

func TestStartMissingExecutable(t *testing.T) {
	dir := t.TempDir()
	s, statuses, _ := newSupervisor(t, dir, testConfig())

	err := s.Start(context.Background())

	var nf *ExecutableNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, fakeName, nf.Name)
	assert.Len(t, nf.Searched, 2)
	assert.Contains(t, statuses.all(), "xmpp=MITM exe missing")
	assert.Nil(t, s.Done(), "no process is spawned")

	cause, _ := FatalCause(err)
	assert.Equal(t, events.CauseInternal, cause)
}

func TestLocatePrefersWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "mitm", "exit 0")
	s, _, _ := newSupervisor(t, dir, testConfig())

	path, err := s.Locate()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mitm", fakeName), path)

	writeScript(t, dir, ".", "exit 0")
	path, err = s.Locate()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, fakeName), path)
}

func TestStartFatalCodeWithinWindow(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, ".", `echo '{"type":"error","code":409,"reason":"Riot client is running"}'
sleep 30`)
	s, statuses, _ := newSupervisor(t, dir, testConfig())

	err := s.Start(context.Background())

	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, events.CausePeerRunning, se.Cause)
	assert.Equal(t, 409, se.Code)
	assert.Equal(t, "Riot client is running", se.Reason)
	assert.Contains(t, statuses.all(), "xmpp=Start failed")
	assert.NotContains(t, statuses.all(), "xmpp=Active")

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subprocess was not killed")
	}
}

func TestStartFatalCodeThenImmediateExit(t *testing.T) {
	for _, tc := range []struct {
		code  int
		cause events.FatalCause
	}{
		{409, events.CausePeerRunning},
		{404, events.CauseTargetNotFound},
		{500, events.CauseInternal},
	} {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			// The exit races the reader; repeat to catch the exit winning.
			for i := 0; i < 10; i++ {
				dir := t.TempDir()
				writeScript(t, dir, ".", fmt.Sprintf(`echo '{"type":"error","code":%d,"reason":"startup refused"}'
exit 1`, tc.code))
				s, _, _ := newSupervisor(t, dir, testConfig())

				err := s.Start(context.Background())

				var se *StartupError
				require.ErrorAs(t, err, &se)
				require.Equal(t, tc.cause, se.Cause, "attempt %d: %v", i, err)
				require.Equal(t, tc.code, se.Code)
				require.Equal(t, "startup refused", se.Reason)
			}
		})
	}
}

func TestStartAfterFailureReturnsFirstError(t *testing.T) {
	dir := t.TempDir()
	s, _, _ := newSupervisor(t, dir, testConfig())

	first := s.Start(context.Background())
	require.Error(t, first)

	writeScript(t, dir, ".", "sleep 30")
	second := s.Start(context.Background())

	assert.ErrorIs(t, second, ErrStartFailed)
	var nf *ExecutableNotFoundError
	assert.ErrorAs(t, second, &nf, "first error is kept")
	assert.False(t, s.Running())
	assert.Nil(t, s.Done(), "no retry is attempted")
}

func TestStartAfterValidationFailureReturnsFirstError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, ".", `echo '{"type":"error","code":409,"reason":"Riot client is running"}'
sleep 30`)
	s, _, _ := newSupervisor(t, dir, testConfig())

	require.Error(t, s.Start(context.Background()))

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrStartFailed)
	cause, _ := FatalCause(err)
	assert.Equal(t, events.CausePeerRunning, cause)
}

func TestStartEarlyExit(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, ".", "exit 3")
	s, _, _ := newSupervisor(t, dir, testConfig())

	err := s.Start(context.Background())

	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, events.CauseInternal, se.Cause)
	assert.Contains(t, se.Reason, "code 3")
}

func TestNonFatalErrorDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, ".", `echo '{"type":"error","code":104,"reason":"ECONNRESET"}'
sleep 30`)
	s, _, evs := newSupervisor(t, dir, testConfig())

	require.NoError(t, s.Start(context.Background()))
	assert.Contains(t, evs.all(), "error")
}

func TestStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, ".", `echo '{"type":"open-riot","socketID":1}'
echo 'plain diagnostics' >&2
echo '{"type":"incoming","data":"<presence/>"}'
sleep 30`)
	s, statuses, evs := newSupervisor(t, dir, testConfig())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second start is a no-op")
	assert.True(t, s.Running())

	assert.Eventually(t, func() bool { return len(evs.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"open-riot", "incoming"}, evs.all())
	assert.Contains(t, statuses.all(), "xmpp=Starting...")
	assert.Contains(t, statuses.all(), "bridge=external-exe")
	assert.Contains(t, statuses.all(), "xmpp=Active")

	start := time.Now()
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Less(t, time.Since(start), 3*time.Second)

	select {
	case <-s.Done():
	default:
		t.Fatal("process still running after Stop")
	}
	assert.False(t, s.Running())
	assert.ErrorIs(t, s.Start(context.Background()), ErrStopped)
}

func TestStopForceKillsStubbornProcess(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, ".", `trap '' TERM
while true; do sleep 0.1; done`)
	cfg := testConfig()
	cfg.GracefulStop = 200 * time.Millisecond
	s, _, _ := newSupervisor(t, dir, cfg)

	require.NoError(t, s.Start(context.Background()))

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.Less(t, time.Since(start), cfg.GracefulStop+cfg.ForcefulStop+cfg.DrainTimeout+time.Second)

	_, err := s.ExitCode()
	assert.NoError(t, err)
}

func TestExitAfterValidationIsReported(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, ".", "sleep 0.6\nexit 7")
	s, statuses, _ := newSupervisor(t, dir, testConfig())

	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Eventually(t, func() bool {
		for _, st := range statuses.all() {
			if st == fmt.Sprintf("xmpp=Exited(%d)", 7) {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	code, err := s.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.False(t, s.Running())
}

func TestWarmupHonoursContext(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, ".", "sleep 30")
	cfg := testConfig()
	cfg.Warmup = time.Minute
	s, _, _ := newSupervisor(t, dir, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Start(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Nil(t, s.Done())
}

func TestExitCodeBeforeStart(t *testing.T) {
	s, _, _ := newSupervisor(t, t.TempDir(), testConfig())
	_, err := s.ExitCode()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, s.Stop())
}

func TestMatchesName(t *testing.T) {
	assert.True(t, matchesName("valvoice-mitm.exe", "valvoice-mitm.exe"))
	assert.True(t, matchesName("VALVOICE-MITM.EXE", "valvoice-mitm.exe"))
	assert.True(t, matchesName("valvoice-mitm.e", "valvoice-mitm.exe"), "truncated comm")
	assert.False(t, matchesName("valvoice", "valvoice-mitm.exe"))
	assert.False(t, matchesName("", "valvoice-mitm.exe"))
}

func TestStartupErrorUnwrap(t *testing.T) {
	inner := errors.New("exec format error")
	err := &StartupError{Cause: events.CauseInternal, Reason: inner.Error(), Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "internal")
}
