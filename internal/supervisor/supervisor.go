// Package supervisor owns the interception subprocess: it locates and
// launches the executable, validates that it came up, feeds its output to
// the stream reader and tears it down within a bounded time.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valvoice/backend/internal/config"
	"github.com/valvoice/backend/internal/events"
	"github.com/valvoice/backend/internal/procattr"
	"github.com/valvoice/backend/internal/stream"
)

const (
	componentXMPP   = "xmpp"
	componentBridge = "bridge"
)

type Supervisor struct {
	cfg      config.InterceptorConfig
	workDir  string
	handler  stream.Handler
	observer events.Observer
	logger   *zap.Logger

	mu       sync.Mutex
	started  bool
	startErr error
	cmd      *exec.Cmd
	pipe     *os.File
	reader   *stream.Reader
	group    *errgroup.Group
	exited   chan struct{}
	readDone chan struct{}
	exitCode int
	running  bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Supervisor. Candidate directories are resolved against
// workDir; handler receives every event on the reader goroutine.
func New(cfg config.InterceptorConfig, workDir string, handler stream.Handler, observer events.Observer, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		workDir:  workDir,
		handler:  handler,
		observer: observer,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Locate returns the first candidate path holding the executable.
func (s *Supervisor) Locate() (string, error) {
	var searched []string
	for _, dir := range s.cfg.SearchDirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(s.workDir, dir)
		}
		candidate := filepath.Join(dir, s.cfg.Executable)
		searched = append(searched, candidate)

		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			if abs, err := filepath.Abs(candidate); err == nil {
				return abs, nil
			}
			return candidate, nil
		}
	}
	return "", &ExecutableNotFoundError{Name: s.cfg.Executable, Searched: searched}
}

// Start launches the interceptor and blocks for the validation window.
// Errors are fatal and never retried: once Start has failed, later calls
// return ErrStartFailed wrapping the first error. A call after a successful
// start is a no-op.
func (s *Supervisor) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.stopping() {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		first := s.startErr
		s.mu.Unlock()
		if first != nil {
			return fmt.Errorf("%w: %w", ErrStartFailed, first)
		}
		return nil
	}
	s.started = true
	s.mu.Unlock()

	defer func() {
		if err != nil {
			s.mu.Lock()
			s.startErr = err
			s.mu.Unlock()
		}
	}()

	s.observer.StatusChanged(componentXMPP, "Starting...", true)

	if s.cfg.Warmup > 0 {
		s.logger.Info("waiting before interceptor launch", zap.Duration("warmup", s.cfg.Warmup))
		select {
		case <-time.After(s.cfg.Warmup):
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return ErrStopped
		}
	}

	path, err := s.Locate()
	if err != nil {
		s.logger.Error("interceptor executable missing", zap.Error(err))
		s.observer.StatusChanged(componentXMPP, "MITM exe missing", false)
		return err
	}

	if err := s.launch(path); err != nil {
		s.logger.Error("interceptor launch failed", zap.String("path", path), zap.Error(err))
		s.observer.StatusChanged(componentXMPP, "Start failed", false)
		return &StartupError{Cause: events.CauseInternal, Reason: err.Error(), Err: err}
	}
	s.observer.StatusChanged(componentBridge, "external-exe", true)
	s.logger.Info("interceptor started", zap.String("path", path), zap.Int("pid", s.cmd.Process.Pid))

	if err := s.validate(ctx); err != nil {
		if !errors.Is(err, ErrStopped) {
			s.observer.StatusChanged(componentXMPP, "Start failed", false)
		}
		return err
	}

	s.logger.Info("interceptor validated")
	s.observer.StatusChanged(componentXMPP, "Active", true)
	s.observer.StatusChanged(componentBridge, "external-exe", true)
	return nil
}

func (s *Supervisor) launch(path string) error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create pipe: %w", err)
	}

	cmd := exec.Command(path)
	cmd.Dir = s.workDir
	cmd.Stdout = pw
	cmd.Stderr = pw
	procattr.Set(cmd)

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return err
	}
	// The child holds its own copy; EOF arrives once every writer is gone.
	pw.Close()

	reader := stream.NewReader(s.cfg.IsFatalCode, s.handler, s.logger.Named("stream"))
	exited := make(chan struct{})
	readDone := make(chan struct{})
	group := new(errgroup.Group)

	s.mu.Lock()
	s.cmd = cmd
	s.pipe = pr
	s.reader = reader
	s.group = group
	s.exited = exited
	s.readDone = readDone
	s.mu.Unlock()

	group.Go(func() error {
		defer close(readDone)
		defer pr.Close()
		err := reader.Run(pr)
		s.logger.Debug("interceptor output drained", zap.Int64("lines", reader.Lines()), zap.Int64("oversized", reader.Oversized()))
		return err
	})
	group.Go(func() error {
		_ = cmd.Wait()
		code := cmd.ProcessState.ExitCode()

		s.mu.Lock()
		s.exitCode = code
		wasRunning := s.running
		s.running = false
		s.mu.Unlock()
		close(exited)

		if wasRunning {
			if s.stopping() {
				s.logger.Info("interceptor exited", zap.Int("code", code))
			} else {
				s.logger.Warn("interceptor exited unexpectedly", zap.Int("code", code))
			}
			s.observer.StatusChanged(componentXMPP, fmt.Sprintf("Exited(%d)", code), false)
		}
		return nil
	})
	return nil
}

// validate polls for a fatal error record or an early exit until the
// window closes.
func (s *Supervisor) validate(ctx context.Context) error {
	poll := s.cfg.ValidationPoll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.ValidationWindow)
	defer deadline.Stop()

	for {
		if err := s.checkStartup(); err != nil {
			s.logger.Error("interceptor failed validation", zap.Error(err))
			s.forceKill()
			return err
		}

		select {
		case <-ticker.C:
		case <-s.exited:
		case <-deadline.C:
			if err := s.checkStartup(); err != nil {
				s.logger.Error("interceptor failed validation", zap.Error(err))
				s.forceKill()
				return err
			}
			s.mu.Lock()
			s.running = true
			s.mu.Unlock()
			return nil
		case <-ctx.Done():
			s.forceKill()
			return ctx.Err()
		case <-s.stopCh:
			return ErrStopped
		}
	}
}

func (s *Supervisor) checkStartup() error {
	if err := s.fatalRecord(); err != nil {
		return err
	}
	select {
	case <-s.exited:
	default:
		return nil
	}

	// A fatal record written just before exiting may still be in the pipe.
	select {
	case <-s.readDone:
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.Warn("interceptor output not drained after exit", zap.Duration("timeout", s.cfg.DrainTimeout))
	}
	if err := s.fatalRecord(); err != nil {
		return err
	}

	s.mu.Lock()
	code := s.exitCode
	s.mu.Unlock()
	return &StartupError{
		Cause:  events.CauseInternal,
		Reason: fmt.Sprintf("interceptor exited during startup (code %d)", code),
	}
}

func (s *Supervisor) fatalRecord() error {
	f := s.reader.Fatal()
	if f == nil {
		return nil
	}
	return &StartupError{
		Cause:  events.CauseFor(f.Code, f.Reason),
		Code:   f.Code,
		Reason: f.Reason,
		Err:    f,
	}
}

func (s *Supervisor) forceKill() {
	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	s.mu.Unlock()
	if cmd == nil {
		return
	}
	if err := procattr.KillGroup(cmd.Process); err != nil {
		s.logger.Debug("kill interceptor group", zap.Error(err))
	}
	s.waitExit(exited, s.cfg.ForcefulStop)
}

// Running reports whether the interceptor passed validation and has not
// exited since.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done is closed when the interceptor process exits. It returns nil before
// a process was launched.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// ExitCode returns the process exit code once it has exited.
func (s *Supervisor) ExitCode() (int, error) {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited == nil {
		return 0, ErrNotRunning
	}
	select {
	case <-exited:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.exitCode, nil
	default:
		return 0, ErrNotRunning
	}
}

func (s *Supervisor) stopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Stop terminates the interceptor and drains the reader. It is safe to
// call more than once and from any goroutine, and returns within
// GracefulStop + ForcefulStop + DrainTimeout plus the name sweep.
func (s *Supervisor) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.shutdown()
	})
	return nil
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	cmd, exited, group, pipe := s.cmd, s.exited, s.group, s.pipe
	s.mu.Unlock()
	if cmd == nil {
		return
	}

	s.logger.Info("stopping interceptor", zap.Int("pid", cmd.Process.Pid))

	if !isClosed(exited) {
		if err := procattr.Terminate(cmd.Process); err != nil {
			s.logger.Debug("terminate interceptor group", zap.Error(err))
		}
		if !s.waitExit(exited, s.cfg.GracefulStop) {
			s.logger.Warn("interceptor ignored termination, killing")
			if err := procattr.KillGroup(cmd.Process); err != nil {
				s.logger.Debug("kill interceptor group", zap.Error(err))
			}
			if !s.waitExit(exited, s.cfg.ForcefulStop) {
				s.logger.Warn("interceptor did not exit after kill")
			}
		}
	}

	if s.cfg.KillByName {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n, err := KillByName(ctx, s.cfg.Executable)
		cancel()
		if err != nil {
			s.logger.Debug("kill by name", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("killed leftover interceptor processes", zap.Int("count", n))
		}
	}

	drained := make(chan error, 1)
	go func() { drained <- group.Wait() }()
	select {
	case err := <-drained:
		if err != nil {
			s.logger.Debug("interceptor I/O ended with error", zap.Error(err))
		}
	case <-time.After(s.cfg.DrainTimeout):
		// A surviving grandchild can hold the write end open; closing our
		// end unblocks the reader.
		s.logger.Warn("interceptor I/O did not drain, abandoning", zap.Duration("timeout", s.cfg.DrainTimeout))
		pipe.Close()
	}
}

func (s *Supervisor) waitExit(exited <-chan struct{}, d time.Duration) bool {
	select {
	case <-exited:
		return true
	case <-time.After(d):
		return false
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
