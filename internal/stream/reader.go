package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/valvoice/backend/internal/logging"
)

// MaxLineSize bounds a single event line. Longer lines are discarded.
const MaxLineSize = 1 << 20

const readBufferSize = 64 * 1024

// Handler receives every decoded event, in stream order, on the reader's
// goroutine.
type Handler interface {
	HandleEvent(Event)
}

type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(e Event) { f(e) }

// FatalError is the first error record whose code was fatal.
type FatalError struct {
	Code   int
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("interceptor error %d: %s", e.Code, e.Reason)
}

// Reader decodes the interceptor's stdout. Lines that are not JSON objects
// are logged and skipped; they never end the loop.
type Reader struct {
	handler Handler
	isFatal func(code int) bool
	logger  *zap.Logger

	mu        sync.Mutex
	fatal     *FatalError
	lines     int64
	oversized int64
}

// NewReader builds a Reader. isFatal decides which error codes abort
// startup; handler may be nil.
func NewReader(isFatal func(code int) bool, handler Handler, logger *zap.Logger) *Reader {
	if handler == nil {
		handler = HandlerFunc(func(Event) {})
	}
	if isFatal == nil {
		isFatal = func(int) bool { return false }
	}
	return &Reader{handler: handler, isFatal: isFatal, logger: logger}
}

// Run reads r until EOF or a read error. EOF returns nil. A line longer
// than MaxLineSize is skipped with a warning and reading continues.
func (rd *Reader) Run(r io.Reader) error {
	br := bufio.NewReaderSize(r, readBufferSize)
	defer rd.logger.Info("interceptor output closed")

	var line []byte
	for {
		var (
			err     error
			size    int
			tooLong bool
		)
		line = line[:0]
		for {
			var frag []byte
			frag, err = br.ReadSlice('\n')
			size += len(frag)
			if size > MaxLineSize+1 {
				tooLong = true
			} else {
				line = append(line, frag...)
			}
			if !errors.Is(err, bufio.ErrBufferFull) {
				break
			}
		}

		if tooLong {
			rd.mu.Lock()
			rd.oversized++
			rd.mu.Unlock()
			rd.logger.Warn("interceptor line exceeds limit, skipped", zap.Int("size", size), zap.Int("max", MaxLineSize))
		} else {
			rd.handleLine(line)
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		default:
			rd.logger.Warn("interceptor reader terminating", zap.Error(err))
			return err
		}
	}
}

func (rd *Reader) handleLine(raw []byte) {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		return
	}
	rd.mu.Lock()
	rd.lines++
	rd.mu.Unlock()

	e, err := ParseLine(line)
	if err != nil {
		rd.logRaw(line)
		return
	}

	if e.Type == TypeError {
		rd.recordError(e)
	}
	rd.handler.HandleEvent(e)
}

func (rd *Reader) logRaw(line []byte) {
	text := string(line)
	if bytes.Contains(bytes.ToLower(line), []byte("presence")) {
		rd.logger.Debug("interceptor presence output", zap.String("line", logging.Truncate(text, 200)))
		return
	}
	rd.logger.Info("interceptor output", zap.String("line", logging.Truncate(text, 200)))
}

func (rd *Reader) recordError(e Event) {
	code, reason := e.Code(), e.Reason()
	if !rd.isFatal(code) {
		return
	}
	rd.logger.Error("interceptor reported fatal error", zap.Int("code", code), zap.String("reason", reason))

	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.fatal == nil {
		rd.fatal = &FatalError{Code: code, Reason: reason}
	}
}

// Fatal returns the first fatal error record seen, or nil.
func (rd *Reader) Fatal() *FatalError {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.fatal
}

// Lines is the number of non-blank lines read so far.
func (rd *Reader) Lines() int64 {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.lines
}

// Oversized is the number of lines skipped for exceeding MaxLineSize.
func (rd *Reader) Oversized() int64 {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.oversized
}
