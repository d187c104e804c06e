// Package events fans pipeline notifications out to observers.
package events

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Observer receives pipeline notifications. Calls arrive on whichever
// goroutine produced the event and must not block for long.
type Observer interface {
	StatusChanged(component, status string, healthy bool)
	IdentityCaptured(id string)
	StatsUpdated(messages, characters int64)
}

// FatalObserver is implemented by observers that want the single terminal
// notification sent when the interceptor cannot be started.
type FatalObserver interface {
	Fatal(cause FatalCause, reason string)
}

// FatalCause tells the user what to do about a failed start.
type FatalCause string

const (
	CausePeerRunning    FatalCause = "peer_running"
	CauseTargetNotFound FatalCause = "target_not_found"
	CauseInternal       FatalCause = "internal"
)

// ClassifyFatal maps an interceptor error reason to a cause.
func ClassifyFatal(reason string) FatalCause {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "riot") && strings.Contains(r, "running"):
		return CausePeerRunning
	case strings.Contains(r, "not found") || strings.Contains(r, "404"):
		return CauseTargetNotFound
	default:
		return CauseInternal
	}
}

// CauseFor prefers the interceptor's error code and falls back to the
// reason text for codes it does not know.
func CauseFor(code int, reason string) FatalCause {
	switch code {
	case 409:
		return CausePeerRunning
	case 404:
		return CauseTargetNotFound
	case 500:
		return CauseInternal
	}
	return ClassifyFatal(reason)
}

// Message is the user-facing text for a fatal cause.
func (c FatalCause) Message() string {
	switch c {
	case CausePeerRunning:
		return "The game client is already running. Close it completely and start again."
	case CauseTargetNotFound:
		return "The game client could not be found. Make sure it is installed."
	default:
		return "The chat interceptor failed to start."
	}
}

type registration struct {
	id       uint64
	observer Observer
}

// Dispatcher is itself an Observer: producers hold a Dispatcher and every
// call is forwarded to a snapshot of the registered observers. A panicking
// observer is logged and skipped; the others still run.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []registration
	nextID    uint64
	logger    *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Register adds o and returns a function that removes it. Safe to call
// during dispatch; the change applies to the next notification.
func (d *Dispatcher) Register(o Observer) (unregister func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.observers = append(d.observers, registration{id: id, observer: o})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(id) })
	}
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.observers {
		if r.id == id {
			d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.observers)
}

func (d *Dispatcher) snapshot() []registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]registration, len(d.observers))
	copy(out, d.observers)
	return out
}

func (d *Dispatcher) StatusChanged(component, status string, healthy bool) {
	d.each("status", func(o Observer) { o.StatusChanged(component, status, healthy) })
}

func (d *Dispatcher) IdentityCaptured(id string) {
	d.each("identity", func(o Observer) { o.IdentityCaptured(id) })
}

func (d *Dispatcher) StatsUpdated(messages, characters int64) {
	d.each("stats", func(o Observer) { o.StatsUpdated(messages, characters) })
}

// Fatal is delivered only to observers that implement FatalObserver.
func (d *Dispatcher) Fatal(cause FatalCause, reason string) {
	d.each("fatal", func(o Observer) {
		if fo, ok := o.(FatalObserver); ok {
			fo.Fatal(cause, reason)
		}
	})
}

func (d *Dispatcher) each(event string, fn func(Observer)) {
	for _, r := range d.snapshot() {
		d.call(event, r.observer, fn)
	}
}

func (d *Dispatcher) call(event string, o Observer, fn func(Observer)) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Warn("observer panicked",
				zap.String("event", event),
				zap.String("observer", fmt.Sprintf("%T", o)),
				zap.Any("panic", p))
		}
	}()
	fn(o)
}
