// Package stream reads the interceptor's line-delimited JSON event stream.
package stream

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Record types written by the interceptor. Lifecycle records are prefixed
// with open- or close- followed by the peer name.
const (
	TypeIncoming = "incoming"
	TypeOutgoing = "outgoing"
	TypeError    = "error"

	openPrefix  = "open-"
	closePrefix = "close-"
)

var ErrNotObject = errors.New("line is not a JSON object")

// Event is one decoded line. Fields holds every key of the record,
// including "type", undecoded.
type Event struct {
	Type   string
	Fields map[string]json.RawMessage
}

// ParseLine decodes a single line into an Event.
func ParseLine(line []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Event{}, ErrNotObject
		}
		return Event{}, err
	}
	if fields == nil {
		// "null" decodes into a nil map without error.
		return Event{}, ErrNotObject
	}
	e := Event{Fields: fields}
	e.Type = e.String("type")
	return e, nil
}

// String returns a field as text. Numbers are returned in their JSON form;
// missing or null fields are "".
func (e Event) String(key string) string {
	raw, ok := e.Fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Int returns a numeric field, accepting numeric strings. Missing or
// invalid fields are 0.
func (e Event) Int(key string) int {
	raw, ok := e.Fields[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(e.String(key))); err == nil {
		return n
	}
	return 0
}

func (e Event) Data() string { return e.String("data") }
func (e Event) Code() int { return e.Int("code") }
func (e Event) SocketID() int { return e.Int("socketID") }
func (e Event) Host() string { return e.String("host") }
func (e Event) Port() int { return e.Int("port") }
func (e Event) IsOpen() bool { return strings.HasPrefix(e.Type, openPrefix) }
func (e Event) IsClose() bool { return strings.HasPrefix(e.Type, closePrefix) }

// Reason returns the error reason, or "unknown" when absent.
func (e Event) Reason() string {
	if r := e.String("reason"); r != "" {
		return r
	}
	return "unknown"
}

// Peer is the name after the open-/close- prefix.
func (e Event) Peer() string {
	switch {
	case e.IsOpen():
		return strings.TrimPrefix(e.Type, openPrefix)
	case e.IsClose():
		return strings.TrimPrefix(e.Type, closePrefix)
	}
	return ""
}
