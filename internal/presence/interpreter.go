// Package presence turns presence stanzas into game state changes.
package presence

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/valvoice/backend/internal/session"
	"github.com/valvoice/backend/internal/xmpp"
)

// Consumer is told about every game state seen in a presence update.
// Calls are fire-and-forget.
type Consumer interface {
	GameStateChanged(state session.GameState)
}

type ConsumerFunc func(session.GameState)

func (f ConsumerFunc) GameStateChanged(s session.GameState) { f(s) }

var ErrNoLoopState = errors.New("presence payload has no sessionLoopState")

// Interpreter never returns errors to its caller: a presence update that
// cannot be read is logged and ignored.
type Interpreter struct {
	signal   *session.GameStateSignal
	consumer Consumer
	logger   *zap.Logger
}

// NewInterpreter builds an interpreter; consumer may be nil.
func NewInterpreter(signal *session.GameStateSignal, consumer Consumer, logger *zap.Logger) *Interpreter {
	return &Interpreter{signal: signal, consumer: consumer, logger: logger}
}

// Handle processes one presence fragment.
func (i *Interpreter) Handle(fragment string) {
	if !xmpp.HasPresencePayload(fragment) {
		return
	}

	state, err := Decode(fragment)
	if err != nil {
		i.logger.Debug("presence update ignored", zap.Error(err))
		return
	}

	if i.signal.Set(state) {
		i.logger.Info("game state changed", zap.Stringer("state", state))
	}
	if i.consumer != nil {
		i.consumer.GameStateChanged(state)
	}
}

// Decode extracts the game state from a presence fragment: the <p> payload
// is base64 JSON whose sessionLoopState names the phase.
func Decode(fragment string) (session.GameState, error) {
	payload, err := xmpp.PresencePayload(fragment)
	if err != nil {
		return session.Unknown, err
	}

	raw, err := decodeBase64(payload)
	if err != nil {
		return session.Unknown, fmt.Errorf("decode presence payload: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return session.Unknown, errors.New("presence payload is not valid JSON")
	}

	loop := gjson.GetBytes(raw, "sessionLoopState")
	if !loop.Exists() {
		// Some clients nest the state under a private blob.
		loop = gjson.GetBytes(raw, "matchPresenceData.sessionLoopState")
	}
	if !loop.Exists() || loop.String() == "" {
		return session.Unknown, ErrNoLoopState
	}
	return session.ParseGameState(loop.String()), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
