// Package identity captures the local user's id from the client's outgoing
// authentication stanza.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/valvoice/backend/internal/events"
	"github.com/valvoice/backend/internal/session"
	"github.com/valvoice/backend/internal/xmpp"
)

var (
	ErrNoToken      = errors.New("auth stanza has no rso_token")
	ErrMalformedJWT = errors.New("rso token is not a JWT")
	ErrNoSubject    = errors.New("rso token has no sub claim")
)

// Some issuers emit the standard base64 alphabet; the decoder only reads
// the URL-safe one.
var urlAlphabet = strings.NewReplacer("+", "-", "/", "_")

// Extractor watches outgoing fragments for the RSO-PAS auth stanza and
// records the token's subject as the session identity, once.
type Extractor struct {
	identity *session.Identity
	observer events.Observer
	parser   *jwt.Parser
	logger   *zap.Logger
}

func NewExtractor(identity *session.Identity, observer events.Observer, logger *zap.Logger) *Extractor {
	return &Extractor{
		identity: identity,
		observer: observer,
		parser:   jwt.NewParser(jwt.WithPaddingAllowed()),
		logger:   logger,
	}
}

// Handle inspects one outgoing fragment and reports whether it captured
// the identity. Fragments seen after capture are ignored without parsing.
func (e *Extractor) Handle(fragment string) bool {
	if e.identity.Captured() {
		if xmpp.IsAuth(fragment) {
			e.logger.Debug("identity already captured, ignoring auth stanza")
		}
		return false
	}
	if !xmpp.IsAuth(fragment) {
		return false
	}

	token, ok := xmpp.RSOToken(fragment)
	if !ok {
		e.logger.Warn("auth stanza without token", zap.Error(ErrNoToken))
		return false
	}

	sub, err := e.Subject(token)
	if err != nil {
		e.logger.Warn("could not read identity from rso token", zap.Error(err))
		return false
	}

	if !e.identity.Capture(sub) {
		return false
	}
	e.logger.Info("identity captured", zap.String("id", sub))
	e.observer.StatusChanged("selfId", sub, true)
	e.observer.IdentityCaptured(sub)
	return true
}

// Subject returns the sub claim of an unverified JWT. Only the payload
// segment is decoded; the token needs at least two dot-separated parts.
// Both base64 alphabets are accepted, with or without padding.
func (e *Extractor) Subject(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %d segment(s)", ErrMalformedJWT, len(parts))
	}

	payload, err := e.parser.DecodeSegment(urlAlphabet.Replace(parts[1]))
	if err != nil {
		return "", fmt.Errorf("%w: decode payload: %v", ErrMalformedJWT, err)
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: parse claims: %v", ErrMalformedJWT, err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("read sub claim: %w", err)
	}
	if sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}
