package xmpp

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrNoPayload = errors.New("presence has no <p> payload")

// HasPresencePayload is a cheap pre-check for a <p>...</p> element.
func HasPresencePayload(fragment string) bool {
	lower := strings.ToLower(fragment)
	return isPresence(lower) && strings.Contains(lower, "<p>") && strings.Contains(lower, "</p>")
}

// PresencePayload returns the trimmed text of the first <p> element. Well
// formed XML goes through the tokenizer; anything it rejects falls back to
// a plain substring search.
func PresencePayload(fragment string) (string, error) {
	if len(fragment) > MaxStanzaLen {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(fragment))
	}

	payload, err := payloadFromTokens(cleanFragment(fragment))
	if err != nil {
		payload = payloadFromSubstring(fragment)
	}
	if payload == "" {
		return "", ErrNoPayload
	}
	if len(payload) > MaxPresencePayloadLen {
		return "", fmt.Errorf("%w: presence payload %d bytes", ErrTooLarge, len(payload))
	}
	return payload, nil
}

// cleanFragment strips a byte order mark and anything before the first tag.
func cleanFragment(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '<'); i > 0 {
		s = s[i:]
	}
	return s
}

func payloadFromTokens(s string) (string, error) {
	d := xml.NewDecoder(strings.NewReader(s))
	d.Strict = false

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(se.Name.Local, "p") {
			continue
		}
		var text string
		if err := d.DecodeElement(&text, &se); err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	}
}

func payloadFromSubstring(s string) string {
	lower := strings.ToLower(s)
	start := strings.Index(lower, "<p>")
	if start < 0 {
		return ""
	}
	start += len("<p>")
	end := strings.Index(lower[start:], "</p>")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(s[start : start+end])
}
