package xmpp

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrTooLarge  = errors.New("stanza exceeds size limit")
	ErrNoMessage = errors.New("no message element")
)

// ParsedMessage is the subset of a <message> stanza the pipeline uses.
type ParsedMessage struct {
	From  string
	To    string
	ID    string
	Type  string
	Stamp string
	Body  string
	// JID is the first jid attribute found inside the message, if any.
	JID string
	// Carbon is set for carbon copies of the local user's own messages;
	// ForwardedTo is the destination of the forwarded inner message.
	Carbon      bool
	ForwardedTo string
	Raw         string
}

func (m ParsedMessage) HasBody() bool {
	return m.Body != ""
}

// ParseMessages extracts every message with a body from fragment. The
// fragment is first decoded as a whole; if that fails or yields nothing,
// each <message ...>...</message> span is decoded on its own. Messages
// without a body, with an oversized body, or that fail to decode are
// skipped.
func ParseMessages(fragment string) ([]ParsedMessage, error) {
	if len(fragment) > MaxStanzaLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(fragment))
	}
	if !strings.Contains(strings.ToLower(fragment), "<message") {
		return nil, ErrNoMessage
	}

	msgs, err := decodeMessages(fragment)
	if err == nil && len(msgs) > 0 {
		return msgs, nil
	}

	var out []ParsedMessage
	for _, span := range splitMessages(fragment) {
		parsed, err := decodeMessages(span)
		if err != nil {
			continue
		}
		out = append(out, parsed...)
	}
	return out, nil
}

// splitMessages returns the raw <message ...>...</message> spans in s in
// order. Matching is case-insensitive and non-nesting.
func splitMessages(s string) []string {
	lower := strings.ToLower(s)
	var spans []string
	start := 0
	for {
		i := strings.Index(lower[start:], "<message")
		if i < 0 {
			break
		}
		i += start
		j := strings.Index(lower[i:], "</message>")
		if j < 0 {
			break
		}
		end := i + j + len("</message>")
		spans = append(spans, s[i:end])
		start = end
	}
	return spans
}

type stampSource int

const (
	stampNone stampSource = iota
	stampMessage
	stampArchive
	stampDelay
)

type messageBuilder struct {
	msg       ParsedMessage
	stampFrom stampSource
	body      strings.Builder
	inBody    bool
	bodyDone  bool
	oversize  bool
}

func (b *messageBuilder) setStamp(v string, src stampSource) {
	if v != "" && src > b.stampFrom {
		b.msg.Stamp = v
		b.stampFrom = src
	}
}

// decodeMessages walks the tokens of s and returns each top-level message
// that has a body. Any tokenizer error aborts the whole decode.
func decodeMessages(s string) ([]ParsedMessage, error) {
	d := xml.NewDecoder(strings.NewReader(s))
	d.Strict = false
	d.Entity = xml.HTMLEntity

	var (
		out   []ParsedMessage
		cur   *messageBuilder
		depth int // depth inside the current top-level message
		found bool
	)

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			if cur == nil {
				if name == "message" {
					found = true
					cur = &messageBuilder{}
					depth = 0
					for _, a := range t.Attr {
						switch strings.ToLower(a.Name.Local) {
						case "from":
							cur.msg.From = a.Value
						case "to":
							cur.msg.To = a.Value
						case "id":
							cur.msg.ID = a.Value
						case "type":
							cur.msg.Type = a.Value
						case "stamp":
							cur.setStamp(a.Value, stampMessage)
						case "jid":
							cur.msg.JID = a.Value
						}
					}
				}
				continue
			}

			depth++
			switch name {
			case "body":
				if !cur.bodyDone {
					cur.inBody = true
				}
			case "delay":
				cur.setStamp(attr(t, "stamp"), stampDelay)
			case "archived", "result":
				cur.setStamp(attr(t, "stamp"), stampArchive)
			case "received", "sent":
				if t.Name.Space == CarbonsNamespace || attr(t, "xmlns") == CarbonsNamespace {
					cur.msg.Carbon = true
				}
			case "message":
				if to := attr(t, "to"); to != "" && cur.msg.ForwardedTo == "" {
					cur.msg.ForwardedTo = to
				}
			}
			if cur.msg.JID == "" {
				if jid := attr(t, "jid"); jid != "" {
					cur.msg.JID = jid
				}
			}

		case xml.CharData:
			if cur != nil && cur.inBody && !cur.oversize {
				if cur.body.Len()+len(t) > MaxBodyLen {
					cur.oversize = true
					continue
				}
				cur.body.Write(t)
			}

		case xml.EndElement:
			if cur == nil {
				continue
			}
			name := strings.ToLower(t.Name.Local)
			if depth == 0 && name == "message" {
				if !cur.oversize {
					cur.msg.Body = cur.body.String()
					if cur.msg.HasBody() {
						cur.msg.Raw = s
						out = append(out, cur.msg)
					}
				}
				cur = nil
				continue
			}
			depth--
			if name == "body" && cur.inBody {
				cur.inBody = false
				cur.bodyDone = true
			}
		}
	}

	if !found {
		return nil, ErrNoMessage
	}
	if cur != nil {
		return nil, errors.New("unterminated message element")
	}
	return out, nil
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if strings.EqualFold(a.Name.Local, local) {
			return a.Value
		}
	}
	return ""
}
