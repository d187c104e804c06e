// Package xmpp does the minimum XMPP work the pipeline needs: deciding what
// kind of stanza a fragment holds and pulling a handful of fields out of it.
// It is not a general XMPP parser.
package xmpp

import "strings"

const (
	RosterNamespace  = "jabber:iq:riotgames:roster"
	ArchiveNamespace = "jabber:iq:riotgames:archive"
	CarbonsNamespace = "urn:xmpp:carbons:2"

	// MaxStanzaLen caps fragments handed to the message and presence parsers.
	MaxStanzaLen = 32 * 1024
	// MaxBodyLen drops any message whose body is longer.
	MaxBodyLen = 8 * 1024
	// MaxPresencePayloadLen drops presence payloads that are longer.
	MaxPresencePayloadLen = 16 * 1024
)

// Kind is the routing decision for an incoming fragment.
type Kind int

const (
	KindPresence Kind = iota
	KindRoster
	KindArchive // replayed history, dropped
	KindNonChat // control traffic, dropped
	KindMessages
)

var kindNames = map[Kind]string{
	KindPresence: "presence",
	KindRoster:   "roster",
	KindArchive:  "archive",
	KindNonChat:  "non-chat",
	KindMessages: "messages",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Classify routes one incoming fragment. The checks run in a fixed order
// and the first match wins: presence, roster result, archive, quick reject,
// chat messages.
func Classify(fragment string) Kind {
	lower := strings.ToLower(fragment)

	if isPresence(lower) {
		return KindPresence
	}
	if isRosterResult(lower) {
		return KindRoster
	}
	if isIQ(lower) {
		// Any IQ that made it this far is either an archive query result,
		// a wrapper around archived messages, or plain control traffic.
		if strings.Contains(lower, ArchiveNamespace) || hasMessageWithBody(lower) {
			return KindArchive
		}
		return KindNonChat
	}
	if strings.Contains(lower, ArchiveNamespace) {
		return KindArchive
	}
	if !hasMessageWithBody(lower) {
		return KindNonChat
	}
	return KindMessages
}

func isPresence(lower string) bool {
	t := strings.TrimSpace(lower)
	return strings.HasPrefix(t, "<presence") || strings.Contains(t, "<presence ")
}

func isRosterResult(lower string) bool {
	return strings.Contains(lower, "<iq") &&
		(strings.Contains(lower, `type="result"`) || strings.Contains(lower, `type='result'`)) &&
		strings.Contains(lower, RosterNamespace)
}

func isIQ(lower string) bool {
	t := strings.TrimSpace(lower)
	return strings.HasPrefix(t, "<iq") || strings.Contains(t, "<iq ")
}

func hasMessageWithBody(lower string) bool {
	return strings.Contains(lower, "<message") && strings.Contains(lower, "<body>")
}
