// Package narration turns live chat messages into narration requests:
// it classifies the chat channel, applies the user's narration policy,
// keeps counters and hands accepted messages to a Sink.
package narration

import (
	"strings"
	"time"

	"github.com/valvoice/backend/internal/xmpp"
)

type Channel string

const (
	ChannelUnknown Channel = ""
	ChannelParty   Channel = "PARTY"
	ChannelTeam    Channel = "TEAM"
	ChannelAll     Channel = "ALL"
	ChannelWhisper Channel = "WHISPER"
)

var Channels = []Channel{ChannelParty, ChannelTeam, ChannelAll, ChannelWhisper}

// Message is a chat message ready for the narration policy.
type Message struct {
	ID         string    `json:"id,omitempty"`
	Content    string    `json:"content"`
	Text       string    `json:"text"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Channel    Channel   `json:"channel"`
	Own        bool      `json:"own"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// NewMessage classifies p. selfID is the captured identity, or "" if it is
// not known yet.
func NewMessage(p xmpp.ParsedMessage, selfID string) Message {
	room := p.From
	if p.Carbon && isRoom(p.ForwardedTo) {
		room = p.ForwardedTo
	}

	sender := senderID(p)
	return Message{
		ID:         p.ID,
		Content:    p.Body,
		Text:       p.Body,
		SenderID:   sender,
		Channel:    ClassifyChannel(room, p.Type),
		Own:        selfID != "" && strings.EqualFold(sender, selfID),
		From:       p.From,
		ReceivedAt: time.Now(),
	}
}

// ClassifyChannel maps a sender or room JID to a chat channel by its
// server prefix. Direct chats on any other server are whispers.
func ClassifyChannel(jid, stanzaType string) Channel {
	domain := xmpp.Domain(jid)
	if domain == "" {
		return ChannelUnknown
	}
	server, _, _ := strings.Cut(domain, ".")

	switch server {
	case "ares-parties":
		return ChannelParty
	case "ares-pregame":
		return ChannelTeam
	case "ares-coregame":
		if strings.HasSuffix(xmpp.LocalPart(jid), "all") {
			return ChannelAll
		}
		return ChannelTeam
	}
	if strings.EqualFold(stanzaType, "chat") {
		return ChannelWhisper
	}
	return ChannelUnknown
}

func isRoom(jid string) bool {
	d := xmpp.Domain(jid)
	return strings.HasPrefix(d, "ares-parties") ||
		strings.HasPrefix(d, "ares-pregame") ||
		strings.HasPrefix(d, "ares-coregame")
}

// senderID prefers an explicit jid attribute, then the occupant resource
// of a room JID, then the local part of the sender.
func senderID(p xmpp.ParsedMessage) string {
	if p.JID != "" {
		return xmpp.LocalPart(p.JID)
	}
	if isRoom(p.From) {
		if r := xmpp.Resource(p.From); r != "" {
			return r
		}
	}
	return xmpp.LocalPart(p.From)
}
