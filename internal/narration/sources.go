package narration

import "strings"

// Sources selects which chats are narrated. SELF covers the local user's
// own messages; the rest are channels.
type Sources uint8

const (
	SourceSelf Sources = 1 << iota
	SourceParty
	SourceTeam
	SourceAll
)

const DefaultSources = SourceSelf | SourceParty | SourceTeam

var sourceNames = []struct {
	s    Sources
	name string
}{
	{SourceSelf, "SELF"},
	{SourceParty, "PARTY"},
	{SourceTeam, "TEAM"},
	{SourceAll, "ALL"},
}

// ParseSources reads a "+"-separated selection such as "SELF+PARTY+TEAM".
// Tokens are case-insensitive and unknown ones are ignored. WHISPER or
// PRIVATE enables whispers. A blank selection, or one without any valid
// token, yields DefaultSources.
func ParseSources(selection string) (sources Sources, whispers bool) {
	valid := false
	for _, raw := range strings.Split(strings.ToUpper(selection), "+") {
		switch strings.TrimSpace(raw) {
		case "SELF":
			sources |= SourceSelf
		case "PARTY":
			sources |= SourceParty
		case "TEAM":
			sources |= SourceTeam
		case "ALL":
			sources |= SourceAll
		case "WHISPER", "PRIVATE":
			whispers = true
		default:
			continue
		}
		valid = true
	}
	if !valid {
		return DefaultSources, false
	}
	return sources, whispers
}

func (s Sources) Has(o Sources) bool {
	return s&o == o
}

func (s Sources) String() string {
	var parts []string
	for _, n := range sourceNames {
		if s.Has(n.s) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "+")
}

// channelSource is the Sources bit that enables a channel.
func channelSource(c Channel) Sources {
	switch c {
	case ChannelParty:
		return SourceParty
	case ChannelTeam:
		return SourceTeam
	case ChannelAll:
		return SourceAll
	}
	return 0
}
