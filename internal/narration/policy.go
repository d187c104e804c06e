package narration

import (
	"strings"
	"sync"

	"github.com/valvoice/backend/internal/config"
	"github.com/valvoice/backend/internal/session"
)

// Policy decides which messages are narrated. It can be reconfigured while
// messages are flowing.
type Policy struct {
	mu       sync.RWMutex
	sources  Sources
	whispers bool
	ignored  map[string]struct{}
	clutch   bool
	disabled bool
}

func NewPolicy(cfg config.NarrationConfig) *Policy {
	p := &Policy{}
	p.Apply(cfg)
	return p
}

// Apply replaces the whole policy with cfg.
func (p *Policy) Apply(cfg config.NarrationConfig) {
	sources, whisperToken := ParseSources(cfg.Sources)
	ignored := make(map[string]struct{}, len(cfg.IgnoredUsers))
	for _, u := range cfg.IgnoredUsers {
		if u = strings.TrimSpace(u); u != "" {
			ignored[strings.ToLower(u)] = struct{}{}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = sources
	p.whispers = cfg.Whispers || whisperToken
	p.ignored = ignored
	p.clutch = cfg.ClutchMode
	p.disabled = cfg.Disabled
}

func (p *Policy) Sources() Sources {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sources
}

// Decide reports whether m should be narrated while the game is in state,
// and a short reason when it should not.
func (p *Policy) Decide(m Message, state session.GameState) (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.disabled {
		return false, "disabled"
	}
	if m.Channel == ChannelUnknown {
		return false, "unclassified"
	}
	if _, ok := p.ignored[strings.ToLower(m.SenderID)]; ok {
		return false, "ignored_user"
	}
	if p.clutch && state == session.Ingame {
		return false, "clutch_mode"
	}

	self := p.sources.Has(SourceSelf)

	if m.Channel == ChannelWhisper {
		if !p.whispers {
			return false, "whispers_disabled"
		}
		if m.Own && !self {
			return false, "self_disabled"
		}
		return true, ""
	}

	if m.Own && self {
		return true, ""
	}

	if !p.sources.Has(channelSource(m.Channel)) {
		return false, "channel_disabled"
	}
	if m.Channel == ChannelAll && m.Own && !self {
		return false, "self_disabled"
	}
	return true, ""
}
