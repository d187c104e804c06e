// Package mock stands in for the interception executable. It writes a
// scripted chat session as JSON lines so the whole pipeline can run
// without the game client.
package mock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultSelfID = "mock-self-puuid"
	partyRoom     = "mock-party@ares-parties.na1.pvp.net"
	pregameRoom   = "mock-pregame@ares-pregame.na1.pvp.net"
	teamRoom      = "mock-match-blue@ares-coregame.na1.pvp.net"
	allRoom       = "mock-match-all@ares-coregame.na1.pvp.net"
)

type Options struct {
	// Interval is the pause between records.
	Interval time.Duration
	// FatalCode, when non-zero, replaces the session with a single error
	// record carrying this code.
	FatalCode int
	// Loop keeps emitting numbered party chat after the script ends.
	Loop   bool
	SelfID string
	// Now is used for delay stamps; defaults to time.Now.
	Now func() time.Time
}

type mockPlayer struct {
	id   string
	name string
}

var players = []mockPlayer{
	{"mock-p1", "Jett"},
	{"mock-p2", "Sage"},
	{"mock-p3", "Omen"},
}

// Line is one output line: either a JSON record or raw diagnostic text.
type Line struct {
	Raw    string
	Record map[string]any
}

type Generator struct {
	w    io.Writer
	opts Options

	mu  sync.Mutex
	seq int
}

func NewGenerator(w io.Writer, opts Options) *Generator {
	if opts.SelfID == "" {
		opts.SelfID = DefaultSelfID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Generator{w: w, opts: opts}
}

// Run writes the script, pausing Interval between lines. With Loop set it
// then keeps chatting until ctx is cancelled. Cancellation is not an
// error.
func (g *Generator) Run(ctx context.Context) error {
	script, err := g.Script()
	if err != nil {
		return err
	}
	for _, line := range script {
		if err := g.write(line); err != nil {
			return err
		}
		if !g.pause(ctx) {
			return nil
		}
	}

	for g.opts.Loop {
		if !g.pause(ctx) {
			return nil
		}
		n := g.next()
		p := players[n%len(players)]
		if err := g.write(incoming(groupchat(partyRoom+"/"+p.id, fmt.Sprintf("loop-%d", n), fmt.Sprintf("message number %d", n), ""))); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) pause(ctx context.Context) bool {
	if g.opts.Interval <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(g.opts.Interval):
		return true
	case <-ctx.Done():
		return false
	}
}

func (g *Generator) next() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return g.seq
}

// Script returns the lines of one scripted session.
func (g *Generator) Script() ([]Line, error) {
	lines := []Line{
		{Raw: "mock interceptor starting"},
		lifecycle("open-riot", 1),
		lifecycle("open-valorant", 2),
	}

	if g.opts.FatalCode != 0 {
		return append(lines, Line{Record: map[string]any{
			"type":   "error",
			"code":   g.opts.FatalCode,
			"reason": fatalReason(g.opts.FatalCode),
		}}), nil
	}

	auth, err := AuthStanza(g.opts.SelfID)
	if err != nil {
		return nil, err
	}

	now := g.opts.Now().UTC()
	stale := now.Add(-2 * time.Hour).Format("2006-01-02T15:04:05.000Z")

	lines = append(lines,
		outgoing(auth),
		incoming(rosterResult()),
		incoming(`<iq type="result" id="archive_1"><query xmlns="jabber:iq:riotgames:archive">`+
			`<message from="`+partyRoom+`/mock-p1" type="groupchat" id="old-1"><body>from last week</body></message>`+
			`</query></iq>`),
		incoming(Presence("MENUS")),
		outgoing(auth),
		incoming(groupchat(partyRoom+"/mock-p1", "m-1", "queue up?", "")),
		incoming(groupchat(partyRoom+"/"+g.opts.SelfID, "m-2", "ready", "")),
		incoming(Presence("PREGAME")),
		incoming(groupchat(pregameRoom+"/mock-p2", "m-3", "I&apos;ll play sage", "")),
		incoming(Presence("INGAME")),
		incoming(groupchat(teamRoom+"/mock-p3", "m-4", "smoking B main", "")),
		incoming(groupchat(teamRoom+"/mock-p3", "m-4", "smoking B main", "")),
		incoming(groupchat(allRoom+"/mock-enemy", "m-5", "gl hf", "")),
		incoming(groupchat(partyRoom+"/mock-p1", "m-6", "replayed history", stale)),
		incoming(`<message from="friend@na1.pvp.net/RC-1" to="`+g.opts.SelfID+`@na1.pvp.net" type="chat" id="m-7"><body>psst</body></message>`),
		incoming(`<iq type="result" id="ping"/>`),
		Line{Raw: "presence handler idle"},
		Line{Record: map[string]any{"type": "error", "code": 104, "reason": "ECONNRESET"}},
		lifecycle("close-valorant", 2),
		lifecycle("open-valorant", 3),
		incoming(Presence("MENUS")),
	)
	return lines, nil
}

func (g *Generator) write(line Line) error {
	var data []byte
	if line.Record != nil {
		var err error
		if data, err = json.Marshal(line.Record); err != nil {
			return err
		}
	} else {
		data = []byte(line.Raw)
	}
	data = append(data, '\n')
	_, err := g.w.Write(data)
	return err
}

func fatalReason(code int) string {
	switch code {
	case 409:
		return "Riot Client is running"
	case 404:
		return "VALORANT installation not found"
	default:
		return "internal error"
	}
}

func lifecycle(typ string, socketID int) Line {
	return Line{Record: map[string]any{
		"type":     typ,
		"socketID": socketID,
		"host":     "127.0.0.1",
		"port":     5223,
	}}
}

func incoming(data string) Line {
	return Line{Record: map[string]any{"type": "incoming", "socketID": 2, "data": data}}
}

func outgoing(data string) Line {
	return Line{Record: map[string]any{"type": "outgoing", "socketID": 2, "data": data}}
}

func groupchat(from, id, body, stamp string) string {
	delay := ""
	if stamp != "" {
		delay = `<delay xmlns="urn:xmpp:delay" stamp="` + stamp + `"/>`
	}
	return `<message from="` + from + `" type="groupchat" id="` + id + `"><body>` + body + `</body>` + delay + `</message>`
}

func rosterResult() string {
	s := `<iq type="result" id="roster_1"><query xmlns="jabber:iq:riotgames:roster">`
	for _, p := range players {
		s += `<item jid="` + p.id + `@na1.pvp.net" subscription="both"><id name="` + p.name + `" tagline="NA1"/></item>`
	}
	return s + `</query></iq>`
}

// AuthStanza builds the SASL auth the game client sends, carrying an
// unsigned token whose subject is selfID.
func AuthStanza(selfID string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": selfID,
		"iss": "https://auth.riotgames.com",
	})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		return "", fmt.Errorf("sign mock token: %w", err)
	}
	return `<auth mechanism="X-Riot-RSO-PAS" xmlns="urn:ietf:params:xml:ns:xmpp-sasl">` +
		`<rso_token>` + signed + `</rso_token><pas_token>mock</pas_token></auth>`, nil
}

// Presence builds a presence stanza whose payload reports state.
func Presence(state string) string {
	payload := fmt.Sprintf(`{"sessionLoopState":%q,"partyId":"mock-party"}`, state)
	return `<presence><games><valorant><st>chat</st><p>` +
		base64.StdEncoding.EncodeToString([]byte(payload)) +
		`</p></valorant></games></presence>`
}
