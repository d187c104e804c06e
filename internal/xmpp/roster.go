package xmpp

import (
	"encoding/xml"
	"errors"
	"io"
	"regexp"
	"strings"
)

// RosterItem is one friend entry from a roster query result.
type RosterItem struct {
	// ID is the local part of the item's JID, the player's stable id.
	ID   string
	Name string
}

var itemTagRe = regexp.MustCompile(`(?is)<item\s+([^>]*?)/?>`)

// ParseRoster returns every roster item that has both an id and a display
// name. The display name prefers the in-game name (game_name attribute or
// a nested <id name=...>) over the roster name attribute. Fragments the
// tokenizer rejects are scanned tag by tag instead.
func ParseRoster(fragment string) []RosterItem {
	items, err := rosterFromTokens(fragment)
	if err == nil {
		return items
	}
	return rosterFromTags(fragment)
}

func rosterFromTokens(s string) ([]RosterItem, error) {
	d := xml.NewDecoder(strings.NewReader(s))
	d.Strict = false

	var (
		items []RosterItem
		cur   *RosterItem
		alias string // name from the legacy name attribute
	)

	flush := func() {
		if cur == nil {
			return
		}
		if cur.Name == "" {
			cur.Name = alias
		}
		if cur.ID != "" && cur.Name != "" {
			items = append(items, *cur)
		}
		cur = nil
	}

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			flush()
			return items, nil
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch strings.ToLower(t.Name.Local) {
			case "item":
				flush()
				cur = &RosterItem{ID: LocalPart(attr(t, "jid")), Name: attr(t, "game_name")}
				alias = attr(t, "name")
			case "id":
				if cur != nil && cur.Name == "" {
					cur.Name = attr(t, "name")
				}
			}
		case xml.EndElement:
			if strings.EqualFold(t.Name.Local, "item") {
				flush()
			}
		}
	}
}

var (
	jidAttrRe      = regexp.MustCompile(`(?i)\bjid=['"]([^'"@]+)@[^'"]*['"]`)
	gameNameAttrRe = regexp.MustCompile(`(?i)\bgame_name=['"]([^'"]+)['"]`)
	nameAttrRe     = regexp.MustCompile(`(?i)(?:^|\s)name=['"]([^'"]+)['"]`)
)

func rosterFromTags(s string) []RosterItem {
	var items []RosterItem
	for _, m := range itemTagRe.FindAllStringSubmatch(s, -1) {
		attrs := m[1]
		jid := jidAttrRe.FindStringSubmatch(attrs)
		if jid == nil {
			continue
		}
		name := ""
		if gm := gameNameAttrRe.FindStringSubmatch(attrs); gm != nil {
			name = gm[1]
		} else if nm := nameAttrRe.FindStringSubmatch(attrs); nm != nil {
			name = nm[1]
		}
		if name == "" {
			continue
		}
		items = append(items, RosterItem{ID: jid[1], Name: name})
	}
	return items
}
