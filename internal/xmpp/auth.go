package xmpp

import (
	"regexp"
	"strings"
)

// AuthMechanism is the SASL mechanism whose payload carries the RSO token.
const AuthMechanism = "X-Riot-RSO-PAS"

var (
	authRe     = regexp.MustCompile(`(?i)<auth\b[^>]*\bmechanism\s*=\s*['"]X-Riot-RSO-PAS['"]`)
	rsoTokenRe = regexp.MustCompile(`(?is)<rso_token>\s*(.*?)\s*</rso_token>`)
)

// IsAuth reports whether an outgoing fragment is the RSO-PAS auth stanza.
func IsAuth(fragment string) bool {
	return authRe.MatchString(fragment)
}

// RSOToken returns the contents of the <rso_token> element.
func RSOToken(fragment string) (string, bool) {
	m := rsoTokenRe.FindStringSubmatch(fragment)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// LocalPart returns the part of a JID before '@', or the whole string if
// there is none.
func LocalPart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// Domain returns the JID's server part without any resource.
func Domain(jid string) string {
	i := strings.IndexByte(jid, '@')
	if i < 0 {
		return ""
	}
	d := jid[i+1:]
	if j := strings.IndexByte(d, '/'); j >= 0 {
		d = d[:j]
	}
	return d
}

// Resource returns the part of a JID after the first '/', if any.
func Resource(jid string) string {
	if i := strings.IndexByte(jid, '/'); i >= 0 {
		return jid[i+1:]
	}
	return ""
}
