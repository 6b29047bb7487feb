package crawl

import "strings"

// DefaultBlacklist lists server paths that never carry requirement content:
// filters, factories, sessions, pickers, access control, the web UI and a
// malformed folder id the server emits for unfiled artifacts.
var DefaultBlacklist = []string{
	"/rm/calmFilter/",
	"/rm/requirementFactory",
	"/rm/delivery-sessions",
	"/rm/reqif_oslc/",
	"/rm/type-import-sessions",
	"/rm/views?oslc.query",
	"/rm/accessControl/",
	"/rm/web",
	"/rm/pickers/",
	"/rm/folders/null",
	"/jts/users/photo/",
}

// Blacklist rejects request URIs (path plus query) by prefix.
type Blacklist struct {
	prefixes []string
}

// NewBlacklist returns the default blacklist extended with extra prefixes.
func NewBlacklist(extra ...string) *Blacklist {
	prefixes := make([]string, 0, len(DefaultBlacklist)+len(extra))
	prefixes = append(prefixes, DefaultBlacklist...)

	for _, p := range extra {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}

	return &Blacklist{prefixes: prefixes}
}

// Match returns the prefix that rejects requestURI, if any.
func (b *Blacklist) Match(requestURI string) (string, bool) {
	for _, p := range b.prefixes {
		if strings.HasPrefix(requestURI, p) {
			return p, true
		}
	}

	return "", false
}
