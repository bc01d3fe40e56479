// Package links recognises exchange links inside posts and pulls out the
// market identifier they point at.
package links

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pnp-exchange/mentions-bot/internal/models"
)

const (
	// Domain is the exchange host links must point at.
	Domain = "pnp.exchange"
	// AliasSubdomain may prefix Domain.
	AliasSubdomain = "www"

	defaultScheme = "https://"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	schemePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

	// textPattern finds host+first path character anywhere in free text. The
	// leading class keeps "otherpnp.exchange" and "x.pnp.exchange" out.
	textPattern = regexp.MustCompile(`(?i)(?:^|[^a-z0-9.-])(?:www\.)?pnp\.exchange/[a-z0-9]`)
)

// ExtractID returns the first path segment of an exchange link. Strings
// without a scheme are parsed as https. ok is false for other hosts,
// malformed URLs and segments with characters outside [A-Za-z0-9_-].
func ExtractID(raw string) (id string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !schemePattern.MatchString(raw) {
		raw = defaultScheme + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !isExchangeHost(u.Hostname()) {
		return "", false
	}

	segment := strings.TrimPrefix(u.EscapedPath(), "/")
	if i := strings.IndexByte(segment, '/'); i >= 0 {
		segment = segment[:i]
	}
	if !identifierPattern.MatchString(segment) {
		return "", false
	}
	return segment, true
}

// MatchesText reports whether text contains an exchange link anywhere.
func MatchesText(text string) bool {
	return textPattern.MatchString(text)
}

// ResolveURL picks the URL to inspect for an entity: expanded, then
// canonical, then display form. The first non-empty one wins.
func ResolveURL(e models.URLEntity) string {
	switch {
	case e.ExpandedURL != "":
		return e.ExpandedURL
	case e.URL != "":
		return e.URL
	default:
		return e.DisplayURL
	}
}

func isExchangeHost(host string) bool {
	host = strings.ToLower(host)
	return host == Domain || host == AliasSubdomain+"."+Domain
}
