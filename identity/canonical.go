package identity

import (
	"net/url"
	"regexp"
	"strings"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// CanonicalURL normalizes a listing URL so the same detail page is only
// fetched once: lower-case scheme and host, no fragment, no trailing slash.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

// Resolve turns an href found on pageURL into an absolute canonical URL.
func Resolve(pageURL *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if pageURL != nil {
		ref = pageURL.ResolveReference(ref)
	}
	if ref.Host == "" {
		return "", false
	}
	return CanonicalURL(ref.String()), true
}

// NormalizeText collapses whitespace runs inside scraped text.
func NormalizeText(s string) string {
	return strings.TrimSpace(multiSpaceRegex.ReplaceAllString(s, " "))
}
