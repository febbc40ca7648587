// Package keys derives storage-safe object keys from URLs.
//
// A key is built from the URL host (with any explicit port) and path. Query
// strings and fragments are not part of the key, and default ports are not
// stripped, so https://example.com and https://example.com:443 key
// differently. Both choices feed change-detection identity.
package keys

import (
	"net/url"
	"strings"
)

const (
	pagePrefix     = "pages"
	documentPrefix = "documents"
	filePrefix     = "files"
	markdownSuffix = ".md"
	emptyKey       = "index"
)

// Derive maps a URL to a canonical key. It never fails: unparseable input is
// sanitized as-is and an empty result becomes "index".
func Derive(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	base := raw
	if u, err := url.Parse(raw); err == nil && (u.Host != "" || u.Path != "") {
		base = u.Host + u.Path
	}
	base = strings.TrimRight(base, "/")
	key := strings.Trim(sanitize(base), "/")
	key = strings.ReplaceAll(key, "/", "_")
	if key == "" {
		return emptyKey
	}
	return key
}

// Page returns the object key for a page artifact.
func Page(rawURL string) string {
	return pagePrefix + "/" + Derive(rawURL) + markdownSuffix
}

// Document returns the object key for a converted document artifact.
func Document(rawURL string) string {
	return documentPrefix + "/" + Derive(rawURL) + markdownSuffix
}

// File returns the object key for a raw downloaded document.
func File(rawURL string) string {
	return filePrefix + "/" + Derive(rawURL)
}

// Filename returns the last path segment of the URL, or "" when there is none.
func Filename(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		p = p[idx+1:]
	}
	return p
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '/', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
