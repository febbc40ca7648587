// Package detector decides when a plain page fetch should be re-rendered in
// a headless browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/markdown-crawler/internal/fetch"
)

// DefaultBodyThreshold is the body size below which script-heavy pages are
// promoted.
const DefaultBodyThreshold = 2048

// Heuristic promotes pages that look like client-rendered applications.
type Heuristic struct {
	BodyLengthThreshold int
}

var _ fetch.Promoter = (*Heuristic)(nil)

// NewHeuristic creates a detector; a non-positive threshold uses the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether page needs a headless render.
func (h *Heuristic) ShouldPromote(page fetch.Page) bool {
	if page.StatusCode != http.StatusOK {
		return false
	}
	body := page.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptShare(body) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		gt := strings.IndexByte(lower[start:], '>')
		if gt == -1 {
			// Malformed tag: the rest of the document counts.
			covered += total - start
			break
		}
		contentStart := start + gt + 1
		end := total
		if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
			end = contentStart + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
