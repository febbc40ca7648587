package crawl

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/markdown-crawler/internal/storage"
)

// Request asks for one crawl run.
type Request struct {
	URL string `json:"url"`
	// Storage overrides the configured storage target for this run.
	Storage *storage.Target `json:"storage,omitempty"`
	// SkipDocs disables document discovery and conversion.
	SkipDocs bool `json:"skip_docs"`
	// DownloadFiles also keeps the raw original of each document.
	DownloadFiles bool `json:"download_files"`
	// Headless renders pages with the browser fetcher.
	Headless bool `json:"headless"`
}

// Validate checks the seed URL and storage override.
func (r Request) Validate() error {
	u, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil {
		return fmt.Errorf("%w: parse url: %v", ErrInvalidRequest, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidRequest)
	}
	if r.Storage != nil {
		if err := r.Storage.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}
