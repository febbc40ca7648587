package crawl

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/markdown-crawler/internal/convert"
)

// pageExtensions are link extensions treated as pages rather than documents.
var pageExtensions = map[string]bool{
	"": true, "html": true, "htm": true, "xhtml": true, "shtml": true,
	"php": true, "asp": true, "aspx": true, "jsp": true, "cfm": true,
}

// scope decides which discovered links belong to a run.
type scope struct {
	host             string
	stayOnDomain     bool
	followSubdomains bool
}

func newScope(seed string, stayOnDomain, followSubdomains bool) scope {
	host := ""
	if u, err := url.Parse(seed); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	return scope{host: host, stayOnDomain: stayOnDomain, followSubdomains: followSubdomains}
}

func (s scope) allows(raw string) bool {
	if !s.stayOnDomain {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == s.host {
		return true
	}
	return s.followSubdomains && s.host != "" && strings.HasSuffix(host, "."+s.host)
}

// documentExtension returns the extension of a link that points at a file
// rather than a page.
func documentExtension(raw string) (string, bool) {
	ext := convert.Extension(raw)
	if pageExtensions[ext] {
		return "", false
	}
	return ext, true
}

// partitionLinks splits in-scope links into pages to follow and documents to
// process, preserving discovery order.
func (s scope) partitionLinks(links []string) (pages, docs []string) {
	for _, link := range links {
		if !s.allows(link) {
			continue
		}
		if _, isDoc := documentExtension(link); isDoc {
			docs = append(docs, link)
			continue
		}
		pages = append(pages, link)
	}
	return pages, docs
}
