// Package markdown renders fetched HTML as markdown and extracts page links.
package markdown

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Links splits a page's hyperlinks by host.
type Links struct {
	Internal []string `json:"internal"`
	External []string `json:"external"`
}

// Document is the rendered form of one page.
type Document struct {
	Title    string
	Markdown string
	Links    Links
}

// Renderer converts HTML pages to markdown.
type Renderer struct {
	readability bool
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithReadability toggles main-content extraction before rendering.
func WithReadability(enabled bool) Option {
	return func(r *Renderer) { r.readability = enabled }
}

// New builds a Renderer. Readability extraction is on by default.
func New(opts ...Option) *Renderer {
	r := &Renderer{readability: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var strippedSelectors = "script, style, noscript, template, svg, iframe, form, button, nav, header, footer, aside"

// Render parses html fetched from pageURL. Links are taken from the full
// page; markdown is rendered from the main content when readability finds
// one, and from the cleaned body otherwise.
func (r *Renderer) Render(pageURL, html string) (Document, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Document{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}
	out := Document{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Links: ExtractLinks(doc, base),
	}

	content := doc.Find("body")
	if r.readability {
		article, err := readability.FromReader(strings.NewReader(html), base)
		if err == nil && strings.TrimSpace(article.Content) != "" {
			if articleDoc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content)); err == nil {
				content = articleDoc.Find("body")
				if article.Title != "" {
					out.Title = strings.TrimSpace(article.Title)
				}
			}
		}
	}
	content.Find(strippedSelectors).Remove()

	w := &writer{base: base}
	out.Markdown = w.render(content)
	return out, nil
}

// ExtractLinks resolves every anchor against base, drops fragments and
// non-http(s) schemes, dedupes, and splits by host.
func ExtractLinks(doc *goquery.Document, base *url.URL) Links {
	var links Links
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := resolve(base, href)
		if !ok {
			return
		}
		if _, dup := seen[abs.String()]; dup {
			return
		}
		seen[abs.String()] = struct{}{}
		if strings.EqualFold(abs.Host, base.Host) {
			links.Internal = append(links.Internal, abs.String())
		} else {
			links.External = append(links.External, abs.String())
		}
	})
	return links
}

func resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs, true
}
