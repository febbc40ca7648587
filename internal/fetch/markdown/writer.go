package markdown

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"svg": true, "iframe": true, "head": true, "#comment": true,
}

var blockTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "ul": true, "ol": true, "pre": true, "blockquote": true,
	"hr": true, "table": true, "div": true, "section": true, "article": true,
	"main": true, "body": true, "figure": true, "figcaption": true,
	"header": true, "footer": true, "dl": true, "dd": true, "dt": true,
	"address": true, "details": true, "summary": true, "li": true,
}

type writer struct {
	base *url.URL
}

func (w *writer) render(sel *goquery.Selection) string {
	blocks := w.blocks(sel)
	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

// blocks renders the children of sel as a list of markdown blocks.
// Consecutive inline children are collected into one paragraph.
func (w *writer) blocks(sel *goquery.Selection) []string {
	var (
		out    []string
		inline strings.Builder
	)
	flush := func() {
		if p := cleanInline(inline.String()); p != "" {
			out = append(out, p)
		}
		inline.Reset()
	}
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		name := goquery.NodeName(child)
		switch {
		case skipped[name]:
		case blockTags[name]:
			flush()
			out = append(out, w.block(name, child)...)
		default:
			inline.WriteString(w.inline(child))
		}
	})
	flush()
	return out
}

func (w *writer) block(name string, sel *goquery.Selection) []string {
	switch name {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level, _ := strconv.Atoi(name[1:])
		text := cleanInline(w.inlineChildren(sel))
		if text == "" {
			return nil
		}
		return []string{strings.Repeat("#", level) + " " + text}
	case "p", "dt", "dd", "summary", "figcaption":
		if text := cleanInline(w.inlineChildren(sel)); text != "" {
			return []string{text}
		}
		return nil
	case "ul", "ol":
		if list := w.list(sel, name == "ol", 0); list != "" {
			return []string{list}
		}
		return nil
	case "pre":
		code := strings.Trim(sel.Text(), "\n")
		return []string{"```\n" + code + "\n```"}
	case "blockquote":
		inner := w.blocks(sel)
		if len(inner) == 0 {
			return nil
		}
		lines := strings.Split(strings.Join(inner, "\n\n"), "\n")
		for i, line := range lines {
			lines[i] = strings.TrimRight("> "+line, " ")
		}
		return []string{strings.Join(lines, "\n")}
	case "hr":
		return []string{"---"}
	case "table":
		if table := w.table(sel); table != "" {
			return []string{table}
		}
		return nil
	default:
		return w.blocks(sel)
	}
}

func (w *writer) list(sel *goquery.Selection, ordered bool, depth int) string {
	var lines []string
	indent := strings.Repeat("  ", depth)
	n := 0
	sel.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		n++
		marker := "- "
		if ordered {
			marker = strconv.Itoa(n) + ". "
		}
		var text strings.Builder
		var nested []string
		li.Contents().Each(func(_ int, child *goquery.Selection) {
			switch name := goquery.NodeName(child); name {
			case "ul", "ol":
				if sub := w.list(child, name == "ol", depth+1); sub != "" {
					nested = append(nested, sub)
				}
			case "p", "div":
				text.WriteString(" " + w.inlineChildren(child) + " ")
			default:
				if !skipped[name] {
					text.WriteString(w.inline(child))
				}
			}
		})
		lines = append(lines, indent+marker+cleanInline(text.String()))
		lines = append(lines, nested...)
	})
	return strings.Join(lines, "\n")
}

func (w *writer) table(sel *goquery.Selection) string {
	var rows [][]string
	sel.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			text := cleanInline(w.inlineChildren(cell))
			row = append(row, strings.ReplaceAll(text, "|", `\|`))
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(" " + cell + " |")
		}
	}
	writeRow(rows[0])
	b.WriteString("\n|" + strings.Repeat(" --- |", width))
	for _, row := range rows[1:] {
		b.WriteString("\n")
		writeRow(row)
	}
	return b.String()
}

func (w *writer) inlineChildren(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		b.WriteString(w.inline(child))
	})
	return b.String()
}

func (w *writer) inline(sel *goquery.Selection) string {
	name := goquery.NodeName(sel)
	switch name {
	case "#text":
		return collapseSpace(sel.Text())
	case "br":
		return "\n"
	case "a":
		text := cleanInline(w.inlineChildren(sel))
		href, _ := sel.Attr("href")
		if abs, ok := resolve(w.base, href); ok {
			if text == "" {
				text = abs.String()
			}
			return "[" + text + "](" + abs.String() + ")"
		}
		return text
	case "strong", "b":
		return wrap(cleanInline(w.inlineChildren(sel)), "**")
	case "em", "i":
		return wrap(cleanInline(w.inlineChildren(sel)), "*")
	case "code", "kbd", "samp":
		return wrap(strings.TrimSpace(sel.Text()), "`")
	case "img":
		src, _ := sel.Attr("src")
		alt, _ := sel.Attr("alt")
		if abs, err := w.base.Parse(strings.TrimSpace(src)); err == nil && src != "" {
			return "![" + strings.TrimSpace(alt) + "](" + abs.String() + ")"
		}
		return ""
	default:
		if skipped[name] {
			return ""
		}
		return w.inlineChildren(sel)
	}
}

func wrap(s, marker string) string {
	if s == "" {
		return ""
	}
	return marker + s + marker
}

func collapseSpace(s string) string {
	if s == "" {
		return ""
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return " "
	}
	out := strings.Join(fields, " ")
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f'
}

// cleanInline trims each line and collapses runs of spaces left by
// element boundaries.
func cleanInline(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
