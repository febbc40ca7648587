package change

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	headingPattern = regexp.MustCompile(`^(#{1,6})(?:\s+(.*))?$`)
	orderedPattern = regexp.MustCompile(`^\d{1,9}[.)](\s|$)`)
	imagePattern   = regexp.MustCompile(`^!\[[^\]]*\]\([^)]*\)$`)
)

type blockKind string

const (
	blockNone      blockKind = ""
	blockParagraph blockKind = "p"
	blockList      blockKind = "list"
	blockOrdered   blockKind = "olist"
	blockTable     blockKind = "table"
	blockQuote     blockKind = "quote"
)

// Skeleton reduces markdown to one line per block. Headings keep their level
// and normalized text, tables keep their column count, lists keep their item
// count; paragraph, quote and code contents are dropped. Editing prose
// inside a block leaves the skeleton unchanged.
func Skeleton(markdown string) string {
	var (
		out   []string
		open  blockKind
		count int
		fence string
	)
	flush := func() {
		switch open {
		case blockNone:
		case blockList, blockOrdered:
			out = append(out, string(open)+" items="+strconv.Itoa(count))
		case blockTable:
			out = append(out, "table cols="+strconv.Itoa(count))
		default:
			out = append(out, string(open))
		}
		open, count = blockNone, 0
	}
	start := func(kind blockKind) {
		if open != kind {
			flush()
			open = kind
		}
	}

	markdown = strings.ReplaceAll(markdown, "\r\n", "\n")
	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimSpace(raw)
		if fence != "" {
			if strings.HasPrefix(line, fence) {
				fence = ""
			}
			continue
		}
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~"):
			flush()
			fence = line[:3]
			out = append(out, "code")
		case headingPattern.MatchString(line):
			flush()
			m := headingPattern.FindStringSubmatch(line)
			out = append(out, "h"+strconv.Itoa(len(m[1]))+" "+normalizeText(strings.TrimRight(m[2], "# ")))
		case isRule(line):
			flush()
			out = append(out, "rule")
		case strings.HasPrefix(line, "|"):
			if open != blockTable {
				flush()
				open = blockTable
				count = tableColumns(line)
			}
		case strings.HasPrefix(line, ">"):
			start(blockQuote)
		case isBullet(line):
			start(blockList)
			count++
		case orderedPattern.MatchString(line):
			start(blockOrdered)
			count++
		case imagePattern.MatchString(line):
			flush()
			out = append(out, "image")
		default:
			// Lazy continuation lines stay inside lists and paragraphs.
			if open == blockList || open == blockOrdered || open == blockParagraph {
				continue
			}
			start(blockParagraph)
		}
	}
	flush()
	return strings.Join(out, "\n")
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func isRule(line string) bool {
	compact := strings.ReplaceAll(line, " ", "")
	if len(compact) < 3 {
		return false
	}
	c := compact[0]
	if c != '-' && c != '*' && c != '_' {
		return false
	}
	return strings.Count(compact, string(c)) == len(compact)
}

func isBullet(line string) bool {
	if len(line) < 2 {
		return false
	}
	switch line[0] {
	case '-', '*', '+':
		return line[1] == ' ' || line[1] == '\t'
	default:
		return false
	}
}

func tableColumns(row string) int {
	row = strings.TrimSpace(row)
	row = strings.TrimPrefix(row, "|")
	row = strings.TrimSuffix(row, "|")
	return len(strings.Split(row, "|"))
}
