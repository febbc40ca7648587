package convert

import (
	"net/url"
	"path"
	"strings"
)

// Format is the declared document format, derived from a URL extension.
type Format int

// Supported formats. FormatUnsupported covers every other extension.
const (
	FormatUnsupported Format = iota
	FormatPDF
	FormatWord
	FormatExcel
	FormatCSV
)

var formatExtensions = map[Format][]string{
	FormatPDF:   {"pdf"},
	FormatWord:  {"doc", "docx"},
	FormatExcel: {"xls", "xlsx"},
	FormatCSV:   {"csv"},
}

var extensionFormats = func() map[string]Format {
	out := make(map[string]Format)
	for f, exts := range formatExtensions {
		for _, ext := range exts {
			out[ext] = f
		}
	}
	return out
}()

// String returns the lowercase format name.
func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatWord:
		return "word"
	case FormatExcel:
		return "excel"
	case FormatCSV:
		return "csv"
	default:
		return "unsupported"
	}
}

// Supported reports whether a converter exists for f.
func (f Format) Supported() bool {
	return f != FormatUnsupported
}

// Extensions lists the extensions (without dot) that map to f.
func (f Format) Extensions() []string {
	return append([]string(nil), formatExtensions[f]...)
}

// SupportedExtensions lists every convertible extension.
func SupportedExtensions() []string {
	return []string{"pdf", "doc", "docx", "xls", "xlsx", "csv"}
}

// Extension returns the lowercase extension of the URL path without the dot.
func Extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

// DetectFormat maps a URL to its declared format by extension, case-insensitively.
func DetectFormat(rawURL string) Format {
	return FormatForExtension(Extension(rawURL))
}

// FormatForExtension maps a bare extension (with or without dot) to a format.
func FormatForExtension(ext string) Format {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if f, ok := extensionFormats[ext]; ok {
		return f
	}
	return FormatUnsupported
}
