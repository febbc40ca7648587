// Package convert turns downloaded documents into markdown.
//
// Dispatch is by declared format. CSV and .xlsx workbooks are rendered as
// pipe tables in-process; PDF, Word and legacy .xls workbooks go through an
// external Engine.
package convert

import (
	"bytes"
	"context"
	"errors"
	"strings"
)

// oleMagic prefixes legacy Office (.doc, .xls) compound files.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

type handler func(ctx context.Context, data []byte) (string, error)

// Converter dispatches payloads to the handler for their format.
type Converter struct {
	engine   Engine
	handlers map[Format]handler
}

// New builds a Converter. engine may be nil, in which case engine-backed
// formats fail with a ConversionError.
func New(engine Engine) *Converter {
	c := &Converter{engine: engine}
	c.handlers = map[Format]handler{
		FormatPDF:   c.convertPDF,
		FormatWord:  c.convertWord,
		FormatExcel: c.convertExcel,
		FormatCSV:   c.convertCSV,
	}
	return c
}

// Convert returns markdown for data. Unsupported formats return
// ErrUnsupportedFormat; handler failures return *ConversionError.
func (c *Converter) Convert(ctx context.Context, data []byte, format Format) (string, error) {
	h, ok := c.handlers[format]
	if !ok {
		return "", ErrUnsupportedFormat
	}
	if err := ctx.Err(); err != nil {
		return "", &ConversionError{Format: format, Err: err}
	}
	md, err := h(ctx, data)
	if err != nil {
		var convErr *ConversionError
		if errors.As(err, &convErr) {
			return "", err
		}
		return "", &ConversionError{Format: format, Err: err}
	}
	return md, nil
}

// Handles reports whether the dispatch table has an entry for format.
func (c *Converter) Handles(format Format) bool {
	_, ok := c.handlers[format]
	return ok
}

func (c *Converter) convertCSV(_ context.Context, data []byte) (string, error) {
	rows, err := readCSV(data)
	if err != nil {
		return "", err
	}
	return renderTable(rows)
}

func (c *Converter) convertExcel(ctx context.Context, data []byte) (string, error) {
	if bytes.HasPrefix(data, oleMagic) {
		out, err := c.runEngine(ctx, "xls", data)
		if err != nil {
			return "", err
		}
		rows, err := readCSV(out)
		if err != nil {
			return "", err
		}
		return renderTable(rows)
	}
	rows, err := readXLSX(data)
	if err != nil {
		return "", err
	}
	return renderTable(rows)
}

func (c *Converter) convertPDF(ctx context.Context, data []byte) (string, error) {
	out, err := c.runEngine(ctx, "pdf", data)
	if err != nil {
		return "", err
	}
	return normalizeText(out), nil
}

func (c *Converter) convertWord(ctx context.Context, data []byte) (string, error) {
	kind := "docx"
	if bytes.HasPrefix(data, oleMagic) {
		kind = "doc"
	}
	out, err := c.runEngine(ctx, kind, data)
	if err != nil {
		return "", err
	}
	return normalizeText(out), nil
}

func (c *Converter) runEngine(ctx context.Context, kind string, data []byte) ([]byte, error) {
	if c.engine == nil {
		return nil, errors.New("no conversion engine configured")
	}
	return c.engine.Run(ctx, kind, data)
}

// normalizeText trims trailing whitespace per line, drops form feeds, and
// ends the output with one newline.
func normalizeText(raw []byte) string {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\f", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Trim(strings.Join(lines, "\n"), "\n")
	if text == "" {
		return ""
	}
	return text + "\n"
}
