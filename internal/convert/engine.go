package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// InputPlaceholder is replaced by the temp file path in command templates.
const InputPlaceholder = "{input}"

// Engine converts a binary payload to text. Kind is the payload's file
// extension without the dot ("pdf", "docx", "doc", "xls"). Engines do not
// retry.
type Engine interface {
	Run(ctx context.Context, kind string, data []byte) ([]byte, error)
}

// DefaultCommands are the command templates used when none are configured.
// Each command writes its result to stdout.
func DefaultCommands() map[string][]string {
	return map[string][]string{
		"pdf":  {"pdftotext", "-layout", "-enc", "UTF-8", InputPlaceholder, "-"},
		"docx": {"pandoc", "--wrap=none", "-f", "docx", "-t", "gfm", InputPlaceholder},
		"doc":  {"antiword", InputPlaceholder},
		"xls":  {"xls2csv", "-d", "utf-8", InputPlaceholder},
	}
}

// ExecEngine runs external commands against a temp copy of the payload.
type ExecEngine struct {
	commands map[string][]string
	tempDir  string
	logger   *zap.Logger
}

// ExecOption customizes an ExecEngine.
type ExecOption func(*ExecEngine)

// WithTempDir sets the directory for intermediate files.
func WithTempDir(dir string) ExecOption {
	return func(e *ExecEngine) { e.tempDir = dir }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) ExecOption {
	return func(e *ExecEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecEngine builds an engine. Kinds missing from commands fall back to DefaultCommands.
func NewExecEngine(commands map[string][]string, opts ...ExecOption) *ExecEngine {
	merged := DefaultCommands()
	for kind, argv := range commands {
		if len(argv) > 0 {
			merged[strings.ToLower(kind)] = append([]string(nil), argv...)
		}
	}
	e := &ExecEngine{commands: merged, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run writes data to a temp file, runs the kind's command, and returns stdout.
// The temp file is removed before Run returns.
func (e *ExecEngine) Run(ctx context.Context, kind string, data []byte) (out []byte, err error) {
	template, ok := e.commands[kind]
	if !ok || len(template) == 0 {
		return nil, fmt.Errorf("no command configured for %q", kind)
	}

	tmp, err := os.CreateTemp(e.tempDir, "convert-*."+kind)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.logger.Warn("remove temp file failed", zap.String("path", path), zap.Error(rmErr))
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = strings.ReplaceAll(arg, InputPlaceholder, path)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running converter", zap.String("kind", kind), zap.String("command", argv[0]))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}
	return stdout.Bytes(), nil
}
