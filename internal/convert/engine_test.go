package convert

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestExecEngineRunsCommandAndRemovesTempFile(t *testing.T) {
	t.Parallel()
	requireCommand(t, "cat")

	dir := t.TempDir()
	engine := NewExecEngine(map[string][]string{"pdf": {"cat", InputPlaceholder}}, WithTempDir(dir))
	out, err := engine.Run(context.Background(), "pdf", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(out))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExecEngineFailureRemovesTempFile(t *testing.T) {
	t.Parallel()
	requireCommand(t, "false")

	dir := t.TempDir()
	engine := NewExecEngine(map[string][]string{"docx": {"false", InputPlaceholder}}, WithTempDir(dir))
	_, err := engine.Run(context.Background(), "docx", []byte("PK"))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExecEngineUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := NewExecEngine(nil).Run(context.Background(), "rtf", nil)
	require.Error(t, err)
}

func TestNewExecEngineKeepsDefaults(t *testing.T) {
	t.Parallel()

	engine := NewExecEngine(map[string][]string{"PDF": {"mutool", "draw", InputPlaceholder}})
	require.Equal(t, []string{"mutool", "draw", InputPlaceholder}, engine.commands["pdf"])
	require.Equal(t, DefaultCommands()["docx"], engine.commands["docx"])
}
