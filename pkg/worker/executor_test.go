package worker

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/shellguard/internal/taskqueue"
	"github.com/petrijr/shellguard/pkg/api"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(DefaultShell); err != nil {
		t.Skipf("%s not available: %v", DefaultShell, err)
	}
}

func TestShellExecutor_Success(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	res, err := ShellExecutor{}.Execute(context.Background(), taskqueue.Task{
		Command:          api.CommandText,
		Parameter:        "pwd && echo oops >&2",
		WorkingDirectory: dir,
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, dir)
	require.Equal(t, "oops\n", res.Stderr)
}

func TestShellExecutor_ExitCode(t *testing.T) {
	requireShell(t)

	res, err := ShellExecutor{}.Execute(context.Background(), taskqueue.Task{
		Command:   api.CommandLine,
		Parameter: "exit 3",
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
}

func TestShellExecutor_Env(t *testing.T) {
	requireShell(t)

	res, err := ShellExecutor{Env: []string{"SHELLGUARD_TEST=42"}}.Execute(context.Background(), taskqueue.Task{
		Command:   api.CommandText,
		Parameter: "echo $SHELLGUARD_TEST",
	})
	require.NoError(t, err)
	require.Equal(t, "42\n", res.Stdout)
}

func TestShellExecutor_Timeout(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := ShellExecutor{}.Execute(ctx, taskqueue.Task{
		Command:   api.CommandText,
		Parameter: "sleep 5",
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, -1, res.ExitCode)
}

func TestShellExecutor_RejectsKeys(t *testing.T) {
	_, err := ShellExecutor{}.Execute(context.Background(), taskqueue.Task{
		Command:   api.CommandCombo,
		Parameter: "CTRL+C",
	})
	require.True(t, errors.Is(err, ErrUnsupportedCommand))
}

func TestEchoExecutor(t *testing.T) {
	res, err := EchoExecutor{}.Execute(context.Background(), taskqueue.Task{Command: api.CommandKey, Parameter: "ENTER"})
	require.NoError(t, err)
	require.Equal(t, "[KEY ENTER]\n", res.Stdout)

	res, err = EchoExecutor{}.Execute(context.Background(), taskqueue.Task{Command: "text", Parameter: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hi\n", res.Stdout)
}
