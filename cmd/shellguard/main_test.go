package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"SHELLGUARD_ASSESSOR", "SHELLGUARD_ID_MODE", "SHELLGUARD_AUDIT_BACKEND", "SHELLGUARD_AUDIT_DSN", "SHELLGUARD_QUEUE", "SHELLGUARD_DRY_RUN"} {
		t.Setenv(k, "")
	}
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, auditDSN string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `
ids:
  mode: sequential
workers:
  concurrency: 1
  dry_run: true
cleanup:
  interval: 0s
log:
  level: error
`
	if auditDSN != "" {
		cfg += "audit:\n  backend: sqlite\n  dsn: " + auditDSN + "\n"
	}
	path := filepath.Join(dir, "shellguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "shellguard version dev")
}

func TestAssess(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"assess", "--", "rm", "-rf", "/"}, "score=90 level=CRITICAL requires_approval=true"},
		{[]string{"assess", "ls"}, "score=10 level=LOW requires_approval=false"},
		{[]string{"assess", "--", "sudo", "apt", "update"}, "score=70 level=HIGH requires_approval=true"},
		{[]string{"assess", "--assessor", "fail-safe", "ls"}, "score=90 level=CRITICAL requires_approval=true"},
		{[]string{"assess", "--type", "COMBO", "CTRL+C"}, "score=70 level=HIGH requires_approval=true"},
	}
	for _, tc := range cases {
		t.Run(strings.Join(tc.args[1:], " "), func(t *testing.T) {
			out, err := execute(t, "", tc.args...)
			require.NoError(t, err)
			require.Equal(t, tc.want+"\n", out)
		})
	}
}

func TestAssess_UnknownAssessor(t *testing.T) {
	_, err := execute(t, "", "assess", "--assessor", "nope", "ls")
	require.Error(t, err)
}

func TestRun_ReviewLoop(t *testing.T) {
	cfg := writeConfig(t, "")
	input := strings.Join([]string{
		"rm -rf /tmp/build",
		":pending",
		":reject cmd-001 use make clean",
		":pending",
		":history",
		":approve cmd-999",
		":approve",
		":bogus",
		":quit",
		"never submitted",
	}, "\n")

	out, err := execute(t, input, "--config", cfg, "run", "--session", "tty1")
	require.NoError(t, err)

	require.Contains(t, out, "[tty1] Action 'TEXT' submitted for processing")
	require.Contains(t, out, "cmd-001 held for approval (risk CRITICAL(90))")
	require.Contains(t, out, "[tty1] Action rejected by")
	require.Contains(t, out, "use make clean")
	require.Contains(t, out, "no pending actions")
	require.Contains(t, out, "REJECTED")
	require.Contains(t, out, "approve: cmd-999 is not pending approval")
	require.Contains(t, out, "usage: :approve <id>")
	require.Contains(t, out, "unknown command :bogus")
	require.NotContains(t, out, "cmd-002")
}

func TestRun_AcceptsLowRisk(t *testing.T) {
	cfg := writeConfig(t, "")
	out, err := execute(t, "pwd\n:stats\n", "--config", cfg, "run")
	require.NoError(t, err)
	require.Contains(t, out, "cmd-001 accepted (risk LOW(10))")
	require.Contains(t, out, "total=")
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audit:\n  backend: tape\n"), 0o600))

	_, err := execute(t, "", "--config", path, "run")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown audit backend")
}

func TestHistory_ReadsPersistedRecords(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	cfg := writeConfig(t, dsn)

	_, err := execute(t, "sudo reboot now\n:reject cmd-001 not today\n:quit\n", "--config", cfg, "run")
	require.NoError(t, err)

	out, err := execute(t, "", "--config", cfg, "history", "--status", "rejected")
	require.NoError(t, err)
	require.Contains(t, out, "cmd-001")
	require.Contains(t, out, "CRITICAL(90)")
	require.Contains(t, out, "1 actions: 0 completed, 0 failed, 1 rejected")

	out, err = execute(t, "", "--config", cfg, "history", "--json")
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	require.Equal(t, "not today", recs[0]["Reason"])

	out, err = execute(t, "", "--config", cfg, "history", "--status", "completed")
	require.NoError(t, err)
	require.Contains(t, out, "no finished actions")
}
