package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig writes a studio.yaml with an sqlite ledger and document
// directory inside a temp dir and returns its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := "database:\n" +
		"  driver: sqlite\n" +
		"  dsn: " + filepath.Join(dir, "studio.db") + "\n" +
		"documents:\n" +
		"  dir: " + filepath.Join(dir, "documents") + "\n" +
		"inference:\n" +
		"  provider: offline\n" + extra
	path := filepath.Join(dir, "studio.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "studio dev") {
		t.Errorf("expected output to contain 'studio dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	for _, want := range []string{"studio 1.0.0", "commit: abc123", "built: 2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	for _, want := range []string{"multi-persona", "serve", "usage", "db"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected help output to contain %q, got: %s", want, out)
		}
	}
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"no-such-command"})
	if code := execute(cmd); code != 1 {
		t.Errorf("execute = %d, want 1", code)
	}
}

func TestLoadConfig_MissingExplicitPath(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want it to mention load config", err)
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: \":9100\"\n")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Listen != ":9100" {
		t.Errorf("Listen = %q, want %q", cfg.Server.Listen, ":9100")
	}
	if cfg.Inference.Provider != "offline" {
		t.Errorf("Provider = %q, want %q", cfg.Inference.Provider, "offline")
	}
}

func TestDBMigrateCmd(t *testing.T) {
	path := writeConfig(t, "")
	out, err := runCmd(t, "db", "migrate", "-c", path)
	if err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Connected to sqlite database") {
		t.Errorf("output = %q, want connection line", out)
	}
	if !strings.Contains(out, "Migrated 1 tables") {
		t.Errorf("output = %q, want migration count", out)
	}
}
