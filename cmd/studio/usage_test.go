package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/danilop/ai-doc-read-studio/internal/db"
	"github.com/danilop/ai-doc-read-studio/internal/generator"
	"github.com/danilop/ai-doc-read-studio/internal/usage"
)

func seedLedger(t *testing.T, configPath string) {
	t.Helper()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close(gormDB)
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ledger, err := usage.New(usage.Opts{DB: gormDB})
	if err != nil {
		t.Fatalf("usage.New: %v", err)
	}
	ctx := context.Background()
	ledger.Record(ctx, generator.Attempt{SessionID: "s1", Agent: "Alice", Kind: generator.KindDiscussion, Model: "gemini-2.0-flash", InputTokens: 1000, OutputTokens: 234})
	ledger.Record(ctx, generator.Attempt{SessionID: "s2", Agent: "Bob", Kind: generator.KindDiscussion, Model: "gemini-2.0-flash", InputTokens: 10, OutputTokens: 5})
}

func TestUsageCmd_Session(t *testing.T) {
	path := writeConfig(t, "")
	seedLedger(t, path)

	out, err := runCmd(t, "usage", "-c", path, "--session", "s1")
	if err != nil {
		t.Fatalf("usage: %v\n%s", err, out)
	}
	for _, want := range []string{"Session s1", "1,234", "Alice", "gemini-2.0-flash"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Bob") {
		t.Errorf("output includes another session's agent:\n%s", out)
	}
}

func TestUsageCmd_Totals(t *testing.T) {
	path := writeConfig(t, "")
	seedLedger(t, path)

	out, err := runCmd(t, "usage", "-c", path)
	if err != nil {
		t.Fatalf("usage: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Sessions:    2") {
		t.Errorf("output missing session count:\n%s", out)
	}
	if !strings.Contains(out, "1,249") {
		t.Errorf("output missing total tokens:\n%s", out)
	}
}

func TestPrintBreakdown_Empty(t *testing.T) {
	buf := new(bytes.Buffer)
	printBreakdown(buf, "By model", nil)
	if buf.Len() != 0 {
		t.Errorf("printBreakdown(nil) wrote %q", buf.String())
	}
}
