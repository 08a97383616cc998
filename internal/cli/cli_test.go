package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

func TestBuild(t *testing.T) {
	t.Setenv("REPAIRTAG_CONFIG", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("REPAIRTAG_LLM_API_KEY", "")
	dir := t.TempDir()
	promFile := filepath.Join(dir, "repairtag.prom")
	t.Setenv("REPAIRTAG_METRICS_TEXTFILE", promFile)

	ctx := context.Background()
	env, cleanup, err := Build(ctx, Options{DBPath: filepath.Join(dir, "sub", "test.db"), WithLLM: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := env.Engine.Store().CreateTag(ctx, "상판 휨", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Import(ctx, store.UploadedFile{Filename: "a", FileHash: "h", YearMonth: "2025-01"},
		[]store.Case{{YearMonth: "2025-01", ActionNotes: "상판 휨"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Resolver.ResolveMonth(ctx, "2025-01", nil); err != nil {
		t.Fatal(err)
	}
	cleanup()

	data, err := os.ReadFile(promFile)
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(data), "repairtag_") {
		t.Errorf("textfile has no repairtag metrics:\n%s", data)
	}
}

func TestBuildBadConfig(t *testing.T) {
	if _, _, err := Build(context.Background(), Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSON(&buf, map[string]int{"케이스": 2}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\n  \"케이스\": 2\n}\n" {
		t.Errorf("got %q", buf.String())
	}
}
