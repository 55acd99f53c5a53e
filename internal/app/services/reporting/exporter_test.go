package reporting

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestWriteSnapshot(t *testing.T) {
	svc, _ := seed(t)
	dir := t.TempDir()

	exporter := NewExporter(svc, dir, "", nil)
	path, err := exporter.WriteSnapshot(context.Background())
	if err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	out := string(data)
	if !strings.HasPrefix(out, CSVHeader+"\n") {
		t.Fatalf("snapshot missing header: %q", out)
	}
	if strings.Count(out, "\n") != 5 {
		t.Fatalf("expected header + 4 rows, got:\n%s", out)
	}
	if !strings.Contains(path, "all_payments_") {
		t.Fatalf("unexpected file name: %s", path)
	}
}

func TestExporterLifecycleWithoutSchedule(t *testing.T) {
	svc, _ := seed(t)

	exporter := NewExporter(svc, t.TempDir(), "", nil)
	if err := exporter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := exporter.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestExporterRejectsBadSchedule(t *testing.T) {
	svc, _ := seed(t)

	exporter := NewExporter(svc, t.TempDir(), "not-a-cron-expr", nil)
	if err := exporter.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
