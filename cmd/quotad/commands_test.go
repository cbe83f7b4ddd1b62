package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZMB-UZH/omero-docker-extended/internal/config"
	"github.com/ZMB-UZH/omero-docker-extended/internal/journal"
	"github.com/ZMB-UZH/omero-docker-extended/internal/projmap"
	"github.com/ZMB-UZH/omero-docker-extended/internal/statedoc"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.StatePath = filepath.Join(base, "group-quotas.json")
	cfg.ManagedRoot = filepath.Join(base, "ManagedRepository")
	cfg.DataDir = filepath.Join(base, "quotad")
	return cfg
}

func readQuotas(t *testing.T, cfg *config.Config) map[string]float64 {
	t.Helper()
	doc, err := statedoc.Read(cfg.StatePath)
	if err != nil {
		t.Fatalf("read state document: %v", err)
	}
	return doc.QuotasGB
}

func TestRunSet_CreatesAndUpdatesDocument(t *testing.T) {
	cfg := testConfig(t)

	if err := runSet(cfg, "labA", 2.5, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := readQuotas(t, cfg)["labA"]; got != 2.5 {
		t.Errorf("expected 2.5 GB, got %g", got)
	}

	if err := runSet(cfg, "labA", 5, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := readQuotas(t, cfg)["labA"]; got != 5 {
		t.Errorf("expected 5 GB after update, got %g", got)
	}
}

func TestRunSet_DeleteRemovesGroup(t *testing.T) {
	cfg := testConfig(t)

	if err := runSet(cfg, "labA", 2.5, false); err != nil {
		t.Fatal(err)
	}
	if err := runSet(cfg, "labA", 0, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := readQuotas(t, cfg)["labA"]; ok {
		t.Error("expected labA to be removed from desired state")
	}
}

func TestRunSet_RequiresQuotaOrDelete(t *testing.T) {
	cfg := testConfig(t)

	if err := runSet(cfg, "labA", 0, false); err == nil {
		t.Fatal("expected error for missing quota value")
	}
	if _, err := os.Stat(cfg.StatePath); !os.IsNotExist(err) {
		t.Error("expected no state document to be written")
	}
}

func TestRunSet_RejectsBelowFloor(t *testing.T) {
	cfg := testConfig(t)

	if err := runSet(cfg, "labA", 0.01, false); err == nil {
		t.Fatal("expected below-floor quota to be rejected")
	}
	if _, err := os.Stat(cfg.StatePath); !os.IsNotExist(err) {
		t.Error("expected no state document to be written")
	}
}

func TestRunImport_MergesCSV(t *testing.T) {
	cfg := testConfig(t)
	if err := runSet(cfg, "existing", 1, false); err != nil {
		t.Fatal(err)
	}

	csvPath := filepath.Join(t.TempDir(), "quotas.csv")
	csv := "Group,Quota [GB]\nlabA,2.5\nlabB,100\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runImport(cfg, csvPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quotas := readQuotas(t, cfg)
	if quotas["labA"] != 2.5 || quotas["labB"] != 100 {
		t.Errorf("unexpected quotas after import: %v", quotas)
	}
	if quotas["existing"] != 1 {
		t.Error("import must not drop groups absent from the CSV")
	}
}

func TestRunImport_RejectsBadCSV(t *testing.T) {
	cfg := testConfig(t)

	csvPath := filepath.Join(t.TempDir(), "quotas.csv")
	if err := os.WriteFile(csvPath, []byte("Group,Quota [GB]\nlabA,not-a-number\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runImport(cfg, csvPath); err == nil {
		t.Fatal("expected error for non-numeric quota")
	}
	if _, err := os.Stat(cfg.StatePath); !os.IsNotExist(err) {
		t.Error("expected no state document to be written")
	}
}

func TestRunTemplate_RoundTrip(t *testing.T) {
	cfg := testConfig(t)
	if err := runSet(cfg, "labA", 2.5, false); err != nil {
		t.Fatal(err)
	}
	if err := runSet(cfg, "labB", 100, false); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "template.csv")
	if err := runTemplate(cfg, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh := testConfig(t)
	if err := runImport(fresh, out); err != nil {
		t.Fatalf("re-import of template failed: %v", err)
	}
	quotas := readQuotas(t, fresh)
	if quotas["labA"] != 2.5 || quotas["labB"] != 100 {
		t.Errorf("round trip lost values: %v", quotas)
	}
}

func TestRunTemplate_HeaderOnlyWithoutState(t *testing.T) {
	cfg := testConfig(t)

	out := filepath.Join(t.TempDir(), "template.csv")
	if err := runTemplate(cfg, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Group,Quota [GB]\n" {
		t.Errorf("expected bare header, got %q", string(data))
	}
}

func TestCollectMappings_Classification(t *testing.T) {
	rows := []projmap.Row{
		{Group: "labA", ProjectID: 200000, Path: "/OMERO/ManagedRepository/labA"},
		{Group: "labOld", ProjectID: 200001, Path: "/OMERO/ManagedRepository/labOld"},
	}
	quotas := map[string]float64{"labA": 2.5, "labNew": 1}

	mappings := collectMappings(rows, quotas)
	if len(mappings) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(mappings))
	}

	byGroup := map[string]mappingStatus{}
	for _, m := range mappings {
		byGroup[m.Group] = m
	}
	if byGroup["labA"].State != "active" || byGroup["labA"].QuotaGB != 2.5 {
		t.Errorf("labA misclassified: %+v", byGroup["labA"])
	}
	if byGroup["labOld"].State != "stale" {
		t.Errorf("labOld misclassified: %+v", byGroup["labOld"])
	}
	if byGroup["labNew"].State != "pending" || byGroup["labNew"].ProjectID != 0 {
		t.Errorf("labNew misclassified: %+v", byGroup["labNew"])
	}
}

func TestPrintStatus_Output(t *testing.T) {
	report := statusReport{
		Mappings: []mappingStatus{
			{Group: "labA", ProjectID: 200000, Path: "/OMERO/ManagedRepository/labA", QuotaGB: 2.5, State: "active"},
		},
		LastRun: &journal.RunRecord{
			RunID: "run-1", Trigger: "manual", StartedAt: time.Now(),
			Applied: 1, Outcome: "success",
		},
	}

	var sb strings.Builder
	printStatus(&sb, report)
	out := sb.String()

	for _, want := range []string{"labA", "200000", "2.5 GiB", "active", "Last run run-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatus_Empty(t *testing.T) {
	var sb strings.Builder
	printStatus(&sb, statusReport{})
	out := sb.String()

	if !strings.Contains(out, "No groups under management.") {
		t.Errorf("unexpected empty output:\n%s", out)
	}
	if !strings.Contains(out, "No reconciliation runs recorded yet.") {
		t.Errorf("expected no-runs line:\n%s", out)
	}
}
