package statedoc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
)

func writeDoc(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "storage_quotas.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestReadValidDocument(t *testing.T) {
	path := writeDoc(t, t.TempDir(), `{
  "state_schema_version": 1,
  "quotas_gb": {"labA": 2.5, "labB": 100},
  "audit_log": [{"who": "admin", "when": "2026-08-01"}]
}`)

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.SchemaVersion != 1 {
		t.Errorf("schema version = %d, want 1", doc.SchemaVersion)
	}
	if got := doc.QuotasGB["labA"]; got != 2.5 {
		t.Errorf("labA = %v, want 2.5", got)
	}
	if got := doc.QuotasGB["labB"]; got != 100 {
		t.Errorf("labB = %v, want 100", got)
	}
}

func TestReadMissingFileIsPrecondition(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatal("expected error for missing document")
	}
	if !qerrors.IsCategory(err, qerrors.CategoryPrecondition) {
		t.Errorf("category = %v, want precondition", qerrors.GetCategory(err))
	}
}

func TestReadMalformedJSONIsPrecondition(t *testing.T) {
	path := writeDoc(t, t.TempDir(), `{"state_schema_version": 1, "quotas_gb": {`)

	_, err := Read(path)
	if err == nil {
		t.Fatal("expected error for malformed document")
	}
	if !qerrors.IsCategory(err, qerrors.CategoryPrecondition) {
		t.Errorf("category = %v, want precondition", qerrors.GetCategory(err))
	}
}

func TestReadUnsupportedVersion(t *testing.T) {
	for _, content := range []string{
		`{"state_schema_version": 2, "quotas_gb": {}}`,
		`{"quotas_gb": {"labA": 1}}`,
	} {
		path := writeDoc(t, t.TempDir(), content)
		_, err := Read(path)
		if err == nil {
			t.Fatalf("expected version error for %s", content)
		}
		if !qerrors.IsCategory(err, qerrors.CategoryPrecondition) {
			t.Errorf("category = %v, want precondition", qerrors.GetCategory(err))
		}
	}
}

func TestReadEmptyQuotasIsValid(t *testing.T) {
	path := writeDoc(t, t.TempDir(), `{"state_schema_version": 1}`)

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.QuotasGB == nil || len(doc.QuotasGB) != 0 {
		t.Errorf("quotas = %v, want empty map", doc.QuotasGB)
	}
}

func TestUpsertCreatesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage_quotas.json")

	err := Upsert(path, Changes{Set: map[string]float64{"labA": 2.5}}, 0.1)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("Read back: %v", err)
	}
	if got := doc.QuotasGB["labA"]; got != 2.5 {
		t.Errorf("labA = %v, want 2.5", got)
	}
}

func TestUpsertPreservesUnknownFields(t *testing.T) {
	path := writeDoc(t, t.TempDir(), `{
  "state_schema_version": 1,
  "quotas_gb": {"labA": 1},
  "audit_log": [{"who": "admin"}],
  "generated_by": "omeroweb 5.25"
}`)

	if err := Upsert(path, Changes{Set: map[string]float64{"labB": 3}}, 0.1); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("parse back: %v", err)
	}
	if raw["generated_by"] != "omeroweb 5.25" {
		t.Errorf("generated_by = %v, want preserved", raw["generated_by"])
	}
	if _, ok := raw["audit_log"]; !ok {
		t.Error("audit_log dropped on rewrite")
	}
	quotas := raw["quotas_gb"].(map[string]any)
	if quotas["labA"] != float64(1) || quotas["labB"] != float64(3) {
		t.Errorf("quotas = %v, want labA and labB", quotas)
	}
}

func TestUpsertRoundsToThreeDecimals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage_quotas.json")

	if err := Upsert(path, Changes{Set: map[string]float64{"labA": 1.23456}}, 0.1); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("Read back: %v", err)
	}
	if got := doc.QuotasGB["labA"]; got != 1.235 {
		t.Errorf("labA = %v, want 1.235", got)
	}
}

func TestUpsertRejectsBelowFloor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage_quotas.json")

	err := Upsert(path, Changes{Set: map[string]float64{"labA": 0.05}}, 0.1)
	if err == nil {
		t.Fatal("expected floor rejection")
	}
	if !qerrors.IsCategory(err, qerrors.CategoryValidation) {
		t.Errorf("category = %v, want validation", qerrors.GetCategory(err))
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("document written despite rejected change")
	}
}

func TestUpsertDeleteRemovesGroup(t *testing.T) {
	path := writeDoc(t, t.TempDir(), `{"state_schema_version": 1, "quotas_gb": {"labA": 1, "labB": 2}}`)

	if err := Upsert(path, Changes{Delete: []string{"labA", "ghost"}}, 0.1); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("Read back: %v", err)
	}
	if _, ok := doc.QuotasGB["labA"]; ok {
		t.Error("labA still present after delete")
	}
	if doc.QuotasGB["labB"] != 2 {
		t.Errorf("labB = %v, want 2", doc.QuotasGB["labB"])
	}
}

func TestUpsertRefusesGarbageFile(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "not json at all")

	err := Upsert(path, Changes{Set: map[string]float64{"labA": 1}}, 0.1)
	if err == nil {
		t.Fatal("expected error for unparseable document")
	}
}

func TestUpsertFallsBackToInPlaceRewrite(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not bind for root")
	}

	dir := t.TempDir()
	path := writeDoc(t, dir, `{"state_schema_version": 1, "quotas_gb": {"labA": 2.5}}`)
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatalf("chmod dir: %v", err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	if err := Upsert(path, Changes{Set: map[string]float64{"labA": 4}}, 0.1); err != nil {
		t.Fatalf("Upsert with read-only directory: %v", err)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := doc.QuotasGB["labA"]; got != 4 {
		t.Errorf("labA = %v, want 4", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestParseCSV(t *testing.T) {
	input := "Group,Quota [GB]\nlabA,2.5\n\nlabB,100\n"

	quotas, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(quotas) != 2 || quotas["labA"] != 2.5 || quotas["labB"] != 100 {
		t.Errorf("quotas = %v", quotas)
	}
}

func TestParseCSVRejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"wrong header": "Name,Size\nlabA,1\n",
		"not a number": "Group,Quota [GB]\nlabA,lots\n",
		"empty group":  "Group,Quota [GB]\n ,1\n",
		"duplicate":    "Group,Quota [GB]\nlabA,1\nlabA,2\n",
		"extra column": "Group,Quota [GB]\nlabA,1,surprise\n",
	}
	for name, input := range cases {
		if _, err := ParseCSV(strings.NewReader(input)); err == nil {
			t.Errorf("%s: expected error", name)
		} else if !qerrors.IsCategory(err, qerrors.CategoryValidation) {
			t.Errorf("%s: category = %v, want validation", name, qerrors.GetCategory(err))
		}
	}
}

func TestWriteCSVSorted(t *testing.T) {
	var buf strings.Builder
	err := WriteCSV(&buf, map[string]float64{"labB": 100, "labA": 2.5})
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	want := "Group,Quota [GB]\nlabA,2.5\nlabB,100\n"
	if buf.String() != want {
		t.Errorf("csv = %q, want %q", buf.String(), want)
	}
}
