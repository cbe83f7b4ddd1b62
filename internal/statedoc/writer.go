package statedoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
)

// Changes is a batch of edits to the quotas_gb mapping. Set entries are
// validated against the floor and stored rounded to three decimals; Delete
// entries are removed if present.
type Changes struct {
	Set    map[string]float64
	Delete []string
}

// Upsert applies changes to the document at path, creating it when absent.
// All fields other than quotas_gb are carried through byte-for-byte at the
// JSON value level, so the web service's own bookkeeping in the same file
// survives agent-side edits.
func Upsert(path string, changes Changes, minQuotaGB float64) error {
	for group, gb := range changes.Set {
		if group == "" {
			return qerrors.ValidationFailed("group", "group name must not be empty")
		}
		if gb < minQuotaGB {
			return qerrors.ValidationFailed("quota_gb",
				fmt.Sprintf("quota %g GB for %q is below the %g GB floor", gb, group, minQuotaGB))
		}
	}

	raw, err := readRaw(path)
	if err != nil {
		return err
	}

	quotas := rawQuotas(raw)
	for group, gb := range changes.Set {
		quotas[group] = math.Round(gb*1000) / 1000
	}
	for _, group := range changes.Delete {
		delete(quotas, group)
	}
	raw["state_schema_version"] = SchemaVersion
	raw["quotas_gb"] = quotas

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return qerrors.InternalError("encode desired-state document", err)
	}
	data = append(data, '\n')

	return writeDocument(path, data)
}

// readRaw loads the document as a generic JSON object so fields the agent
// does not model are preserved across rewrites. A missing file starts a
// fresh document; a present but unparseable one is an error, because an
// Upsert over garbage would silently discard whatever the garbage was.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, qerrors.StateDocUnreadable(path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, qerrors.StateDocUnreadable(path, fmt.Errorf("malformed JSON: %w", err))
	}
	return raw, nil
}

func rawQuotas(raw map[string]any) map[string]any {
	if existing, ok := raw["quotas_gb"].(map[string]any); ok {
		return existing
	}
	return map[string]any{}
}

// writeDocument prefers an atomic same-directory replace. Deployments where
// the agent owns the file but not its directory cannot create the temp file,
// so a truncate-and-rewrite of the existing file is the fallback. Only when
// both paths fail does the caller see an error, spelling out which access is
// missing.
func writeDocument(path string, data []byte) error {
	// The first producer write may precede the directory itself.
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	tmp := path + ".tmp"
	atomicErr := func() error {
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return err
		}
		return nil
	}()
	if atomicErr == nil {
		return nil
	}

	if f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr == nil && cerr == nil {
			return nil
		}
		if werr == nil {
			werr = cerr
		}
		return qerrors.Wrap(werr, qerrors.CategoryApply, qerrors.SeverityError,
			fmt.Sprintf("rewrite desired-state document %s in place", path))
	}

	return qerrors.Wrap(atomicErr, qerrors.CategoryApply, qerrors.SeverityError,
		fmt.Sprintf("write desired-state document %s: need write access to the file or create access in %s",
			path, filepath.Dir(path)))
}
