// Package statedoc reads and writes the desired-state document shared with
// the web service. The agent side only ever reads; the producer side (the
// set/import commands) rewrites quotas_gb while leaving every other field of
// the document untouched.
package statedoc

import (
	"encoding/json"
	"fmt"
	"os"

	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
)

// SchemaVersion is the document schema this agent understands.
const SchemaVersion = 1

// Document is the agent's view of the desired state. Unknown top-level
// fields (the web service keeps its own logs in the same file) are ignored.
type Document struct {
	SchemaVersion int                `json:"state_schema_version"`
	QuotasGB      map[string]float64 `json:"quotas_gb"`
}

// Read loads and validates the desired-state document. Any failure here is
// a run-level precondition: without a trustworthy desired set, cleanup could
// wipe live quotas.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.StateDocUnreadable(path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, qerrors.StateDocUnreadable(path, fmt.Errorf("malformed JSON: %w", err))
	}

	if doc.SchemaVersion != SchemaVersion {
		return nil, qerrors.UnsupportedSchemaVersion(path, doc.SchemaVersion)
	}

	if doc.QuotasGB == nil {
		doc.QuotasGB = make(map[string]float64)
	}
	return &doc, nil
}
