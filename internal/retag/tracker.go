// Package retag persists which group subtrees have completed their one-time
// project-id retag. A marker file exists only after a walk tagged every
// entry successfully; a crash mid-walk leaves no marker, and the next run
// redoes the whole walk (tagging is idempotent, so redoing is safe).
package retag

import (
	"fmt"
	"os"
	"path/filepath"

	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
)

// Tracker records retag completion as marker files in a dedicated directory.
type Tracker struct {
	dir string
}

// NewTracker creates the marker directory if needed.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, qerrors.Wrap(err, qerrors.CategoryRetag, qerrors.SeverityFatal,
			"failed to create marker directory").WithContext("path", dir)
	}
	return &Tracker{dir: dir}, nil
}

// Done reports whether the (group, id) subtree has a completed retag.
func (t *Tracker) Done(group string, id uint32) bool {
	_, err := os.Stat(t.markerPath(group, id))
	return err == nil
}

// MarkDone records a fully successful walk. Callers must not invoke this
// until every entry of the subtree carries the project id.
func (t *Tracker) MarkDone(group string, id uint32) error {
	path := t.markerPath(group, id)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return qerrors.Wrap(err, qerrors.CategoryRetag, qerrors.SeverityError,
			"failed to write retag marker").WithContext("path", path)
	}
	return nil
}

// Clear removes the marker so a future re-add of the group retags from
// scratch. Clearing an absent marker is a no-op.
func (t *Tracker) Clear(group string, id uint32) error {
	path := t.markerPath(group, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return qerrors.Wrap(err, qerrors.CategoryRetag, qerrors.SeverityError,
			"failed to remove retag marker").WithContext("path", path)
	}
	return nil
}

// markerPath names markers <group>.<id>.retagged. Group names reaching this
// point have passed the safety checks, so they cannot escape the directory.
func (t *Tracker) markerPath(group string, id uint32) string {
	return filepath.Join(t.dir, fmt.Sprintf("%s.%d.retagged", group, id))
}
