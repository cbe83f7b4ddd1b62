// Package projmap persists the two flat mapping files that tie group names
// to ext4 project ids and project ids to directories. The files are the
// durable allocation record; losing them would orphan quota assignments, so
// every mutation is written through atomically and unparsable files abort
// the caller instead of being rewritten.
package projmap

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
)

// Row is one group's mapping, joined across both files.
type Row struct {
	Group     string
	ProjectID uint32
	Path      string
}

// Store holds both mapping files in memory. Access is serialized internally;
// callers additionally hold the host-wide enforcement lock while mutating.
type Store struct {
	groupsPath string
	pathsPath  string

	mu     sync.Mutex
	groups map[string]uint32 // group name -> project id
	paths  map[uint32]string // project id -> absolute path
}

// Open loads both mapping files. Missing files mean a fresh host and yield
// an empty store. A line that does not parse is a precondition failure:
// saves rewrite files wholesale, and rewriting around rows we could not
// read would silently drop live allocations.
func Open(groupsPath, pathsPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(groupsPath), 0o755); err != nil {
		return nil, qerrors.Wrap(err, qerrors.CategoryMapping, qerrors.SeverityFatal,
			"failed to create mapping directory")
	}

	s := &Store{
		groupsPath: groupsPath,
		pathsPath:  pathsPath,
		groups:     make(map[string]uint32),
		paths:      make(map[uint32]string),
	}

	if err := s.loadGroups(); err != nil {
		return nil, err
	}
	if err := s.loadPaths(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadGroups() error {
	data, err := os.ReadFile(s.groupsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return qerrors.Wrap(err, qerrors.CategoryPrecondition, qerrors.SeverityError,
			"failed to read group mapping file").WithContext("path", s.groupsPath)
	}

	for i, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		name, idStr, found := strings.Cut(line, ":")
		if !found || name == "" {
			return qerrors.MappingFileCorrupt(s.groupsPath, i+1,
				fmt.Errorf("expected group_name:project_id"))
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return qerrors.MappingFileCorrupt(s.groupsPath, i+1,
				fmt.Errorf("bad project id %q: %w", idStr, err))
		}
		if _, dup := s.groups[name]; dup {
			return qerrors.MappingFileCorrupt(s.groupsPath, i+1,
				fmt.Errorf("duplicate group %q", name))
		}
		s.groups[name] = uint32(id)
	}
	return nil
}

func (s *Store) loadPaths() error {
	data, err := os.ReadFile(s.pathsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return qerrors.Wrap(err, qerrors.CategoryPrecondition, qerrors.SeverityError,
			"failed to read path mapping file").WithContext("path", s.pathsPath)
	}

	for i, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		// Split at the first colon only: directory paths may contain colons.
		idStr, dir, found := strings.Cut(line, ":")
		if !found || dir == "" {
			return qerrors.MappingFileCorrupt(s.pathsPath, i+1,
				fmt.Errorf("expected project_id:absolute_path"))
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return qerrors.MappingFileCorrupt(s.pathsPath, i+1,
				fmt.Errorf("bad project id %q: %w", idStr, err))
		}
		if _, dup := s.paths[uint32(id)]; dup {
			return qerrors.MappingFileCorrupt(s.pathsPath, i+1,
				fmt.Errorf("duplicate project id %d", id))
		}
		s.paths[uint32(id)] = dir
	}
	return nil
}

// Lookup returns the mapping row for a group, if one exists. A group row
// without a matching path row yields ok=false path="".
func (s *Store) Lookup(group string) (uint32, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.groups[group]
	if !ok {
		return 0, "", false
	}
	return id, s.paths[id], true
}

// Groups returns all mapped group names, sorted.
func (s *Store) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns all rows joined across both files, sorted by group name.
func (s *Store) Snapshot() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]Row, 0, len(s.groups))
	for name, id := range s.groups {
		rows = append(rows, Row{Group: name, ProjectID: id, Path: s.paths[id]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Group < rows[j].Group })
	return rows
}

// ResolveOrAllocate returns the project id for (group, path), allocating a
// new one when neither the group nor the path has ever been mapped. New ids
// are max(all ids across both files, firstID-1)+1, so an id is never reused
// while any row still references it. Both files are rewritten before the id
// is returned; conflicting rows for the same group or path are pruned so
// re-application never duplicates.
func (s *Store) ResolveOrAllocate(group, path string, firstID uint32) (uint32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allocated := false
	id, ok := s.groups[group]
	if !ok {
		if existing, found := s.idByPath(path); found {
			id = existing
		} else {
			id = s.nextID(firstID)
			allocated = true
		}
	}

	for g, gid := range s.groups {
		if g != group && gid == id {
			delete(s.groups, g)
		}
	}
	for pid, p := range s.paths {
		if p == path && pid != id {
			delete(s.paths, pid)
		}
	}

	s.groups[group] = id
	s.paths[id] = path

	if err := s.saveUnsafe(); err != nil {
		return 0, false, err
	}
	return id, allocated, nil
}

// Remove deletes both rows for a group and persists. Removing an unmapped
// group is a no-op.
func (s *Store) Remove(group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.groups[group]
	if !ok {
		return nil
	}
	delete(s.groups, group)
	delete(s.paths, id)
	return s.saveUnsafe()
}

func (s *Store) idByPath(path string) (uint32, bool) {
	for id, p := range s.paths {
		if p == path {
			return id, true
		}
	}
	return 0, false
}

func (s *Store) nextID(firstID uint32) uint32 {
	max := firstID - 1
	for _, id := range s.groups {
		if id > max {
			max = id
		}
	}
	for id := range s.paths {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// saveUnsafe rewrites both files wholesale. Rows are sorted so the files
// are stable under re-application.
func (s *Store) saveUnsafe() error {
	var groupLines []string
	for name, id := range s.groups {
		groupLines = append(groupLines, fmt.Sprintf("%s:%d", name, id))
	}
	sort.Strings(groupLines)

	ids := make([]uint32, 0, len(s.paths))
	for id := range s.paths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var pathLines []string
	for _, id := range ids {
		pathLines = append(pathLines, fmt.Sprintf("%d:%s", id, s.paths[id]))
	}

	if err := writeFileAtomic(s.groupsPath, groupLines); err != nil {
		return qerrors.Wrap(err, qerrors.CategoryMapping, qerrors.SeverityError,
			"failed to persist group mapping file").WithContext("path", s.groupsPath)
	}
	if err := writeFileAtomic(s.pathsPath, pathLines); err != nil {
		return qerrors.Wrap(err, qerrors.CategoryMapping, qerrors.SeverityError,
			"failed to persist path mapping file").WithContext("path", s.pathsPath)
	}
	return nil
}

// writeFileAtomic writes lines via a temporary file and rename so readers
// never observe a half-written mapping file.
func writeFileAtomic(path string, lines []string) error {
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
