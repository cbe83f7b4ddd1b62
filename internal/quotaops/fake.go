package quotaops

import (
	"context"
	"sync"
)

// Op names a Backend method for call recording.
type Op string

const (
	OpTag            Op = "tag"
	OpEnableInherit  Op = "enable_inherit"
	OpDisableInherit Op = "disable_inherit"
	OpSetLimits      Op = "set_limits"
	OpClearLimits    Op = "clear_limits"
)

// Call is one recorded Backend invocation.
type Call struct {
	Op        Op
	Path      string // TagPath / inheritance target
	Target    string // SetLimits / ClearLimits target
	ProjectID uint32
	Blocks    uint64
}

// Fake is an in-memory Backend for engine tests. It records every call in
// order and lets tests inject failures per call.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	// FailOn, when set, is consulted before each call; a non-nil return is
	// surfaced as that call's error (the call is still recorded).
	FailOn func(Call) error

	// limits tracks the last applied blocks per project id; cleared ids are
	// removed.
	limits map[uint32]uint64
	// tags tracks the last project id applied per path.
	tags map[string]uint32
}

// NewFake creates an empty fake backend.
func NewFake() *Fake {
	return &Fake{
		limits: make(map[uint32]uint64),
		tags:   make(map[string]uint32),
	}
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.FailOn != nil {
		if err := f.FailOn(c); err != nil {
			return err
		}
	}
	switch c.Op {
	case OpTag:
		f.tags[c.Path] = c.ProjectID
	case OpSetLimits:
		f.limits[c.ProjectID] = c.Blocks
	case OpClearLimits:
		delete(f.limits, c.ProjectID)
	}
	return nil
}

func (f *Fake) TagPath(_ context.Context, path string, projectID uint32) error {
	return f.record(Call{Op: OpTag, Path: path, ProjectID: projectID})
}

func (f *Fake) EnableInheritance(_ context.Context, path string) error {
	return f.record(Call{Op: OpEnableInherit, Path: path})
}

func (f *Fake) DisableInheritance(_ context.Context, path string) error {
	return f.record(Call{Op: OpDisableInherit, Path: path})
}

func (f *Fake) SetLimits(_ context.Context, target string, projectID uint32, blocks uint64) error {
	return f.record(Call{Op: OpSetLimits, Target: target, ProjectID: projectID, Blocks: blocks})
}

func (f *Fake) ClearLimits(_ context.Context, target string, projectID uint32) error {
	return f.record(Call{Op: OpClearLimits, Target: target, ProjectID: projectID})
}

// Calls returns a copy of all recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns recorded calls of one op, in order.
func (f *Fake) CallsFor(op Op) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Limit returns the currently applied blocks for a project id.
func (f *Fake) Limit(projectID uint32) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blocks, ok := f.limits[projectID]
	return blocks, ok
}

// Tag returns the last project id applied to a path.
func (f *Fake) Tag(path string) (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tags[path]
	return id, ok
}

// Reset clears recorded calls and state.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.limits = make(map[uint32]uint64)
	f.tags = make(map[string]uint32)
}
