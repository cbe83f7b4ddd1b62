// Package quotaops isolates every platform-specific quota operation behind
// one interface. The reconciliation engine talks only to Backend; the exec
// implementation shells out to chattr and setquota, the fake records calls.
package quotaops

import "context"

// Backend performs the ext4 project-quota primitives. All methods are
// idempotent: re-applying a tag or a limit that is already in place is safe.
type Backend interface {
	// TagPath sets the project id on a single file or directory.
	TagPath(ctx context.Context, path string, projectID uint32) error

	// EnableInheritance makes a directory stamp its project id onto new
	// children.
	EnableInheritance(ctx context.Context, path string) error

	// DisableInheritance removes the inheritance flag from a directory.
	DisableInheritance(ctx context.Context, path string) error

	// SetLimits registers hard=soft block limits for a project id in one
	// overwriting call. There must never be an intermediate unlimited state,
	// so implementations must not clear before setting.
	SetLimits(ctx context.Context, target string, projectID uint32, blocks uint64) error

	// ClearLimits removes all block limits for a project id.
	ClearLimits(ctx context.Context, target string, projectID uint32) error
}

// BlocksForGB converts a quota in gigabytes to setquota's 1 KiB block unit.
// 1 GB is treated as 1 GiB = 1,048,576 KiB; fractions truncate.
func BlocksForGB(gb float64) uint64 {
	return uint64(gb * 1024 * 1024)
}
