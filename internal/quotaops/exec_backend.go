package quotaops

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
)

// runFunc executes an external command and returns its stdout and stderr.
type runFunc func(ctx context.Context, name string, args ...string) (string, string, error)

// ExecBackend drives chattr and setquota. It needs root and an ext4 managed
// volume; the compatibility gate has already verified the latter.
type ExecBackend struct {
	logger *slog.Logger
	run    runFunc
}

// NewExecBackend creates a backend shelling out to the system tools.
func NewExecBackend(logger *slog.Logger) *ExecBackend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &ExecBackend{logger: logger}
	b.run = b.runCommand
	return b
}

func (b *ExecBackend) TagPath(ctx context.Context, path string, projectID uint32) error {
	_, _, err := b.run(ctx, "chattr", "-p", strconv.FormatUint(uint64(projectID), 10), path)
	if err != nil {
		return fmt.Errorf("tag %s with project %d: %w", path, projectID, err)
	}
	return nil
}

func (b *ExecBackend) EnableInheritance(ctx context.Context, path string) error {
	_, _, err := b.run(ctx, "chattr", "+P", path)
	if err != nil {
		return fmt.Errorf("enable project inheritance on %s: %w", path, err)
	}
	return nil
}

func (b *ExecBackend) DisableInheritance(ctx context.Context, path string) error {
	_, _, err := b.run(ctx, "chattr", "-P", path)
	if err != nil {
		return fmt.Errorf("disable project inheritance on %s: %w", path, err)
	}
	return nil
}

// SetLimits issues a single setquota call carrying both soft and hard block
// limits. setquota overwrites atomically, which keeps the group limited at
// every instant of a limit change.
func (b *ExecBackend) SetLimits(ctx context.Context, target string, projectID uint32, blocks uint64) error {
	blockStr := strconv.FormatUint(blocks, 10)
	_, _, err := b.run(ctx, "setquota", "-P",
		strconv.FormatUint(uint64(projectID), 10),
		blockStr, blockStr, "0", "0", target)
	if err != nil {
		return fmt.Errorf("set %s KiB limit for project %d on %s: %w", blockStr, projectID, target, err)
	}
	return nil
}

func (b *ExecBackend) ClearLimits(ctx context.Context, target string, projectID uint32) error {
	_, _, err := b.run(ctx, "setquota", "-P",
		strconv.FormatUint(uint64(projectID), 10),
		"0", "0", "0", "0", target)
	if err != nil {
		return fmt.Errorf("clear limits for project %d on %s: %w", projectID, target, err)
	}
	return nil
}

// runCommand executes a tool capturing both streams. Output lands in the
// debug log, stderr additionally in the returned error so per-group failure
// messages carry the tool's own diagnostics.
func (b *ExecBackend) runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	b.logger.Debug("Running quota tool", "command", name, "args", args)

	err := cmd.Run()

	outStr := stdout.String()
	errStr := stderr.String()
	if outStr != "" {
		b.logger.Debug("quota tool stdout", "command", name, "output", outStr)
	}
	if errStr != "" {
		b.logger.Warn("quota tool stderr", "command", name, "error_output", errStr)
	}

	if err != nil {
		if errStr != "" {
			return outStr, errStr, fmt.Errorf("%s failed: %w: %s", name, err, errStr)
		}
		return outStr, errStr, fmt.Errorf("%s failed: %w", name, err)
	}
	return outStr, errStr, nil
}
