// Package fscompat verifies that the managed volume can carry ext4 project
// quotas before any enforcement write happens. Every check failure is
// specific enough for an operator to act on.
package fscompat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/mountinfo"

	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
	"github.com/ZMB-UZH/omero-docker-extended/internal/logfields"
)

// Mount describes the filesystem that holds the managed root.
type Mount struct {
	Mountpoint string
	Source     string
	FSType     string
}

// FeatureProbe returns the superblock feature list of a block device.
type FeatureProbe func(ctx context.Context, device string) ([]string, error)

// Checker runs the compatibility gate. The mount listing and the feature
// probe are swappable so tests never need a real ext4 volume.
type Checker struct {
	listMounts   func() ([]*mountinfo.Info, error)
	featureProbe FeatureProbe
	logger       *slog.Logger
}

// NewChecker creates a Checker backed by /proc/self/mountinfo and tune2fs.
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		listMounts:   func() ([]*mountinfo.Info, error) { return mountinfo.GetMounts(nil) },
		featureProbe: Tune2fsProbe(logger),
		logger:       logger,
	}
}

// Check verifies that managedRoot sits on an ext4 filesystem mounted with
// prjquota whose superblock carries the project feature. It never mutates
// anything. On success it returns the mount the enforcement targets.
func (c *Checker) Check(ctx context.Context, managedRoot string) (*Mount, error) {
	resolved, err := resolveDir(managedRoot)
	if err != nil {
		return nil, err
	}

	mount, err := c.MountFor(resolved)
	if err != nil {
		return nil, err
	}

	if mount.FSType != "ext4" {
		return nil, qerrors.New(qerrors.CategoryPrecondition, qerrors.SeverityError,
			fmt.Sprintf("managed root is on %s, project quotas need ext4", mount.FSType)).
			WithContext("mountpoint", mount.Mountpoint)
	}

	if !c.hasPrjquota(resolved) {
		return nil, qerrors.New(qerrors.CategoryPrecondition, qerrors.SeverityError,
			"filesystem is not mounted with the prjquota option (remount with -o prjquota)").
			WithContext("mountpoint", mount.Mountpoint).
			WithContext("device", mount.Source)
	}

	features, err := c.featureProbe(ctx, mount.Source)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.CategoryPrecondition, qerrors.SeverityError,
			"could not read superblock features").
			WithContext("device", mount.Source)
	}
	if !contains(features, "project") {
		return nil, qerrors.New(qerrors.CategoryPrecondition, qerrors.SeverityError,
			"superblock lacks the project feature (enable with tune2fs -O project,quota)").
			WithContext("device", mount.Source)
	}

	c.logger.Debug("Filesystem compatibility gate passed",
		logfields.Mount(mount.Mountpoint),
		logfields.Device(mount.Source))

	return mount, nil
}

// MountFor resolves the mount table entry holding path, using the longest
// mountpoint prefix of the resolved path.
func (c *Checker) MountFor(path string) (*Mount, error) {
	mounts, err := c.listMounts()
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.CategoryPrecondition, qerrors.SeverityError,
			"could not read the mount table")
	}

	var best *mountinfo.Info
	for _, m := range mounts {
		if !mountCovers(m.Mountpoint, path) {
			continue
		}
		if best == nil || len(m.Mountpoint) > len(best.Mountpoint) {
			best = m
		}
	}
	if best == nil {
		return nil, qerrors.New(qerrors.CategoryPrecondition, qerrors.SeverityError,
			"no mount table entry covers the managed root").
			WithContext("path", path)
	}

	return &Mount{
		Mountpoint: best.Mountpoint,
		Source:     best.Source,
		FSType:     best.FSType,
	}, nil
}

// hasPrjquota reports whether the mount covering path lists prjquota among
// its per-mount or superblock options.
func (c *Checker) hasPrjquota(path string) bool {
	mounts, err := c.listMounts()
	if err != nil {
		return false
	}
	var best *mountinfo.Info
	for _, m := range mounts {
		if !mountCovers(m.Mountpoint, path) {
			continue
		}
		if best == nil || len(m.Mountpoint) > len(best.Mountpoint) {
			best = m
		}
	}
	if best == nil {
		return false
	}
	return optionListed(best.Options, "prjquota") || optionListed(best.VFSOptions, "prjquota")
}

// SameMount reports whether path lives on the given mount (and not on some
// filesystem mounted below it).
func (c *Checker) SameMount(path string, mount *Mount) bool {
	m, err := c.MountFor(path)
	if err != nil {
		return false
	}
	return m.Mountpoint == mount.Mountpoint
}

func resolveDir(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", qerrors.Wrap(err, qerrors.CategoryPrecondition, qerrors.SeverityError,
			"managed root does not exist").
			WithContext("path", path)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", qerrors.Wrap(err, qerrors.CategoryPrecondition, qerrors.SeverityError,
			"managed root is not accessible").
			WithContext("path", resolved)
	}
	if !info.IsDir() {
		return "", qerrors.New(qerrors.CategoryPrecondition, qerrors.SeverityError,
			"managed root is not a directory").
			WithContext("path", resolved)
	}
	return resolved, nil
}

// mountCovers reports whether mountpoint is path itself or a parent of it.
// Comparison is component-wise so /data does not cover /database.
func mountCovers(mountpoint, path string) bool {
	if mountpoint == "/" {
		return true
	}
	if mountpoint == path {
		return true
	}
	return strings.HasPrefix(path, mountpoint+"/")
}

func optionListed(options, want string) bool {
	for _, opt := range strings.Split(options, ",") {
		if opt == want {
			return true
		}
	}
	return false
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
