package fscompat

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Tune2fsProbe returns a FeatureProbe that reads superblock features via
// `tune2fs -l`. Requires root, like the rest of the enforcement surface.
func Tune2fsProbe(logger *slog.Logger) FeatureProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, device string) ([]string, error) {
		cmd := exec.CommandContext(ctx, "tune2fs", "-l", device)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		logger.Debug("Probing superblock features", "device", device)

		err := cmd.Run()

		errStr := stderr.String()
		if errStr != "" {
			logger.Warn("tune2fs stderr", "error_output", errStr)
		}

		if err != nil {
			if errStr != "" {
				return nil, fmt.Errorf("tune2fs -l %s failed: %w: %s", device, err, errStr)
			}
			return nil, fmt.Errorf("tune2fs -l %s failed: %w", device, err)
		}

		return parseFeatureLine(stdout.String()), nil
	}
}

// parseFeatureLine extracts the feature list from tune2fs -l output.
// The relevant line looks like:
//
//	Filesystem features:      has_journal ext_attr ... project quota
func parseFeatureLine(output string) []string {
	for _, line := range strings.Split(output, "\n") {
		rest, ok := strings.CutPrefix(line, "Filesystem features:")
		if !ok {
			continue
		}
		return strings.Fields(rest)
	}
	return nil
}
