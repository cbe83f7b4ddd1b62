package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyTrigger    = "trigger"
	KeyGroup      = "group"
	KeyProjectID  = "project_id"
	KeyPath       = "path"
	KeyMount      = "mount"
	KeyDevice     = "device"
	KeyQuotaGB    = "quota_gb"
	KeyBlocksKiB  = "blocks_kib"
	KeyAction     = "action"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Trigger(t string) slog.Attr      { return slog.String(KeyTrigger, t) }
func Group(g string) slog.Attr        { return slog.String(KeyGroup, g) }
func ProjectID(id uint32) slog.Attr   { return slog.Int(KeyProjectID, int(id)) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Mount(m string) slog.Attr        { return slog.String(KeyMount, m) }
func Device(d string) slog.Attr       { return slog.String(KeyDevice, d) }
func QuotaGB(gb float64) slog.Attr    { return slog.Float64(KeyQuotaGB, gb) }
func BlocksKiB(b uint64) slog.Attr    { return slog.Uint64(KeyBlocksKiB, b) }
func Action(a string) slog.Attr       { return slog.String(KeyAction, a) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
