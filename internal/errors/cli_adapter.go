package errors

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// CLIErrorAdapter handles error presentation and exit code determination for the CLI.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	if qe, ok := err.(*QuotadError); ok {
		return a.exitCodeFromQuotad(qe)
	}

	return 1
}

// exitCodeFromQuotad maps QuotadError to exit codes.
func (a *CLIErrorAdapter) exitCodeFromQuotad(err *QuotadError) int {
	switch err.Category {
	case CategoryValidation:
		return 2 // Invalid usage or input
	case CategoryPrecondition:
		return 3 // Run aborted before any write
	case CategoryLock:
		return 4 // Another enforcement run holds the lock
	case CategoryConfig:
		return 7 // Configuration error
	case CategoryMapping, CategoryApply, CategoryRetag:
		return 11 // Enforcement error
	case CategoryDaemon, CategoryJournal:
		return 12 // Runtime error
	case CategoryInternal:
		return 10 // Internal error
	default:
		return 1 // General error
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	if qe, ok := err.(*QuotadError); ok {
		return a.formatQuotad(qe)
	}

	return fmt.Sprintf("Error: %v", err)
}

// formatQuotad formats a QuotadError for display.
func (a *CLIErrorAdapter) formatQuotad(err *QuotadError) string {
	if a.verbose {
		return err.Error()
	}

	switch err.Category {
	case CategoryConfig, CategoryValidation:
		if detail := contextDetail(err); detail != "" {
			return fmt.Sprintf("%s: %s", err.Message, detail)
		}
		return err.Message
	default:
		return fmt.Sprintf("%s: %s", err.Category, err.Message)
	}
}

// contextDetail extracts the field and reason context, when both are set,
// for input errors whose message alone does not name the offending value.
func contextDetail(err *QuotadError) string {
	field, okF := err.Context["field"].(string)
	reason, okR := err.Context["reason"].(string)
	switch {
	case okF && okR:
		return fmt.Sprintf("%s: %s", field, reason)
	case okR:
		return reason
	default:
		return ""
	}
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	exitCode := a.ExitCodeFor(err)
	message := a.FormatError(err)

	if a.shouldLog(err) {
		a.logError(err)
	}

	fmt.Fprintf(os.Stderr, "%s\n", message)
	os.Exit(exitCode)
}

// shouldLog determines if an error should be logged.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}

	if qe, ok := err.(*QuotadError); ok {
		return qe.Category == CategoryInternal ||
			qe.Category == CategoryDaemon ||
			qe.Severity == SeverityFatal
	}

	return true
}

// logError logs an error with appropriate level and context.
func (a *CLIErrorAdapter) logError(err error) {
	if qe, ok := err.(*QuotadError); ok {
		level := a.slogLevelFromSeverity(qe.Severity)
		attrs := []slog.Attr{
			slog.String("category", string(qe.Category)),
		}
		if qe.Retryable {
			attrs = append(attrs, slog.Bool("retryable", true))
		}

		a.logger.LogAttrs(context.Background(), level, qe.Message, attrs...)
		return
	}

	a.logger.Error("Unclassified error", "error", err)
}

// slogLevelFromSeverity converts QuotadError severity to slog level.
func (a *CLIErrorAdapter) slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityFatal:
		return slog.LevelError
	default:
		return slog.LevelError
	}
}
