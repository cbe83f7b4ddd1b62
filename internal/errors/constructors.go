package errors

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *QuotadError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ValidationFailed(field, reason string) *QuotadError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Run preconditions. These abort a reconcile run before any write happens;
// the next trigger retries the whole run.

func StateDocUnreadable(path string, cause error) *QuotadError {
	return WrapRetryable(cause, CategoryPrecondition, SeverityError, "desired state document unreadable").
		WithContext("path", path)
}

func UnsupportedSchemaVersion(path string, version int) *QuotadError {
	return New(CategoryPrecondition, SeverityError, "unsupported state schema version").
		WithContext("path", path).
		WithContext("state_schema_version", version)
}

func MappingFileCorrupt(path string, line int, cause error) *QuotadError {
	return Wrap(cause, CategoryPrecondition, SeverityFatal, "mapping file unparsable").
		WithContext("path", path).
		WithContext("line", line)
}

// Per-group errors. These fail one group and leave the rest of the run alone.

func GroupRejected(group, reason string) *QuotadError {
	return New(CategoryValidation, SeverityWarning, "group rejected").
		WithContext("group", group).
		WithContext("reason", reason)
}

func ApplyFailed(group string, cause error) *QuotadError {
	return WrapRetryable(cause, CategoryApply, SeverityError, "quota apply failed").
		WithContext("group", group)
}

func RetagFailed(group string, cause error) *QuotadError {
	return WrapRetryable(cause, CategoryRetag, SeverityError, "subtree retag failed").
		WithContext("group", group)
}

// Internal errors

func InternalError(message string, cause error) *QuotadError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
