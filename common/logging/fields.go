package logging

import "log/slog"

// Common field names for consistent logging across services.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldEventID   = "event_id"
	FieldEntityID  = "entity_id"
	FieldRule      = "rule"
	FieldTarget    = "target"
	FieldStep      = "step"
	FieldKey       = "key"
	FieldSubject   = "subject"
	FieldAttempt   = "attempt"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EntityID returns a slog attribute for the affected entity.
func EntityID(id string) slog.Attr {
	return slog.String(FieldEntityID, id)
}

// Rule returns a slog attribute for a routing rule name.
func Rule(name string) slog.Attr {
	return slog.String(FieldRule, name)
}

// Target returns a slog attribute for a dispatch target type.
func Target(kind string) slog.Attr {
	return slog.String(FieldTarget, kind)
}

// Step returns a slog attribute for a workflow step.
func Step(name string) slog.Attr {
	return slog.String(FieldStep, name)
}

// Key returns a slog attribute for an archive key.
func Key(key string) slog.Attr {
	return slog.String(FieldKey, key)
}

// Subject returns a slog attribute for a bus subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// Attempt returns a slog attribute for a delivery attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
