// Package messaging defines standard subject names for the audit message bus.
package messaging

import "strings"

// Subject constants for the audit message bus.
// Follow the pattern: {domain}.{action}.{resource}
const (
	SubjectAuditEvents        = "audit.events"        // Inbound envelopes (append .{source})
	SubjectAuditDispatch      = "audit.dispatch"      // Routed instructions (append .{target})
	SubjectAuditLog           = "audit.log.events"    // Verbatim envelopes for the log sink
	SubjectAuditNotifications = "audit.notifications" // Formatted notification text (append .{rule})
	SubjectAuditDLQ           = "audit.dlq"           // Failed instructions (append .{step})
)

// Queue group names for load-balanced consumers.
const (
	QueueAuditRouters = "audit-routers"
	QueueAuditWorkers = "audit-workers"
)

// Header names carried on bus messages.
const (
	HeaderMsgID     = "Nats-Msg-Id"
	HeaderRequestID = "X-Request-ID"
	HeaderEventID   = "Audit-Event-Id"
)

// EventSubject returns the ingress subject for an event source.
// Example: audit.events.com.example.books
func EventSubject(source string) string {
	return SubjectAuditEvents + "." + token(source)
}

// DispatchSubject returns the subject a target type's workers consume.
// Example: audit.dispatch.workflow
func DispatchSubject(target string) string {
	return SubjectAuditDispatch + "." + token(target)
}

// NotificationSubject returns the subject notifications of a rule are published to.
func NotificationSubject(rule string) string {
	return SubjectAuditNotifications + "." + token(rule)
}

// DLQSubject returns the dead-letter subject for a failing step.
func DLQSubject(step string) string {
	return SubjectAuditDLQ + "." + token(step)
}

// token makes s safe to use as a single-or-multi token subject suffix.
// Wildcards and whitespace are replaced and empty tokens dropped, so "a..b"
// becomes "a.b". Empty input becomes "unknown".
func token(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' })
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ".")
}
