// Package models holds the records the audit service persists and exchanges.
package models

import "time"

// IndexRecord is the searchable summary of one ingested event.
type IndexRecord struct {
	EventID    string `json:"eventId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Operation  string `json:"operation"`
	S3Key      string `json:"s3Key"`
	Author     string `json:"author"`
	TS         int64  `json:"ts"`
}

// Query bounds an ordered range scan. Zero values mean unbounded.
type Query struct {
	From  int64 // inclusive, epoch millis
	To    int64 // inclusive, epoch millis
	Limit int
}

// DefaultQueryLimit applies when Query.Limit is zero.
const DefaultQueryLimit = 100

// MaxQueryLimit caps Query.Limit.
const MaxQueryLimit = 1000

// EffectiveLimit clamps Limit into (0, MaxQueryLimit].
func (q Query) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultQueryLimit
	case q.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return q.Limit
	}
}

// InRange reports whether ts falls within the query window.
func (q Query) InRange(ts int64) bool {
	if q.From != 0 && ts < q.From {
		return false
	}
	if q.To != 0 && ts > q.To {
		return false
	}
	return true
}

// ArchiveObject is a payload read back from the blob archive.
type ArchiveObject struct {
	Key         string    `json:"key"`
	Body        []byte    `json:"-"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
}

// FailedDispatch is a dead-lettered (rule, target) instruction.
type FailedDispatch struct {
	EventID   string    `json:"event_id"`
	Rule      string    `json:"rule"`
	Target    string    `json:"target"`
	Step      string    `json:"step,omitempty"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	Retryable bool      `json:"retryable"`
	Envelope  []byte    `json:"envelope,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

// DLQStats summarizes the dead-letter queue.
type DLQStats struct {
	Messages uint64 `json:"messages"`
	Bytes    uint64 `json:"bytes"`
}
