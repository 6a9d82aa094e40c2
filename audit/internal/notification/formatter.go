// Package notification builds notification text for matched rules and hands
// it to a delivery channel.
package notification

import (
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
)

var (
	// ErrChannelUnavailable marks a delivery failure worth retrying.
	ErrChannelUnavailable = errors.New("notification channel unavailable")
	// ErrRejected marks a delivery the channel refused. Not retried.
	ErrRejected = errors.New("notification rejected")
)

// IsRetryable reports whether a Send error may succeed later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrChannelUnavailable)
}

// Notification is the message handed to a channel.
type Notification struct {
	EventID   string    `json:"event_id"`
	Rule      string    `json:"rule"`
	EntityID  string    `json:"entity_id,omitempty"`
	Author    string    `json:"author,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Formatter renders rule templates against events.
type Formatter struct {
	now func() time.Time
}

func NewFormatter() *Formatter {
	return &Formatter{now: time.Now}
}

// Format renders target's template for ev. A missing substitution field is
// a *routing.FormatError; the caller must not deliver anything in that case.
func (f *Formatter) Format(rule *routing.Rule, target routing.Target, ev *event.Event) (*Notification, error) {
	if target.Template == nil {
		return nil, fmt.Errorf("rule %q: %s target has no template", rule.Name, target.Type)
	}
	text, err := target.Template.Render(ev.Fields())
	if err != nil {
		return nil, fmt.Errorf("rule %q: event %s: %w", rule.Name, ev.ID, err)
	}
	return &Notification{
		EventID:   ev.ID,
		Rule:      rule.Name,
		EntityID:  ev.EntityID,
		Author:    ev.Author,
		Message:   text,
		CreatedAt: f.now().UTC(),
	}, nil
}
