package routing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration is wrapped by every rule loading failure.
	ErrConfiguration = errors.New("routing configuration error")

	// ErrMissingField is wrapped when a template placeholder cannot be resolved.
	ErrMissingField = errors.New("missing template field")
)

// ConfigError describes a malformed rule. It is raised at load time only.
type ConfigError struct {
	Rule  string
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("routing: ")
	if e.Rule != "" {
		fmt.Fprintf(&b, "rule %q: ", e.Rule)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	b.WriteString(e.Msg)
	return b.String()
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

func configErrorf(rule, field, format string, args ...any) error {
	return &ConfigError{Rule: rule, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// FormatError reports a template that could not be fully rendered.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("routing: render <$.%s>: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
