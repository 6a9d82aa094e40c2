package routing

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`<\$\.([^<>]*)>`)

type segment struct {
	text string
	path []string
}

// Template is a notification text with <$.path> placeholders resolved
// against the event envelope.
type Template struct {
	source   string
	segments []segment
}

// CompileTemplate parses placeholders and validates their paths.
func CompileTemplate(text string) (*Template, error) {
	return compileTemplate("", text)
}

func compileTemplate(rule, text string) (*Template, error) {
	t := &Template{source: text}
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > last {
			t.segments = append(t.segments, segment{text: text[last:loc[0]]})
		}
		expr := text[loc[2]:loc[3]]
		path := strings.Split(expr, ".")
		for _, p := range path {
			if p == "" {
				return nil, configErrorf(rule, "template", "invalid placeholder path %q", "$."+expr)
			}
		}
		t.segments = append(t.segments, segment{path: path})
		last = loc[1]
	}
	if last < len(text) {
		t.segments = append(t.segments, segment{text: text[last:]})
	}
	return t, nil
}

// Render substitutes every placeholder. It fails rather than emit partial text.
func (t *Template) Render(fields map[string]any) (string, error) {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.path == nil {
			b.WriteString(seg.text)
			continue
		}
		v, ok := lookup(fields, seg.path)
		if !ok {
			return "", &FormatError{Path: strings.Join(seg.path, "."), Err: ErrMissingField}
		}
		s, ok := scalarText(v)
		if !ok {
			return "", &FormatError{Path: strings.Join(seg.path, "."), Err: ErrMissingField}
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// Fields lists the placeholder paths in order of appearance.
func (t *Template) Fields() []string {
	var out []string
	for _, seg := range t.segments {
		if seg.path != nil {
			out = append(out, strings.Join(seg.path, "."))
		}
	}
	return out
}

func (t *Template) String() string { return t.source }
