package routing

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// envelopeKeys are the top-level fields a pattern may constrain.
var envelopeKeys = map[string]bool{
	"id":          true,
	"detail-type": true,
	"source":      true,
	"time":        true,
	"detail":      true,
}

type matcher interface {
	match(value string) bool
	String() string
}

type equals struct{ value string }

func (m equals) match(v string) bool { return v == m.value }
func (m equals) String() string      { return strconv.Quote(m.value) }

type prefix struct{ value string }

func (m prefix) match(v string) bool { return strings.HasPrefix(v, m.value) }
func (m prefix) String() string      { return fmt.Sprintf("{prefix: %q}", m.value) }

// fieldTest is one leaf of a pattern: the value at path must satisfy any matcher.
type fieldTest struct {
	path     []string
	matchers []matcher
}

// Pattern is a compiled content filter. Field tests are AND-ed.
type Pattern struct {
	tests []fieldTest
}

// CompilePattern validates a decoded pattern document.
func CompilePattern(raw map[string]any) (*Pattern, error) {
	return compilePattern("", raw)
}

func compilePattern(rule string, raw map[string]any) (*Pattern, error) {
	if len(raw) == 0 {
		return nil, configErrorf(rule, "pattern", "must constrain at least one field")
	}
	p := &Pattern{}
	for _, key := range sortedKeys(raw) {
		if !envelopeKeys[key] {
			return nil, configErrorf(rule, "pattern", "unknown field %q", key)
		}
		if err := p.compileNode(rule, []string{key}, raw[key]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pattern) compileNode(rule string, path []string, v any) error {
	field := strings.Join(path, ".")
	switch node := v.(type) {
	case map[string]any:
		if path[0] != "detail" {
			return configErrorf(rule, field, "only detail may be nested")
		}
		if len(node) == 0 {
			return configErrorf(rule, field, "empty object")
		}
		for _, key := range sortedKeys(node) {
			child := append(append([]string(nil), path...), key)
			if err := p.compileNode(rule, child, node[key]); err != nil {
				return err
			}
		}
		return nil
	case []any:
		if len(path) == 1 && path[0] == "detail" {
			return configErrorf(rule, field, "detail must be an object")
		}
		if len(node) == 0 {
			return configErrorf(rule, field, "matcher list must not be empty")
		}
		ms := make([]matcher, 0, len(node))
		for _, item := range node {
			m, err := compileMatcher(rule, field, item)
			if err != nil {
				return err
			}
			ms = append(ms, m)
		}
		p.tests = append(p.tests, fieldTest{path: path, matchers: ms})
		return nil
	default:
		return configErrorf(rule, field, "expected a list of matchers, got %T", v)
	}
}

func compileMatcher(rule, field string, item any) (matcher, error) {
	if op, ok := item.(map[string]any); ok {
		if len(op) != 1 {
			return nil, configErrorf(rule, field, "matcher object must have exactly one operator")
		}
		for name, arg := range op {
			if name != "prefix" {
				return nil, configErrorf(rule, field, "unknown matcher operator %q", name)
			}
			s, ok := arg.(string)
			if !ok {
				return nil, configErrorf(rule, field, "prefix must be a string, got %T", arg)
			}
			return prefix{value: s}, nil
		}
	}
	s, ok := scalarText(item)
	if !ok {
		return nil, configErrorf(rule, field, "literal must be a scalar, got %T", item)
	}
	return equals{value: s}, nil
}

// Match reports whether every field test passes. Absent fields fail.
func (p *Pattern) Match(fields map[string]any) bool {
	for _, t := range p.tests {
		if !t.match(fields) {
			return false
		}
	}
	return true
}

func (t fieldTest) match(fields map[string]any) bool {
	v, ok := lookup(fields, t.path)
	if !ok {
		return false
	}
	if items, ok := v.([]any); ok {
		for _, item := range items {
			if t.matchScalar(item) {
				return true
			}
		}
		return false
	}
	return t.matchScalar(v)
}

func (t fieldTest) matchScalar(v any) bool {
	s, ok := scalarText(v)
	if !ok {
		return false
	}
	for _, m := range t.matchers {
		if m.match(s) {
			return true
		}
	}
	return false
}

// String renders the pattern in a stable form for diagnostics.
func (p *Pattern) String() string {
	parts := make([]string, 0, len(p.tests))
	for _, t := range p.tests {
		ms := make([]string, len(t.matchers))
		for i, m := range t.matchers {
			ms[i] = m.String()
		}
		parts = append(parts, strings.Join(t.path, ".")+": ["+strings.Join(ms, ", ")+"]")
	}
	return strings.Join(parts, "; ")
}

// lookup walks a decoded document. A JSON null counts as absent.
func lookup(fields map[string]any, path []string) (any, bool) {
	var cur any = fields
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// scalarText returns the textual form used for comparisons.
func scalarText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
