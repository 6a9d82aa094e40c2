// Package routing evaluates declarative content-based rules against audit
// events and turns matches into dispatch instructions.
package routing

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
)

// TargetType names a downstream consumer of routed events.
type TargetType string

const (
	TargetWorkflow     TargetType = "workflow"
	TargetLog          TargetType = "log"
	TargetNotification TargetType = "notification"
)

// TargetTypes lists every known target type.
var TargetTypes = []TargetType{TargetWorkflow, TargetLog, TargetNotification}

func (t TargetType) valid() bool {
	for _, known := range TargetTypes {
		if t == known {
			return true
		}
	}
	return false
}

//go:embed default_rules.yaml
var defaultRules []byte

// TargetDef is the file form of a rule target.
type TargetDef struct {
	Type     TargetType `yaml:"type" json:"type"`
	Template string     `yaml:"template,omitempty" json:"template,omitempty"`
}

// RuleDef is the file form of a rule.
type RuleDef struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Pattern     map[string]any `yaml:"pattern" json:"pattern"`
	Targets     []TargetDef    `yaml:"targets" json:"targets"`
}

// File is the top-level document of a rules file.
type File struct {
	Rules []RuleDef `yaml:"rules"`
}

// Target is a compiled rule target.
type Target struct {
	Type     TargetType
	Template *Template
}

// Rule is a compiled rule.
type Rule struct {
	Name        string
	Description string
	Pattern     *Pattern
	Targets     []Target
}

// Matches reports whether ev satisfies the rule's pattern.
func (r *Rule) Matches(ev *event.Event) bool {
	return r.Pattern.Match(ev.Fields())
}

// Dispatch is one (rule, target) instruction produced by Route.
type Dispatch struct {
	Rule        *Rule
	Target      Target
	TargetIndex int
}

// ID identifies the instruction for an event, stable across redeliveries.
func (d Dispatch) ID(eventID string) string {
	return fmt.Sprintf("%s:%s:%d", eventID, d.Rule.Name, d.TargetIndex)
}

// Engine holds an immutable, ordered rule set. It is safe for concurrent use.
type Engine struct {
	rules  []*Rule
	byName map[string]*Rule
}

// Compile validates rule definitions and builds an Engine.
func Compile(defs []RuleDef) (*Engine, error) {
	e := &Engine{byName: make(map[string]*Rule, len(defs))}
	for i, def := range defs {
		if def.Name == "" {
			return nil, configErrorf(fmt.Sprintf("#%d", i), "name", "must not be empty")
		}
		r, err := compileRule(def)
		if err != nil {
			return nil, err
		}
		if _, dup := e.byName[r.Name]; dup {
			return nil, configErrorf(r.Name, "name", "duplicate rule name")
		}
		e.rules = append(e.rules, r)
		e.byName[r.Name] = r
	}
	return e, nil
}

func compileRule(def RuleDef) (*Rule, error) {
	name := def.Name
	pattern, err := compilePattern(name, def.Pattern)
	if err != nil {
		return nil, err
	}
	if len(def.Targets) == 0 {
		return nil, configErrorf(name, "targets", "at least one target is required")
	}

	r := &Rule{Name: name, Description: def.Description, Pattern: pattern}
	seen := make(map[TargetDef]bool, len(def.Targets))
	for _, td := range def.Targets {
		if !td.Type.valid() {
			return nil, configErrorf(name, "targets", "unknown target type %q", td.Type)
		}
		if seen[td] {
			return nil, configErrorf(name, "targets", "duplicate %s target", td.Type)
		}
		seen[td] = true

		t := Target{Type: td.Type}
		switch td.Type {
		case TargetNotification:
			if td.Template == "" {
				return nil, configErrorf(name, "targets", "notification target requires a template")
			}
			t.Template, err = compileTemplate(name, td.Template)
			if err != nil {
				return nil, err
			}
		default:
			if td.Template != "" {
				return nil, configErrorf(name, "targets", "%s target does not take a template", td.Type)
			}
		}
		r.Targets = append(r.Targets, t)
	}
	return r, nil
}

// Load reads a YAML rules document. Unknown keys are rejected.
func Load(r io.Reader) (*Engine, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, configErrorf("", "", "rules document is empty")
		}
		return nil, &ConfigError{Msg: err.Error()}
	}
	return Compile(f.Rules)
}

// LoadFile reads rules from path.
func LoadFile(path string) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("open rules file: %v", err)}
	}
	defer f.Close()
	return Load(f)
}

// Default returns the built-in rule set.
func Default() (*Engine, error) {
	return Load(bytes.NewReader(defaultRules))
}

// DefaultRules returns the raw built-in rules document.
func DefaultRules() []byte {
	return append([]byte(nil), defaultRules...)
}

// Route evaluates every rule against ev and returns one instruction per
// (matching rule, target), in rule order then target order. It never fails.
func (e *Engine) Route(ev *event.Event) []Dispatch {
	var out []Dispatch
	for _, r := range e.rules {
		if !r.Matches(ev) {
			continue
		}
		for i, t := range r.Targets {
			out = append(out, Dispatch{Rule: r, Target: t, TargetIndex: i})
		}
	}
	return out
}

// Rule looks up a rule by name.
func (e *Engine) Rule(name string) (*Rule, bool) {
	r, ok := e.byName[name]
	return r, ok
}

// Resolve re-hydrates an instruction from its rule name and target index.
func (e *Engine) Resolve(rule string, targetIndex int) (Dispatch, error) {
	r, ok := e.byName[rule]
	if !ok {
		return Dispatch{}, fmt.Errorf("unknown rule %q", rule)
	}
	if targetIndex < 0 || targetIndex >= len(r.Targets) {
		return Dispatch{}, fmt.Errorf("rule %q has no target %d", rule, targetIndex)
	}
	return Dispatch{Rule: r, Target: r.Targets[targetIndex], TargetIndex: targetIndex}, nil
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []*Rule {
	return append([]*Rule(nil), e.rules...)
}
