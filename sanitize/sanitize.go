// Package sanitize implements the source pre-check applied before any
// container is started. Rules are advisory regexes, not a security
// boundary; isolation is the container runtime's job.
package sanitize

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/goccy/go-yaml"
)

// ErrUnsafeSource indicates a file rejected by the rule set.
var ErrUnsafeSource = errors.New("unsafe source")

// Predicate checks one file before it is laid out on disk.
type Predicate func(name string, content []byte) error

// Rewriter may transform a source before execution. The default rewriter
// is the identity.
type Rewriter func(name string, content []byte) []byte

// Rule rejects sources matching a pattern for the listed languages. An
// empty language list applies the rule to every language.
type Rule struct {
	Name      string   `yaml:"name"`
	Languages []string `yaml:"languages"`
	Pattern   string   `yaml:"pattern"`
	Message   string   `yaml:"message"`

	re *regexp.Regexp
}

// RuleSet is a compiled collection of rules.
type RuleSet struct {
	rules []Rule
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// Default returns the built-in advisory rule set.
func Default() *RuleSet {
	rs, err := compile([]Rule{
		{
			Name:      "python-os-system",
			Languages: []string{"python"},
			Pattern:   `\bos\.system\s*\(`,
			Message:   "os.system is not available in the sandbox",
		},
		{
			Name:      "python-subprocess",
			Languages: []string{"python"},
			Pattern:   `\bimport\s+subprocess\b`,
			Message:   "subprocess is not available in the sandbox",
		},
		{
			Name:      "java-runtime-exec",
			Languages: []string{"java"},
			Pattern:   `Runtime\s*\.\s*getRuntime\s*\(\s*\)\s*\.\s*exec`,
			Message:   "Runtime.exec is not available in the sandbox",
		},
		{
			Name:      "cpp-system",
			Languages: []string{"cpp"},
			Pattern:   `\bsystem\s*\(`,
			Message:   "system(3) is not available in the sandbox",
		},
	})
	if err != nil {
		panic(err)
	}
	return rs
}

// LoadRules reads a YAML rule file, replacing the default set.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sanitize rules: %w", err)
	}
	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse sanitize rules: %w", err)
	}
	return compile(rf.Rules)
}

func compile(rules []Rule) (*RuleSet, error) {
	for i := range rules {
		re, err := regexp.Compile(rules[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rules[i].Name, err)
		}
		rules[i].re = re
	}
	return &RuleSet{rules: rules}, nil
}

// Predicate returns the check applied to sources of the given language.
func (rs *RuleSet) Predicate(language string) Predicate {
	return func(name string, content []byte) error {
		for _, r := range rs.rules {
			if !r.applies(language) {
				continue
			}
			if r.re.Match(content) {
				return fmt.Errorf("%w: %s: %s", ErrUnsafeSource, name, r.Message)
			}
		}
		return nil
	}
}

func (r *Rule) applies(language string) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if l == language {
			return true
		}
	}
	return false
}
