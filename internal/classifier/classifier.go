// Package classifier maps message subjects to configured categories.
package classifier

import (
	"fmt"
	"regexp"

	"MailPrompter/internal/domain"
)

// Rule pairs a subject pattern with the category it selects.
// Patterns are regular expressions matched from the start of the subject.
type Rule struct {
	Pattern  string
	Category string
}

type compiledRule struct {
	expr     *regexp.Regexp
	category domain.Category
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	rules []compiledRule
	names []string
}

// New compiles the rules. Markers are looked up by category name and may be absent.
func New(rules []Rule, markers map[string]domain.Markers) (*Classifier, error) {
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	seen := map[string]struct{}{}

	for i, rule := range rules {
		if rule.Category == "" {
			return nil, fmt.Errorf("rule %d: category is required", i)
		}
		expr, err := Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		category := domain.Category{Name: rule.Category}
		if m, ok := markers[rule.Category]; ok {
			category.Markers = &m
		}
		c.rules = append(c.rules, compiledRule{expr: expr, category: category})

		if _, ok := seen[rule.Category]; !ok {
			seen[rule.Category] = struct{}{}
			c.names = append(c.names, rule.Category)
		}
	}

	return c, nil
}

// Compile anchors a pattern at the start of the subject.
func Compile(pattern string) (*regexp.Regexp, error) {
	expr, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return expr, nil
}

// Classify returns the category of the first rule matching subject.
func (c *Classifier) Classify(subject string) (domain.Category, bool) {
	for _, rule := range c.rules {
		if rule.expr.MatchString(subject) {
			return rule.category, true
		}
	}
	return domain.Category{}, false
}

// Categories returns the distinct category names in rule order.
func (c *Classifier) Categories() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}
