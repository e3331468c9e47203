package privacy

import (
	"fmt"
	"regexp"
)

// Config configures the masker.
type Config struct {
	// Enabled controls whether masking is active (default: true)
	Enabled bool `koanf:"enabled"`

	// Rules defines what is masked
	Rules []Rule `koanf:"rules"`

	// AllowList contains patterns that are never masked
	AllowList []string `koanf:"allow_list"`

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule detects one kind of personal or secret value.
type Rule struct {
	// ID is the unique identifier for this rule
	ID string `koanf:"id"`

	// Description explains what this rule detects
	Description string `koanf:"description"`

	// Pattern is the regex matching the value
	Pattern string `koanf:"pattern"`

	// Replacement substitutes each match (default: "[REDACTED]")
	Replacement string `koanf:"replacement"`
}

type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

// DefaultConfig returns a configuration with DefaultRules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Rules:     DefaultRules(),
		AllowList: []string{},
	}
}

// Validate compiles the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		if rule.Replacement == "" {
			rule.Replacement = "[REDACTED]"
		}
		c.compiledRules = append(c.compiledRules, &compiledRule{Rule: rule, pattern: pattern})
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}
	return nil
}
