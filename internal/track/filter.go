package track

import (
	"fmt"
	"regexp"

	"goperf/internal/config"
)

// Filter decides whether a function name is eligible for tracking. Exclusion
// rules win over inclusion rules; an empty include list allows every name.
type Filter struct {
	includeNames map[string]bool
	excludeNames map[string]bool
	includeRes   []*regexp.Regexp
	excludeRes   []*regexp.Regexp
}

// NewFilter compiles the configured include/exclude rules. Each entry is
// kept both as an exact name and, when it compiles, as a regular expression.
func NewFilter(cfg config.FilterConfig) (*Filter, error) {
	f := &Filter{
		includeNames: make(map[string]bool),
		excludeNames: make(map[string]bool),
	}
	for _, pattern := range cfg.Include {
		f.includeNames[pattern] = true
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		f.includeRes = append(f.includeRes, re)
	}
	for _, pattern := range cfg.Exclude {
		f.excludeNames[pattern] = true
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		f.excludeRes = append(f.excludeRes, re)
	}
	return f, nil
}

// Allow reports whether the named function passes the filter rules.
func (f *Filter) Allow(name string) bool {
	if f.excludeNames[name] {
		return false
	}
	for _, re := range f.excludeRes {
		if re.MatchString(name) {
			return false
		}
	}
	if len(f.includeRes) == 0 {
		return true
	}
	if f.includeNames[name] {
		return true
	}
	for _, re := range f.includeRes {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
