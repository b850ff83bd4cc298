package cache

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternPrefix marks a configured matcher string as a regular expression.
const PatternPrefix = "re:"

// Matcher decides whether a request URI is selected.
type Matcher interface {
	Match(uri string) bool
}

// Exact matches one URI by string equality.
type Exact string

func (e Exact) Match(uri string) bool {
	return string(e) == uri
}

func (e Exact) String() string {
	return string(e)
}

// Pattern matches URIs against a regular expression.
type Pattern struct {
	re *regexp.Regexp
}

// NewPattern wraps a compiled expression.
func NewPattern(re *regexp.Regexp) Pattern {
	return Pattern{re: re}
}

// MustPattern compiles expr and panics if it is invalid.
func MustPattern(expr string) Pattern {
	return Pattern{re: regexp.MustCompile(expr)}
}

func (p Pattern) Match(uri string) bool {
	return p.re != nil && p.re.MatchString(uri)
}

func (p Pattern) String() string {
	if p.re == nil {
		return PatternPrefix
	}
	return PatternPrefix + p.re.String()
}

// ParseMatcher parses a configured matcher: "re:<expr>" is a pattern,
// anything else matches exactly.
func ParseMatcher(s string) (Matcher, error) {
	if expr, ok := strings.CutPrefix(s, PatternPrefix); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
		}
		return Pattern{re: re}, nil
	}
	return Exact(s), nil
}

// ParseMatchers parses every entry of list.
func ParseMatchers(list []string) ([]Matcher, error) {
	out := make([]Matcher, 0, len(list))
	for _, s := range list {
		m, err := ParseMatcher(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
