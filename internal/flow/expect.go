package flow

import (
	"fmt"
	"regexp"
	"strings"
)

// Match types for expect patterns.
const (
	MatchCaseInsensitive = iota // 'text' anywhere in the response
	MatchLinePrefix             // "text" at the start of a line, case-sensitive
	MatchRegex                  // /regex/ against each line
)

// Pattern is a parsed expect pattern.
type Pattern struct {
	Source    string
	Text      string
	MatchType int
	Regex     *regexp.Regexp
}

// ParsePattern parses 'text', "text" or /regex/.
func ParsePattern(pattern string) (*Pattern, error) {
	if len(pattern) < 2 {
		return nil, fmt.Errorf("expect pattern %q too short", pattern)
	}

	first := pattern[0]
	last := pattern[len(pattern)-1]
	content := pattern[1 : len(pattern)-1]

	p := &Pattern{Source: pattern, Text: content}

	switch {
	case first == '\'' && last == '\'':
		p.MatchType = MatchCaseInsensitive
	case first == '"' && last == '"':
		p.MatchType = MatchLinePrefix
	case first == '/' && last == '/':
		re, err := regexp.Compile(content)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", content, err)
		}
		p.MatchType = MatchRegex
		p.Regex = re
	default:
		return nil, fmt.Errorf("invalid expect pattern %q: use 'text', \"text\" or /regex/", pattern)
	}

	return p, nil
}

// Match reports whether the response text satisfies the pattern.
func (p *Pattern) Match(text string) bool {
	if p.MatchType == MatchCaseInsensitive {
		return strings.Contains(strings.ToLower(text), strings.ToLower(p.Text))
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		switch p.MatchType {
		case MatchLinePrefix:
			if strings.HasPrefix(strings.TrimSpace(line), p.Text) {
				return true
			}
		case MatchRegex:
			if p.Regex.MatchString(line) {
				return true
			}
		}
	}
	return false
}
