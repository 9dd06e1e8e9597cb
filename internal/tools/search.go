package tools

import (
	"regexp"
	"strings"
)

// SearchContent greps content line by line with a compiled regular
// expression and returns the trimmed matching lines in order.
func SearchContent(content, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, line := range strings.Split(content, "\n") {
		if re.MatchString(line) {
			matches = append(matches, strings.TrimSpace(line))
		}
	}
	return matches, nil
}
