// Package template expands a driver's configured command-line template
// into the argv the driver actually execs, substituting keyword
// fields the way the teacher's driver/args package expands
// environment variables into task arguments.
package template

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ParseAndReplace splits input the way a shell would and replaces any
// "$KEY" token found in kws with its value. A "$KEY" whose key is not
// present in kws is left untouched, so callers can tell a missing
// keyword from a typo rather than silently substituting an empty
// string.
func ParseAndReplace(input string, kws map[string]string) ([]string, error) {
	parsed, err := shellwords.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("parsing command line %q: %w", input, err)
	}

	replaced := make([]string, len(parsed))
	for i, arg := range parsed {
		replaced[i] = replaceKeywords(arg, kws)
	}
	return replaced, nil
}

func replaceKeywords(arg string, kws map[string]string) string {
	for key, val := range kws {
		arg = strings.ReplaceAll(arg, "$"+key, val)
	}
	return arg
}
