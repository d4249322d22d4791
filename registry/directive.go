package registry

import (
	"fmt"
	"strings"

	"github.com/Backseating-Committee-2k/test-runner/types"
)

const (
	// commentMarker starts the expectation directive line.
	commentMarker = "//"

	// directiveKeyword declares that the test must fail.
	directiveKeyword = "fails_with"
)

// ParseDirective derives the expected outcome from a test file's first line.
//
//	// fails_with = "first message", "second message"
//
// produces a failure expectation carrying the quoted messages in declaration
// order. A first line without the comment marker, with a different keyword or
// with no '=' means the pipeline is expected to succeed. Malformed quoting of
// a fails_with directive is an error the caller must attach to the single
// affected test.
func ParseDirective(line string) (types.ExpectedOutcome, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, commentMarker) {
		return types.ExpectSuccess(), nil
	}

	directive := strings.TrimSpace(strings.TrimPrefix(line, commentMarker))
	lhs, rhs, found := strings.Cut(directive, "=")
	if !found || strings.TrimSpace(lhs) != directiveKeyword {
		return types.ExpectSuccess(), nil
	}

	msgs, err := parseQuotedList(strings.TrimSpace(rhs))
	if err != nil {
		return types.ExpectedOutcome{}, fmt.Errorf("malformed %s directive: %w", directiveKeyword, err)
	}
	return types.ExpectFailure(msgs...), nil
}

// parseQuotedList parses a comma separated list of double quoted messages.
// Messages may not be empty and may not contain double quotes; there is no
// escape syntax.
func parseQuotedList(s string) ([]string, error) {
	var msgs []string
	for {
		if !strings.HasPrefix(s, `"`) {
			return nil, fmt.Errorf(`missing opening quote in %q`, s)
		}
		rest := s[1:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			return nil, fmt.Errorf(`missing closing quote in %q`, s)
		}
		msg := rest[:end]
		if msg == "" {
			return nil, fmt.Errorf("empty error message")
		}
		msgs = append(msgs, msg)

		s = strings.TrimSpace(rest[end+1:])
		if s == "" {
			return msgs, nil
		}
		if !strings.HasPrefix(s, ",") {
			return nil, fmt.Errorf("unexpected trailing text %q after quoted message", s)
		}
		s = strings.TrimSpace(s[1:])
	}
}
