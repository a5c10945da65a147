package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports that no extractable JSON was found in model output.
// It is not retried automatically; the owning unit of work is marked failed.
type ParseError struct {
	Want   string // "object" or "array"
	Output string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no JSON %s found in model output", e.Want)
}

// CallError reports a transport or non-success response from an adapter.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("adapter call %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ExtractObject finds the first balanced {...} substring in free-form model
// output and unmarshals it into dest.
func ExtractObject(output string, dest interface{}) error {
	raw, ok := extractBalanced(output, '{', '}')
	if !ok {
		return &ParseError{Want: "object", Output: output}
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return &ParseError{Want: "object", Output: output}
	}
	return nil
}

// ExtractArray finds the first balanced [...] substring and unmarshals it.
func ExtractArray(output string, dest interface{}) error {
	raw, ok := extractBalanced(output, '[', ']')
	if !ok {
		return &ParseError{Want: "array", Output: output}
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return &ParseError{Want: "array", Output: output}
	}
	return nil
}

// extractBalanced scans for the first balanced open..close region, skipping
// brackets inside JSON string literals.
func extractBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}
