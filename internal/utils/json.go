package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response contains no JSON object or array.
var ErrNoJSON = errors.New("no JSON found in response")

var (
	// ```json ... ``` anywhere in the text; the body is group 1
	fencedBlockRegex = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

	// ,} or ,]
	trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)

	// {'key': -> {"key":
	singleQuoteKeyRegex = regexp.MustCompile(`([{,]\s*)'(\w+)'(\s*:)`)

	// : 'value' -> : "value"
	singleQuoteValueRegex = regexp.MustCompile(`(:\s*)'((?:[^'\\]|\\.)*)'(\s*[,}\]])`)

	// Python-style literals some models emit
	pythonLiteralRegex = regexp.MustCompile(`(:\s*)(True|False|None)(\s*[,}\]])`)
)

// ExtractAndParseJSON pulls the first JSON value out of an LLM response and
// unmarshals it into T. Markdown fences, leading prose and trailing text are
// ignored, and common syntax slips are repaired before giving up.
func ExtractAndParseJSON[T any](response string) (T, error) {
	var result T

	candidate := extractCandidate(response)
	if candidate == "" {
		return result, ErrNoJSON
	}

	err := decodeFirst(candidate, &result)
	if err == nil {
		return result, nil
	}

	if repaired := repairJSON(candidate); repaired != candidate {
		var retry T
		if decodeFirst(repaired, &retry) == nil {
			return retry, nil
		}
	}
	return result, fmt.Errorf("parse JSON: %w", err)
}

// extractCandidate returns the text starting at the first { or [, preferring
// the contents of a fenced block when one exists.
func extractCandidate(response string) string {
	text := strings.TrimSpace(response)
	if m := fencedBlockRegex.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	// A JSON string that itself holds JSON.
	if strings.HasPrefix(text, `"`) {
		var inner string
		if json.Unmarshal([]byte(text), &inner) == nil {
			return extractCandidate(inner)
		}
	}

	idx := strings.IndexAny(text, "{[")
	if idx == -1 {
		return ""
	}
	return text[idx:]
}

// decodeFirst decodes one value and ignores whatever follows it.
func decodeFirst(s string, v any) error {
	return json.NewDecoder(strings.NewReader(s)).Decode(v)
}

// repairJSON fixes the syntax errors models make most often.
func repairJSON(input string) string {
	result := escapeControlChars(input)
	result = singleQuoteKeyRegex.ReplaceAllString(result, `$1"$2"$3`)
	result = singleQuoteValueRegex.ReplaceAllStringFunc(result, func(match string) string {
		parts := singleQuoteValueRegex.FindStringSubmatch(match)
		value := strings.ReplaceAll(parts[2], `\'`, `'`)
		value = strings.ReplaceAll(value, `"`, `\"`)
		return parts[1] + `"` + value + `"` + parts[3]
	})
	result = pythonLiteralRegex.ReplaceAllStringFunc(result, func(match string) string {
		parts := pythonLiteralRegex.FindStringSubmatch(match)
		lit := map[string]string{"True": "true", "False": "false", "None": "null"}[parts[2]]
		return parts[1] + lit + parts[3]
	})
	result = trailingCommaRegex.ReplaceAllString(result, `$1`)
	return closeTruncated(result)
}

// escapeControlChars escapes raw control characters that appear inside strings.
func escapeControlChars(input string) string {
	var sb strings.Builder
	sb.Grow(len(input))

	inString, escaped := false, false
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString && c < 0x20:
			switch c {
			case '\n':
				sb.WriteString(`\n`)
			case '\r':
				sb.WriteString(`\r`)
			case '\t':
				sb.WriteString(`\t`)
			default:
				fmt.Fprintf(&sb, `\u%04x`, c)
			}
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// closeTruncated closes an unterminated string and any open objects or arrays,
// innermost first.
func closeTruncated(input string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(input); i++ {
		c := input[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case (c == '}' || c == ']') && len(stack) > 0:
			stack = stack[:len(stack)-1]
		}
	}

	if !inString && len(stack) == 0 {
		return input
	}
	var sb strings.Builder
	sb.WriteString(input)
	if inString {
		sb.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		sb.WriteByte(stack[i])
	}
	return sb.String()
}
