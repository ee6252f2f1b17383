// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ExtractJSON isolates the JSON payload of a model response. It unwraps
// markdown code fences and cuts away conversational text around the outermost
// object or array. The input is returned trimmed when no structure is found.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.Contains(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return strings.TrimSpace(matches[1])
		}
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	if isObject {
		fb := strings.Index(response, "{")
		lb := strings.LastIndex(response, "}")
		if lb > fb {
			return response[fb : lb+1]
		}
	}
	if isArray {
		fb := strings.Index(response, "[")
		lb := strings.LastIndex(response, "]")
		if lb > fb {
			return response[fb : lb+1]
		}
	}
	return response
}

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It handles common LLM formatting issues, such as wrapping the JSON in markdown code blocks.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload := ExtractJSON(response)

	var result T
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(payload, 500))
	}
	return &result, nil
}

// Truncate shortens s to at most maxLen bytes, marking the cut with "...".
// The cut never splits a UTF-8 sequence.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
