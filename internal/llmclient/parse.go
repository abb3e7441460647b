// internal/llmclient/parse.go
package llmclient

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonBlockRegex extracts a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// ExtractJSON pulls a JSON document out of a raw model response. Models
// wrap JSON in markdown fences, prepend prose, or emit slightly broken
// syntax; this strips the wrapping and, as a last resort, repairs the
// extracted text before giving up.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", fmt.Errorf("model response is empty")
	}

	var candidate string
	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		candidate = strings.TrimSpace(matches[1])
	} else {
		first := strings.Index(response, "{")
		last := strings.LastIndex(response, "}")
		if first == -1 || last <= first {
			return "", fmt.Errorf("could not find any JSON in the model response")
		}
		candidate = response[first : last+1]
	}
	if candidate == "" {
		return "", fmt.Errorf("could not find any JSON in the model response")
	}

	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return "", fmt.Errorf("model response is not valid JSON and could not be repaired: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return "", fmt.Errorf("repaired model response is still not valid JSON")
	}
	return repaired, nil
}
