package scorer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON value out of a model response. Handles markdown
// code fences, leading prose before the JSON, and truncated arrays/objects
// (the model running out of tokens mid-value), from which every complete
// element is recovered.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if strings.HasPrefix(lines[0], "```") {
			lines = lines[1:]
		}
		if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
			lines = lines[:len(lines)-1]
		}
		text = strings.Join(lines, "\n")
	}

	if json.Valid([]byte(text)) {
		return text, nil
	}

	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return "", fmt.Errorf("no JSON found in response: %.200s", text)
	}
	jsonText := text[start:]
	if json.Valid([]byte(jsonText)) {
		return jsonText, nil
	}

	if strings.HasPrefix(jsonText, "[") {
		// Close a truncated array, first as-is, then after dropping the
		// incomplete trailing element.
		fixed := strings.TrimRight(strings.TrimSpace(jsonText), ",") + "]"
		if json.Valid([]byte(fixed)) {
			return fixed, nil
		}
		if lastBrace := strings.LastIndex(jsonText, "}"); lastBrace > 0 {
			fixed = jsonText[:lastBrace+1] + "]"
			if json.Valid([]byte(fixed)) {
				return fixed, nil
			}
		}
	}

	if strings.HasPrefix(jsonText, "{") {
		fixed := strings.TrimRight(strings.TrimSpace(jsonText), ",") + "}"
		if json.Valid([]byte(fixed)) {
			return fixed, nil
		}
	}

	return "", fmt.Errorf("could not parse JSON from response: %.200s", text)
}

// decodeObject parses a response expected to hold one JSON object, accepting
// a single-element array wrapper.
func decodeObject(text string, out interface{}) error {
	extracted, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if strings.HasPrefix(extracted, "[") {
		var raw []json.RawMessage
		if err := json.Unmarshal([]byte(extracted), &raw); err != nil {
			return err
		}
		if len(raw) == 0 {
			return fmt.Errorf("empty JSON array in response")
		}
		return json.Unmarshal(raw[0], out)
	}
	return json.Unmarshal([]byte(extracted), out)
}

// decodeArray parses a response expected to hold a JSON array, accepting a
// bare object as a one-element array.
func decodeArray(text string, out interface{}) error {
	extracted, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(extracted, "[") {
		extracted = "[" + extracted + "]"
	}
	return json.Unmarshal([]byte(extracted), out)
}
