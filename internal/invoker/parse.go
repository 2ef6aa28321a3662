package invoker

import (
	"encoding/json"
	"strings"
)

// SafeJSONParse extracts a JSON document from agent response text.
// Markdown code fences are stripped first; if the remainder still does
// not parse, the widest brace- or bracket-delimited span is tried. The
// second return is false when no JSON could be recovered.
func SafeJSONParse(text string) (json.RawMessage, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		var kept []string
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			kept = append(kept, line)
		}
		text = strings.TrimSpace(strings.Join(kept, "\n"))
	}

	if raw, ok := tryParse(text); ok {
		return raw, true
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start != -1 && end != -1 && end > start {
			if raw, ok := tryParse(text[start : end+1]); ok {
				return raw, true
			}
		}
	}
	return nil, false
}

func tryParse(text string) (json.RawMessage, bool) {
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return json.RawMessage(text), true
	}
	return nil, false
}

// ParseJSONInto parses agent output into dst, tolerating fences and
// surrounding prose the same way SafeJSONParse does.
func ParseJSONInto(text string, dst interface{}) bool {
	raw, ok := SafeJSONParse(text)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}
