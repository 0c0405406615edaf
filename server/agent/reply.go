package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ParseError is a reply we could not read an action index from.
type ParseError struct {
	Reason string
	Reply  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse reply: %s (%q)", e.Reason, truncate(e.Reply, 120))
}

var bareInt = regexp.MustCompile(`^-?\d+$`)

// indexKeys are tried in order; models drift from the requested field name.
var indexKeys = []string{"action_index", "index", "action"}

// ParseReply reads {"action_index": n, "reasoning": "..."} from a model
// reply. The object may be wrapped in prose or a code fence. A reply that is
// nothing but an integer is read as that index; any other text without an
// object is rejected.
func ParseReply(text string) (int, string, error) {
	raw := strings.TrimSpace(stripFence(text))
	if raw == "" {
		return 0, "", &ParseError{Reason: "empty reply", Reply: text}
	}
	if bareInt.MatchString(raw) {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, "", &ParseError{Reason: "index overflows", Reply: text}
		}
		return n, "", nil
	}

	parsed, ok := findJSONObject(raw)
	if !ok {
		if strings.Contains(raw, "{") {
			return 0, "", &ParseError{Reason: "malformed json object", Reply: text}
		}
		return 0, "", &ParseError{Reason: "no action index", Reply: text}
	}

	reasoning, _ := parsed["reasoning"].(string)
	reasoning = strings.TrimSpace(reasoning)
	for _, k := range indexKeys {
		v, ok := parsed[k]
		if !ok || v == nil {
			continue
		}
		n, ok := coerceIndex(v)
		if !ok {
			return 0, reasoning, &ParseError{Reason: fmt.Sprintf("%s is not an integer", k), Reply: text}
		}
		return n, reasoning, nil
	}
	return 0, reasoning, &ParseError{Reason: "missing action_index", Reply: text}
}

// findJSONObject decodes an object starting at each '{' in turn. The first
// object carrying an index key wins; failing that, the first object that
// decodes at all.
func findJSONObject(s string) (map[string]any, bool) {
	var first map[string]any
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		for _, k := range indexKeys {
			if _, ok := obj[k]; ok {
				return obj, true
			}
		}
		if first == nil {
			first = obj
		}
	}
	return first, first != nil
}

func coerceIndex(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		f, err := t.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return 0, false
		}
		return int(f), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

// stripFence returns the body of the first ``` block, or s unchanged.
func stripFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
