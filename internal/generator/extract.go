package generator

import (
	"strconv"
	"strings"
)

// ResultRule is a dotted path into a decoded JSON response; numeric segments
// index into arrays ("data.0.url").
type ResultRule []string

// Extractor tries its rules in order and returns the first non-empty string.
type Extractor struct {
	rules []ResultRule
}

// NewExtractor parses dotted keys into rules, skipping blanks.
func NewExtractor(keys []string) Extractor {
	rules := make([]ResultRule, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		rules = append(rules, ResultRule(strings.Split(key, ".")))
	}
	return Extractor{rules: rules}
}

// Extract searches payload for an image URL. Responses wrapped in a
// top-level array are searched through their first element as well.
func (e Extractor) Extract(payload any) (string, bool) {
	candidates := []any{payload}
	if arr, ok := payload.([]any); ok && len(arr) > 0 {
		candidates = append(candidates, arr[0])
	}
	for _, rule := range e.rules {
		for _, candidate := range candidates {
			if v, ok := rule.lookup(candidate); ok {
				return v, true
			}
		}
	}
	return "", false
}

func (r ResultRule) lookup(payload any) (string, bool) {
	cur := payload
	for _, part := range r {
		switch node := cur.(type) {
		case map[string]any:
			val, ok := node[part]
			if !ok {
				return "", false
			}
			cur = val
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", false
			}
			cur = node[idx]
		default:
			return "", false
		}
	}
	s, ok := cur.(string)
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
