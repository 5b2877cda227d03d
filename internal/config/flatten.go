package config

import (
	"sort"
	"strings"
)

var secretKeys = map[string]bool{
	"llm.api_key":    true,
	"telegram.token": true,
}

// leafMaps are objects whose keys are data rather than config paths.
var leafMaps = map[string]bool{
	"telegram.chat_ids": true,
}

// IsSecretKey reports whether the dot-separated key holds a secret.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten converts a nested map into dot-separated keys, e.g.
// {"ledger": {"backend": "file"}} becomes {"ledger.backend": "file"}.
// Lists and the telegram chat directory stay whole.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok && !leafMaps[key] {
				walk(key, child)
				continue
			}
			out[key] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar in the way of a deeper key
// is replaced by a map.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setPath(out, strings.Split(k, "."), v)
	}
	return out
}

func setPath(node map[string]any, path []string, v any) {
	for _, part := range path[:len(path)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	node[path[len(path)-1]] = v
}

// SortedKeys returns the keys of flat in order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mask(s string) string {
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}

// MaskSecrets returns a copy of flat with non-empty secrets shown as
// "***" plus their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && secretKeys[k] {
			out[k] = mask(s)
			continue
		}
		out[k] = v
	}
	return out
}
