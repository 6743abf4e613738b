package normalize

import "strings"

// SplitList splits a comma separated multi-value cell, trimming values and
// dropping empty ones.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Dedup unions the given lists, keeping the first spelling of each value
// (case-insensitive) and the original order. Values are entity-decoded and
// trimmed; empty values are dropped.
func Dedup(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)

	for _, list := range lists {
		for _, v := range list {
			v = strings.TrimSpace(DecodeEntities(v))
			if v == "" {
				continue
			}

			key := strings.ToLower(v)
			if seen[key] {
				continue
			}

			seen[key] = true
			out = append(out, v)
		}
	}

	return out
}
