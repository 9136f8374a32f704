package auth

import "strings"

// IsPathBypassed reports whether path matches any of rules. A path matches a
// rule when it equals the rule, is a sub-path of it ("/api/public" covers
// "/api/public/nested" but not "/api/public-test"), or matches a wildcard
// rule where "*" stands for zero or more characters. Wildcard rules are
// anchored at the start of the path only.
func IsPathBypassed(path string, rules []string) bool {
	for _, rule := range rules {
		if matchBypassRule(path, rule) {
			return true
		}
	}
	return false
}

func matchBypassRule(path, rule string) bool {
	if rule == "" {
		return false
	}
	if !strings.Contains(rule, "*") {
		return path == rule || strings.HasPrefix(path, strings.TrimSuffix(rule, "/")+"/")
	}

	parts := strings.Split(rule, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	rest := path[len(parts[0]):]
	for _, part := range parts[1:] {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}
	return true
}
