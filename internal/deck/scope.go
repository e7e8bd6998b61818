package deck

import "strings"

// ChatScope decides which chat channels are in scope.
// Exact entries match one channel; prefix entries match any channel starting with them.
type ChatScope struct {
	Exact  []string
	Prefix []string
}

// NormalizeChannel lowercases, trims, and strips one leading "#".
func NormalizeChannel(name string) string {
	text := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimPrefix(text, "#")
}

// InScope reports whether channel matches an exact or prefix rule.
func (c ChatScope) InScope(channel string) bool {
	normalized := NormalizeChannel(channel)
	for _, exact := range c.Exact {
		if normalized == NormalizeChannel(exact) {
			return true
		}
	}
	for _, prefix := range c.Prefix {
		if strings.HasPrefix(normalized, NormalizeChannel(prefix)) {
			return true
		}
	}
	return false
}
