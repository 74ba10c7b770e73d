package crawler

import "strings"

// idPatternBlocklist holds exact entity ids and trailing-wildcard prefixes.
type idPatternBlocklist struct {
	exact    map[string]struct{}
	prefixes []string
}

// newIDPatternBlocklist returns nil when no usable patterns are supplied.
// Ids are case-sensitive; "UCabc*" blocks every id starting with "UCabc".
func newIDPatternBlocklist(patterns []string) *idPatternBlocklist {
	matcher := &idPatternBlocklist{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(raw)
		if value == "" || value == "*" {
			continue
		}
		if prefix, ok := strings.CutSuffix(value, "*"); ok {
			matcher.addPrefix(prefix)
			continue
		}
		matcher.exact[value] = struct{}{}
	}
	if len(matcher.exact) == 0 && len(matcher.prefixes) == 0 {
		return nil
	}
	return matcher
}

func (b *idPatternBlocklist) addPrefix(prefix string) {
	for _, existing := range b.prefixes {
		if existing == prefix {
			return
		}
	}
	b.prefixes = append(b.prefixes, prefix)
}

func (b *idPatternBlocklist) IsBlocked(id string) bool {
	if b == nil {
		return false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	if _, exact := b.exact[id]; exact {
		return true
	}
	for _, prefix := range b.prefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}
