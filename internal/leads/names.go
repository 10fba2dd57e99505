package leads

import "strings"

// SplitName separates a display name into first and last parts. Everything
// after the first token is treated as the last name; honorific noise is not
// stripped because the upstream already renders bare names.
func SplitName(full string) (first, last string) {
	fields := strings.Fields(strings.TrimSpace(full))
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// NormalizeProfileURL strips tracking query noise and trailing slashes so
// the (profile_url, campaign_id) dedup key is stable across scrapes and
// strategies.
func NormalizeProfileURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimRight(raw, "/")
}
