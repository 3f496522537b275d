package util

import "strings"

// ParseBool interprets a configuration value as a boolean. Accepts
// true/1/yes/on and false/0/no/off (case-insensitive); ok is false for
// anything else, including the empty string.
func ParseBool(val string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}
