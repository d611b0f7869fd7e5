package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration interprets an optional duration field. Blank or zero means
// unset and yields def; anything else must be a non-negative Go duration
// string such as "90s" or "2m". field is used only in error messages.
func ParseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. \"90s\"): %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
