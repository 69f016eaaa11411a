package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseLadder parses the escalation ladder. Every rung must be positive and
// the sequence must never decrease.
func ParseLadder(path string, raw []string) ([]time.Duration, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: at least one duration is required", path)
	}
	out := make([]time.Duration, 0, len(raw))
	for i, r := range raw {
		p := fmt.Sprintf("%s[%d]", path, i)
		d, err := ParseDurationField(p, r)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s: duration must be > 0", p)
		}
		if i > 0 && d < out[i-1] {
			return nil, fmt.Errorf("%s: %s is shorter than the previous rung %s", p, d, out[i-1])
		}
		out = append(out, d)
	}
	return out, nil
}
