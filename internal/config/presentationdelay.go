package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParsePresentationDelay parses the "Ns" / "Nms" / "Nf" form of
// scheduler.presentation_delay. "Ns" and "Nms" resolve
// directly to a time.Duration; "Nf" (a frame count) cannot be resolved to
// a duration without a representation's frame rate, so its frame count is
// returned in frames, with d=0 — the caller (the scheduler,
// which knows the active representation) converts it once a frame rate
// is known.
func ParsePresentationDelay(s string) (d time.Duration, frames int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("presentation delay: empty string")
	}

	switch {
	case strings.HasSuffix(s, "ms"):
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "ms"), 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("presentation delay %q: %w", s, err)
		}
		return time.Duration(n) * time.Millisecond, 0, nil
	case strings.HasSuffix(s, "s"):
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "s"), 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("presentation delay %q: %w", s, err)
		}
		return time.Duration(n) * time.Second, 0, nil
	case strings.HasSuffix(s, "f"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "f"))
		if err != nil {
			return 0, 0, fmt.Errorf("presentation delay %q: %w", s, err)
		}
		return 0, n, nil
	default:
		return 0, 0, fmt.Errorf("presentation delay %q: must end in s, ms, or f", s)
	}
}
