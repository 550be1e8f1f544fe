package cli

import (
	"fmt"
	"strconv"
	"time"
)

// parseTimeFlag accepts RFC3339 or unix seconds. Empty input yields nil.
func parseTimeFlag(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	return nil, fmt.Errorf("invalid --%s value %q (want RFC3339 or unix seconds)", name, raw)
}
