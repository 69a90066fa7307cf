package timeutil

import (
	"fmt"
	"time"
)

// IsTimezoneValid checks tz against the system tz database. "Local" is
// accepted; the empty string is not.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// LoadLocation resolves a configured zone name. An empty name means the
// host's local zone.
func LoadLocation(tz string) (*time.Location, error) {
	if tz == "" || tz == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return loc, nil
}
