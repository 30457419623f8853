package config

import (
	"time"
	_ "time/tzdata"
)

// IsTimezoneValid checks if the given timezone is valid by attempting to load it from the tz database.
// The embedded tz database is used when the system has none.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}
