package infra

import "time"

// MaintenanceWindow is a weekly UTC range during which automated actions are
// suppressed. Hours are [StartHourUTC, EndHourUTC).
type MaintenanceWindow struct {
	DayOfWeek    time.Weekday `yaml:"day_of_week" json:"dayOfWeek"`
	StartHourUTC int          `yaml:"start_hour_utc" json:"startHourUtc"`
	EndHourUTC   int          `yaml:"end_hour_utc" json:"endHourUtc"`
}

// IsMaintenanceWindow reports whether now falls inside any window.
func IsMaintenanceWindow(now time.Time, windows []MaintenanceWindow) bool {
	utc := now.UTC()
	day, hour := utc.Weekday(), utc.Hour()
	for _, w := range windows {
		if w.DayOfWeek != day {
			continue
		}
		if hour >= w.StartHourUTC && hour < w.EndHourUTC {
			return true
		}
	}
	return false
}
