package reminder

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var recurrenceAliases = map[string]string{
	"hourly": "@hourly",
	"daily":  "@daily",
	"weekly": "@weekly",
}

// intervalRef anchors interval detection; any fixed UTC instant works.
var intervalRef = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// IntervalForLabel derives a fixed repeat interval in seconds from a
// recurrence label. It understands "hourly", "daily", "weekly", cron
// descriptors such as "@every 90m" and standard cron specs whose occurrences
// are evenly spaced. Labels without a fixed spacing, like "@monthly", report
// false and stay decorative.
func IntervalForLabel(label string) (int64, bool) {
	spec := strings.TrimSpace(label)
	if spec == "" {
		return 0, false
	}
	if alias, ok := recurrenceAliases[strings.ToLower(spec)]; ok {
		spec = alias
	}
	sched, err := cron.ParseStandard("CRON_TZ=UTC " + spec)
	if err != nil {
		return 0, false
	}
	if c, ok := sched.(cron.ConstantDelaySchedule); ok {
		return int64(c.Delay / time.Second), true
	}

	prev := sched.Next(intervalRef)
	gap := time.Duration(0)
	for i := 0; i < 10; i++ {
		next := sched.Next(prev)
		d := next.Sub(prev)
		if d <= 0 || (gap != 0 && d != gap) {
			return 0, false
		}
		gap, prev = d, next
	}
	return int64(gap / time.Second), true
}
