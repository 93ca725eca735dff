package policy

import (
	"sort"
	"time"
)

// ScheduleKind is a Schedule's activation rule.
type ScheduleKind string

const (
	ScheduleAlwaysBlock ScheduleKind = "always_block"
	ScheduleNeverBlock  ScheduleKind = "never_block"
	ScheduleTimeRange   ScheduleKind = "time_range"
	ScheduleAllowRange  ScheduleKind = "allow_range"
)

// TimeRange is a start/end time-of-day pair. An End before Start is an
// overnight range that wraps past midnight (§4.4/§8 boundary behavior).
type TimeRange struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
}

// contains reports whether clock time t (hour*60+minute) falls within
// the range, handling the midnight-crossing case as two modular spans.
func (r TimeRange) contains(minutesOfDay int) bool {
	start := r.StartHour*60 + r.StartMinute
	end := r.EndHour*60 + r.EndMinute
	if start <= end {
		return minutesOfDay >= start && minutesOfDay <= end
	}
	return minutesOfDay >= start || minutesOfDay <= end
}

// Schedule is the §3 Schedule entity.
type Schedule struct {
	ID         string
	Name       string
	Kind       ScheduleKind
	Enabled    bool
	Categories []string
	Domains    []string
	// TimeRanges is keyed by time.Weekday (time.Sunday == 0).
	TimeRanges map[time.Weekday][]TimeRange
	StartDate  *time.Time // optional date window (inclusive)
	EndDate    *time.Time
	Priority   int
}

// AppliesTo reports whether the schedule governs domain — either via its
// own Domains list, or via its Categories list naming a built-in category
// whose domain set contains domain. An empty Domains/Categories set on
// the schedule means it applies to everything that reaches this check.
func (s Schedule) AppliesTo(domain string) bool {
	if len(s.Domains) == 0 && len(s.Categories) == 0 {
		return true
	}
	if _, ok := anyDomainMatches(domain, s.Domains); ok {
		return true
	}
	for _, c := range s.Categories {
		if def, ok := CategoryByID(Category(c)); ok && domainInCategory(domain, def) {
			return true
		}
	}
	return false
}

// IsActive reports whether the schedule is currently blocking, at time t.
func (s Schedule) IsActive(t time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.StartDate != nil && t.Before(truncateDate(*s.StartDate)) {
		return false
	}
	if s.EndDate != nil && t.After(endOfDay(*s.EndDate)) {
		return false
	}

	switch s.Kind {
	case ScheduleAlwaysBlock:
		return true
	case ScheduleNeverBlock:
		return false
	case ScheduleTimeRange:
		return s.inAnyRange(t)
	case ScheduleAllowRange:
		return !s.inAnyRange(t)
	default:
		return false
	}
}

func (s Schedule) inAnyRange(t time.Time) bool {
	ranges := s.TimeRanges[t.Weekday()]
	minutesOfDay := t.Hour()*60 + t.Minute()
	for _, r := range ranges {
		if r.contains(minutesOfDay) {
			return true
		}
	}
	return false
}

func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-1), t.Location())
}

// ActiveSchedules returns every schedule in schedules that is currently
// active for domain, ordered highest priority first; ties break by
// schedule ID, lexicographically (§4.4).
func ActiveSchedules(schedules []Schedule, domain string, now time.Time) []Schedule {
	var active []Schedule
	for _, s := range schedules {
		if s.AppliesTo(domain) && s.IsActive(now) {
			active = append(active, s)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return active[i].ID < active[j].ID
	})
	return active
}
