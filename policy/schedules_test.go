package policy

import (
	"testing"
	"time"
)

func TestTimeRangeContains(t *testing.T) {
	tests := []struct {
		name  string
		r     TimeRange
		clock int // minutes of day
		want  bool
	}{
		{name: "within a normal range", r: TimeRange{StartHour: 9, EndHour: 17}, clock: 12 * 60, want: true},
		{name: "before a normal range", r: TimeRange{StartHour: 9, EndHour: 17}, clock: 8 * 60, want: false},
		{name: "overnight range wraps past midnight, late", r: TimeRange{StartHour: 22, EndHour: 6}, clock: 23 * 60, want: true},
		{name: "overnight range wraps past midnight, early", r: TimeRange{StartHour: 22, EndHour: 6}, clock: 5 * 60, want: true},
		{name: "overnight range excludes daytime", r: TimeRange{StartHour: 22, EndHour: 6}, clock: 12 * 60, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.contains(tt.clock); got != tt.want {
				t.Errorf("contains(%d) = %v, want %v", tt.clock, got, tt.want)
			}
		})
	}
}

func TestScheduleIsActive(t *testing.T) {
	weekday := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC) // a Wednesday, 10:00

	tests := []struct {
		name string
		s    Schedule
		want bool
	}{
		{
			name: "always block",
			s:    Schedule{Enabled: true, Kind: ScheduleAlwaysBlock},
			want: true,
		},
		{
			name: "never block",
			s:    Schedule{Enabled: true, Kind: ScheduleNeverBlock},
			want: false,
		},
		{
			name: "disabled schedule never active",
			s:    Schedule{Enabled: false, Kind: ScheduleAlwaysBlock},
			want: false,
		},
		{
			name: "time range inside window blocks",
			s: Schedule{Enabled: true, Kind: ScheduleTimeRange, TimeRanges: map[time.Weekday][]TimeRange{
				time.Wednesday: {{StartHour: 9, EndHour: 17}},
			}},
			want: true,
		},
		{
			name: "time range outside window allows",
			s: Schedule{Enabled: true, Kind: ScheduleTimeRange, TimeRanges: map[time.Weekday][]TimeRange{
				time.Wednesday: {{StartHour: 18, EndHour: 22}},
			}},
			want: false,
		},
		{
			name: "allow range inverts time range",
			s: Schedule{Enabled: true, Kind: ScheduleAllowRange, TimeRanges: map[time.Weekday][]TimeRange{
				time.Wednesday: {{StartHour: 9, EndHour: 17}},
			}},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.IsActive(weekday); got != tt.want {
				t.Errorf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActiveSchedulesPriorityOrder(t *testing.T) {
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	schedules := []Schedule{
		{ID: "low", Enabled: true, Kind: ScheduleAlwaysBlock, Priority: 1},
		{ID: "high", Enabled: true, Kind: ScheduleAlwaysBlock, Priority: 10},
	}
	active := ActiveSchedules(schedules, "example.com", now)
	if len(active) != 2 {
		t.Fatalf("ActiveSchedules() returned %d schedules, want 2", len(active))
	}
	if active[0].ID != "high" {
		t.Errorf("ActiveSchedules()[0].ID = %q, want %q (highest priority first)", active[0].ID, "high")
	}
}
