package types

import (
	"testing"
	"time"
)

func tod(t *testing.T, s string) *TimeOfDay {
	t.Helper()
	v, err := ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%q): %v", s, err)
	}
	return &v
}

func TestInQuietHours(t *testing.T) {
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	tests := []struct {
		name  string
		start string
		end   string
		now   time.Time
		want  bool
	}{
		{"inside daytime window", "13:00", "15:00", at(14, 0), true},
		{"start bound excluded", "13:00", "15:00", at(13, 0), false},
		{"end bound excluded", "13:00", "15:00", at(15, 0), false},
		{"wrapping window late", "22:00", "07:00", at(23, 30), true},
		{"wrapping window early", "22:00", "07:00", at(6, 59), true},
		{"wrapping window outside", "22:00", "07:00", at(12, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NotificationPreferences{PushEnabled: true, QuietHoursEnabled: true, QuietStart: tod(t, tt.start), QuietEnd: tod(t, tt.end)}
			if got := p.InQuietHours(tt.now); got != tt.want {
				t.Errorf("InQuietHours() = %v, want %v", got, tt.want)
			}
		})
	}

	disabled := NotificationPreferences{QuietStart: tod(t, "00:00"), QuietEnd: tod(t, "23:59")}
	if disabled.InQuietHours(at(12, 0)) {
		t.Error("disabled quiet hours should never match")
	}
}

func TestCoversDate(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := MedicationSchedule{StartDate: &start, PrescriptionDays: 7}

	tests := []struct {
		day  time.Time
		want bool
	}{
		{start.AddDate(0, 0, -1), false},
		{start, true},
		{start.AddDate(0, 0, 7), true},
		{start.AddDate(0, 0, 8), false},
	}
	for _, tt := range tests {
		if got := s.CoversDate(tt.day); got != tt.want {
			t.Errorf("CoversDate(%s) = %v, want %v", tt.day.Format("2006-01-02"), got, tt.want)
		}
	}

	if !(MedicationSchedule{}).CoversDate(start) {
		t.Error("schedule without start date should cover every day")
	}
}

func TestTimeOfDay(t *testing.T) {
	v := tod(t, "08:30:00")
	if v.String() != "08:30" {
		t.Errorf("String() = %q", v.String())
	}
	loc := time.FixedZone("KST", 9*3600)
	got := v.On(time.Date(2026, 5, 4, 23, 0, 0, 0, loc))
	want := time.Date(2026, 5, 4, 8, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("On() = %v, want %v", got, want)
	}
	if _, err := ParseTimeOfDay("8am"); err == nil {
		t.Error("ParseTimeOfDay accepted 8am")
	}
}
