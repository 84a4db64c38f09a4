package week

import "testing"

func TestNumberISO(t *testing.T) {
	cases := []struct {
		start, date string
		want        int
	}{
		{"2025-05-19", "2025-05-19", 1},
		{"2025-05-19", "2025-05-25", 1},
		{"2025-05-19", "2025-05-26", 2},
		{"2025-05-19", "2025-06-16", 5},
		{"2025-05-19", "2025-05-01", 1},
		{"2026-02-16", "2026-05-01", 11},
	}
	for _, c := range cases {
		got, err := NumberISO(c.start, c.date)
		if err != nil {
			t.Fatalf("NumberISO(%s, %s): %v", c.start, c.date, err)
		}
		if got != c.want {
			t.Errorf("NumberISO(%s, %s) = %d, want %d", c.start, c.date, got, c.want)
		}
	}
}

func TestNumberISORejectsBadDate(t *testing.T) {
	if _, err := NumberISO("2025-05-19", "2025-13-01"); err == nil {
		t.Fatalf("expected error for invalid month")
	}
}

func TestPeriod(t *testing.T) {
	if Period(5, 5) != Early {
		t.Errorf("week 5 should be early")
	}
	if Period(6, 5) != Late {
		t.Errorf("week 6 should be late")
	}
}
