package backoff

import (
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 5 * time.Minute},
		{2, 25 * time.Minute},
		{3, 125 * time.Minute},
	}
	for _, tc := range cases {
		got := Delay(tc.attempts)
		if got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestNextRetryAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := NextRetryAt(now, 1)
	want := now.Add(5 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("NextRetryAt = %v, want %v", got, want)
	}
}
