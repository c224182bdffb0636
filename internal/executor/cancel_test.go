package executor

import (
	"testing"
	"time"
)

func TestCancelDelayFloorsAtMinimum(t *testing.T) {
	cases := []struct {
		name             string
		timeRemainingSec float64
		want             time.Duration
	}{
		{"plenty of time left", 120, 115 * time.Second},
		{"just above the floor", 8, 3 * time.Second},
		{"below the floor clamps to minCancelDelay", 5, minCancelDelay},
		{"signal fired at the guard boundary", 0, minCancelDelay},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := cancelDelay(c.timeRemainingSec); got != c.want {
				t.Errorf("cancelDelay(%v) = %v, want %v", c.timeRemainingSec, got, c.want)
			}
		})
	}
}
