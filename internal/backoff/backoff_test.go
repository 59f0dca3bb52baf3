package backoff

import (
	"testing"
	"time"
)

func TestComputeCapsAtCeiling(t *testing.T) {
	d := Compute(10)
	if d > ceiling {
		t.Errorf("Compute(10) = %v, want <= %v", d, ceiling)
	}
}

func TestComputeGrowsWithAttempt(t *testing.T) {
	if Compute(3) <= Compute(1) {
		t.Errorf("Compute(3) = %v should exceed Compute(1) = %v roughly by factor", Compute(3), Compute(1))
	}
}

func TestComputeWithinJitterBand(t *testing.T) {
	for attempt := 1; attempt <= 5; attempt++ {
		d := Compute(attempt)
		nominal := base * time.Duration(1<<uint(attempt-1))
		if nominal > ceiling {
			nominal = ceiling
		}
		lower := nominal - nominal/4
		upper := nominal + nominal/4
		if d < lower || d > upper {
			t.Errorf("Compute(%d) = %v outside jitter band [%v,%v]", attempt, d, lower, upper)
		}
	}
}
