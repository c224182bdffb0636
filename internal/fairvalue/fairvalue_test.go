package fairvalue

import "testing"

const epsilon = 1e-9

func TestComplement(t *testing.T) {
	t.Parallel()

	cases := []struct{ spot, open, t float64 }{
		{84000, 84000, 0.5},
		{84252, 84000, 0.5},
		{83000, 84000, 0.1},
		{84000, 84000, 1.0},
	}
	for _, c := range cases {
		yes := FairYes(c.spot, c.open, c.t)
		no := FairNo(c.spot, c.open, c.t)
		if diff := yes + no - 1.0; diff > epsilon || diff < -epsilon {
			t.Errorf("FairYes(%v)+FairNo(%v) = %v, want 1.0", c, c, yes+no)
		}
	}
}

func TestFlatWhenSpotEqualsOpen(t *testing.T) {
	t.Parallel()

	for _, tr := range []float64{0, 0.25, 0.5, 0.75, 1.0} {
		if got := FairYes(84000, 84000, tr); got != 0.5 {
			t.Errorf("FairYes(s,s,%v) = %v, want 0.5", tr, got)
		}
	}
}

func TestMonotonicInMove(t *testing.T) {
	t.Parallel()

	const open, tr = 84000.0, 0.5
	s1, s2 := 85000.0, 84500.0
	if FairYes(s1, open, tr) < FairYes(s2, open, tr) {
		t.Errorf("FairYes should be non-decreasing in spot: FairYes(%v)=%v < FairYes(%v)=%v",
			s1, FairYes(s1, open, tr), s2, FairYes(s2, open, tr))
	}
}

func TestMonotonicInElapsed(t *testing.T) {
	t.Parallel()

	const spot, open = 84100.0, 84000.0 // positive move_pct
	early := FairYes(spot, open, 0.9)    // little elapsed
	late := FairYes(spot, open, 0.1)     // lots elapsed

	distEarly := early - 0.5
	distLate := late - 0.5
	if distLate <= distEarly {
		t.Errorf("expected fair value to move further from 0.5 as elapsed time grows: early=%v late=%v", early, late)
	}
}

func TestNonPositiveInputsReturnHalf(t *testing.T) {
	t.Parallel()

	if got := FairYes(0, 84000, 0.5); got != 0.5 {
		t.Errorf("FairYes(0, ...) = %v, want 0.5", got)
	}
	if got := FairYes(84000, 0, 0.5); got != 0.5 {
		t.Errorf("FairYes(.., 0, ..) = %v, want 0.5", got)
	}
	if got := FairYes(84000, 84000, -0.1); got != 0.5 {
		t.Errorf("FairYes(.., .., negative) = %v, want 0.5", got)
	}
}

// S2 from the scenario table: +0.30% move at t=0.5 should compute
// fv_yes ≈ 0.656.
func TestScenarioS2(t *testing.T) {
	t.Parallel()

	got := FairYes(84252, 84000, 0.5)
	want := 0.656
	if diff := got - want; diff > 1e-3 || diff < -1e-3 {
		t.Errorf("FairYes(84252,84000,0.5) = %v, want ≈%v", got, want)
	}
}

// S3: +0.12% move at t=0.5 should compute fv_yes ≈ 0.5624.
func TestScenarioS3(t *testing.T) {
	t.Parallel()

	got := FairYes(84100, 84000, 0.5)
	want := 0.5624
	if diff := got - want; diff > 1e-3 || diff < -1e-3 {
		t.Errorf("FairYes(84100,84000,0.5) = %v, want ≈%v", got, want)
	}
}

func TestSaturatesAtClamp(t *testing.T) {
	t.Parallel()

	// A huge move at t=0 (fully elapsed) should hit the 0.95 ceiling.
	got := FairYes(100000, 84000, 0.0)
	if got != 0.95 {
		t.Errorf("FairYes with large move at window close = %v, want 0.95 (saturated)", got)
	}

	got = FairNo(100000, 84000, 0.0)
	if diff := got - 0.05; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("FairNo with large move at window close = %v, want ≈0.05", got)
	}
}
