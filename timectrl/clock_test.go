package timectrl

import (
	"errors"
	"math"
	"testing"
)

func mustClock(t *testing.T, dt float64) *Clock {
	t.Helper()
	c, err := NewClock(dt)
	if err != nil {
		t.Fatalf("NewClock(%v): %v", dt, err)
	}
	return c
}

func TestNewClockRejectsNonPositiveDT(t *testing.T) {
	for _, dt := range []float64{0, -0.1, math.NaN(), math.Inf(1)} {
		if _, err := NewClock(dt); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("NewClock(%v) error = %v, want ErrInvalidConfiguration", dt, err)
		}
	}
}

func TestNewClockStartsAtZero(t *testing.T) {
	c := mustClock(t, 0.1)
	if c.Step() != 0 || c.EndStep() != 0 {
		t.Fatalf("new clock = %v, want i=0 i_end=0", c)
	}
	if c.Running() {
		t.Fatalf("new clock should not be running")
	}
}

func TestSetIntervalExactMultiplesOfDT(t *testing.T) {
	for _, dt := range []float64{0.1, 0.0001, 1e-5, 0.25, 3} {
		c := mustClock(t, dt)
		for k := int64(0); k < 2000; k += 7 {
			start := float64(k) * dt
			c.SetInterval(start, start)
			if c.Step() != k {
				t.Fatalf("dt=%v: SetInterval(%v).i = %d, want %d", dt, start, c.Step(), k)
			}
		}
	}
}

func TestSetIntervalEndRounding(t *testing.T) {
	tests := []struct {
		name string
		dt   float64
		end  float64
		want int64
	}{
		{name: "exact", dt: 0.1, end: 1.0, want: 10},
		{name: "representation drift below", dt: 0.1, end: 0.3, want: 3},
		{name: "accumulated drift above", dt: 0.1, end: 0.1 + 0.1 + 0.1, want: 3},
		{name: "inside a step rounds up", dt: 0.1, end: 0.21, want: 3},
		{name: "just past a half step", dt: 0.1, end: 0.26, want: 3},
		{name: "zero", dt: 0.1, end: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustClock(t, tt.dt)
			c.SetInterval(0, tt.end)
			if c.EndStep() != tt.want {
				t.Fatalf("SetInterval(0, %v).i_end = %d, want %d", tt.end, c.EndStep(), tt.want)
			}
		})
	}
}

func TestSetIntervalMatchesRoundOrCeil(t *testing.T) {
	dt := 0.1
	c := mustClock(t, dt)
	for _, end := range []float64{0.05, 0.15, 0.33, 0.7, 1.01, 2.5, 9.99, 12.3456} {
		c.SetInterval(0, end)
		rounded := int64(end/dt + 0.5)
		recon := float64(rounded) * dt
		want := rounded
		if recon != end && math.Abs(recon-end) > Epsilon*math.Abs(recon) {
			want = int64(math.Ceil(end / dt))
		}
		if c.EndStep() != want {
			t.Fatalf("SetInterval(0, %v).i_end = %d, want %d", end, c.EndStep(), want)
		}
	}
}

func TestSetIntervalDoesNotRepeatStepAcrossRuns(t *testing.T) {
	c := mustClock(t, 0.1)
	c.SetInterval(0, 0.3)
	for c.Running() {
		c.Tick()
	}
	// The second run starts from the drifted end time of the first.
	c.SetInterval(c.T(), c.T()+0.2)
	if c.Step() != 3 {
		t.Fatalf("second run starts at step %d, want 3", c.Step())
	}
	if c.EndStep() != 5 {
		t.Fatalf("second run ends at step %d, want 5", c.EndStep())
	}
}

func TestTickMatchesSetT(t *testing.T) {
	dt := 0.25
	a := mustClock(t, dt)
	b := mustClock(t, dt)
	a.SetInterval(0.5, 10)
	b.SetInterval(0.5, 10)

	const n = 13
	start := a.Step()
	for i := 0; i < n; i++ {
		a.Tick()
	}
	b.SetT(float64(start)*dt + n*dt)

	if a.Step() != b.Step() || a.Step() != start+n {
		t.Fatalf("tick step = %d, SetT step = %d, want %d", a.Step(), b.Step(), start+n)
	}
	if a.EndStep() != b.EndStep() {
		t.Fatalf("end steps diverged: %d vs %d", a.EndStep(), b.EndStep())
	}
}

func TestSetTTruncates(t *testing.T) {
	c := mustClock(t, 0.1)
	c.SetT(0.29)
	if c.Step() != 2 {
		t.Fatalf("SetT(0.29).i = %d, want 2", c.Step())
	}
	c.SetTEnd(0.51)
	if c.EndStep() != 5 {
		t.Fatalf("SetTEnd(0.51).i_end = %d, want 5", c.EndStep())
	}
}

func TestRunningWindow(t *testing.T) {
	c := mustClock(t, 0.5)
	c.SetInterval(1, 3)
	if c.Step() != 2 || c.EndStep() != 6 {
		t.Fatalf("interval = [%d, %d), want [2, 6)", c.Step(), c.EndStep())
	}
	for step := int64(2); step < 6; step++ {
		if !c.Running() {
			t.Fatalf("Running() false at step %d, want true", step)
		}
		c.Tick()
	}
	for i := 0; i < 3; i++ {
		if c.Running() {
			t.Fatalf("Running() true at step %d, want false", c.Step())
		}
		c.Tick()
	}
}

func TestTimesDeriveFromSteps(t *testing.T) {
	c := mustClock(t, 0.5)
	c.SetInterval(1, 2)
	if c.T() != 1 || c.TEnd() != 2 {
		t.Fatalf("T()=%v TEnd()=%v, want 1 and 2", c.T(), c.TEnd())
	}
}

func TestInRangeAndSaturation(t *testing.T) {
	c, err := NewClock(0.1)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	cases := []struct {
		t    float64
		want bool
	}{
		{0, true},
		{1.5, true},
		{1e17, true},
		{-0.1, false},
		{math.NaN(), false},
		{math.Inf(1), false},
		{1e18, false},
		{1e300, false},
	}
	for _, tc := range cases {
		if got := c.InRange(tc.t); got != tc.want {
			t.Errorf("InRange(%g) = %v, want %v", tc.t, got, tc.want)
		}
	}

	for _, v := range []float64{math.Inf(1), 1e300} {
		if got := c.StepFor(v); got != math.MaxInt64 {
			t.Errorf("StepFor(%g) = %d, want MaxInt64", v, got)
		}
	}
	c.SetInterval(0, math.Inf(1))
	if c.EndStep() < c.Step() {
		t.Fatalf("end step %d before step %d", c.EndStep(), c.Step())
	}
	c.SetT(1e300)
	c.SetTEnd(math.Inf(1))
	if c.Step() != math.MaxInt64 || c.EndStep() != math.MaxInt64 {
		t.Fatalf("SetT/SetTEnd did not saturate: %v", c)
	}
}
