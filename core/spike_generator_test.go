package core

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestSpikeGeneratorEmitsOnScheduledSteps(t *testing.T) {
	clock := newTestClock(t, 0.1)
	gen, err := NewSpikeGeneratorGroup("input", 4,
		[]int{3, 0, 1, 2, 1, 1},
		[]float64{0.2, 0.0, 0.2, 0.25, 0.21, 0.22},
		clock,
	)
	if err != nil {
		t.Fatalf("NewSpikeGeneratorGroup: %v", err)
	}

	byStep := map[int64][]int{}
	clock.SetInterval(0, 0.5)
	for clock.Running() {
		if err := gen.Update(); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if ev := gen.Events(); len(ev) > 0 {
			byStep[clock.Step()] = ev
		}
		clock.Tick()
	}

	// 0.21, 0.22 and 0.25 all bin to step 3, where element 1 fires once.
	want := map[int64][]int{
		0: {0},
		2: {1, 3},
		3: {1, 2},
	}
	if len(byStep) != len(want) {
		t.Fatalf("events by step = %v, want %v", byStep, want)
	}
	for step, ev := range want {
		if !slices.Equal(byStep[step], ev) {
			t.Fatalf("step %d events = %v, want %v", step, byStep[step], ev)
		}
	}

	idx, times := gen.Schedule()
	if !slices.Equal(idx, []int{0, 1, 3, 1, 1, 2}) || !slices.Equal(times, []float64{0, 0.2, 0.2, 0.21, 0.22, 0.25}) {
		t.Fatalf("schedule = %v %v", idx, times)
	}
}

func TestSpikeGeneratorRepeatsWithPeriod(t *testing.T) {
	clock := newTestClock(t, 0.25)
	gen, err := NewSpikeGeneratorGroup("clocked", 1, []int{0}, []float64{0.25}, clock, WithPeriod(1.0))
	if err != nil {
		t.Fatalf("NewSpikeGeneratorGroup: %v", err)
	}
	mon, err := NewSpikeMonitor("mon", gen)
	if err != nil {
		t.Fatalf("NewSpikeMonitor: %v", err)
	}
	net := NewNetwork()
	if err := net.Add(gen, mon); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := net.Run(context.Background(), 3.0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var steps []int64
	for _, s := range mon.Spikes() {
		steps = append(steps, s.Step)
	}
	if !slices.Equal(steps, []int64{1, 5, 9}) {
		t.Fatalf("spike steps = %v, want [1 5 9]", steps)
	}
}

func TestSpikeGeneratorValidation(t *testing.T) {
	clock := newTestClock(t, 0.1)
	tests := []struct {
		name    string
		n       int
		indices []int
		times   []float64
		opts    []GeneratorOption
	}{
		{name: "no elements", n: 0},
		{name: "length mismatch", n: 2, indices: []int{0}, times: []float64{0, 1}},
		{name: "index out of range", n: 2, indices: []int{2}, times: []float64{0}},
		{name: "negative time", n: 2, indices: []int{0}, times: []float64{-0.1}},
		{name: "negative period", n: 2, opts: []GeneratorOption{WithPeriod(-1)}},
		{name: "period not past last spike", n: 2, indices: []int{0}, times: []float64{0.5}, opts: []GeneratorOption{WithPeriod(0.5)}},
		{name: "period shorter than binned spike", n: 2, indices: []int{0}, times: []float64{0.24}, opts: []GeneratorOption{WithPeriod(0.25)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpikeGeneratorGroup("g", tt.n, tt.indices, tt.times, clock, tt.opts...)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
	if _, err := NewSpikeGeneratorGroup("g", 1, nil, nil, nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("nil clock error = %v, want ErrInvalidConfiguration", err)
	}
}
