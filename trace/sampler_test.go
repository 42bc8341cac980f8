package trace

import (
	"testing"
	"time"
)

func TestAlwaysNeverSample(t *testing.T) {

	if !AlwaysSample.IsSampled(1) {
		t.Error("AlwaysSample should sample")
	}
	if NeverSample.IsSampled(1) {
		t.Error("NeverSample should not sample")
	}
}

func TestBoundarySampler(t *testing.T) {

	s, err := NewBoundarySampler(1.0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for id := uint64(1); id < 100; id++ {
		if !s.IsSampled(id) {
			t.Fatalf("rate 1.0 should sample trace %d", id)
		}
	}

	s, err = NewBoundarySampler(0.0001, 0)
	if err != nil {
		t.Fatal(err)
	}
	sampled := 0
	for id := uint64(0); id < 10000; id++ {
		if s.IsSampled(id) {
			sampled++
		}
	}
	if sampled != 1 {
		t.Errorf("rate 0.0001 over the modulus domain should sample once, got %d", sampled)
	}
}

func TestBoundarySamplerDeterministic(t *testing.T) {

	a, err := NewBoundarySampler(0.25, 42)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBoundarySampler(0.25, 42)
	if err != nil {
		t.Fatal(err)
	}
	for id := uint64(0); id < 1000; id++ {
		if a.IsSampled(id) != b.IsSampled(id) {
			t.Fatalf("same rate and salt should decide trace %d identically", id)
		}
	}
}

func TestBoundarySamplerRejectsRate(t *testing.T) {

	for _, rate := range []float64{0.00001, 1.1, -1} {
		if _, err := NewBoundarySampler(rate, 0); err == nil {
			t.Errorf("rate %v should be rejected", rate)
		}
	}
}

func TestCountingSampler(t *testing.T) {

	s, err := NewCountingSampler(0.3)
	if err != nil {
		t.Fatal(err)
	}
	sampled := 0
	for i := 0; i < 100; i++ {
		if s.IsSampled(uint64(i)) {
			sampled++
		}
	}
	if sampled != 30 {
		t.Errorf("rate 0.3 should sample exactly 30 of 100, got %d", sampled)
	}

	// the pattern repeats per hundred
	sampled = 0
	for i := 0; i < 300; i++ {
		if s.IsSampled(uint64(i)) {
			sampled++
		}
	}
	if sampled != 90 {
		t.Errorf("rate 0.3 should sample exactly 90 of 300, got %d", sampled)
	}
}

func TestCountingSamplerRejectsRate(t *testing.T) {

	for _, rate := range []float64{0.001, 1.5, -0.3} {
		if _, err := NewCountingSampler(rate); err == nil {
			t.Errorf("rate %v should be rejected", rate)
		}
	}
}

func TestRateLimitingSampler(t *testing.T) {

	s := NewRateLimitingSampler(10).(*rateLimitingSampler)
	current := time.Unix(1000, 0)
	s.now = func() time.Time { return current }

	if !s.IsSampled(1) {
		t.Fatal("first trace in the window should be sampled")
	}
	if s.IsSampled(2) {
		t.Error("budget of one per decisecond should be spent")
	}

	current = current.Add(100 * time.Millisecond)
	if !s.IsSampled(3) {
		t.Error("next decisecond should refill the budget")
	}
}

func TestRateLimitingSamplerSmallBudget(t *testing.T) {

	s := NewRateLimitingSampler(2).(*rateLimitingSampler)
	current := time.Unix(2000, 0)
	s.now = func() time.Time { return current }

	if !s.IsSampled(1) || !s.IsSampled(2) {
		t.Error("first decisecond should carry the whole small budget")
	}
	if s.IsSampled(3) {
		t.Error("small budget should be spent")
	}

	current = current.Add(100 * time.Millisecond)
	if s.IsSampled(4) {
		t.Error("later deciseconds get nothing from a small budget")
	}
}

func TestRateLimitingSamplerZero(t *testing.T) {

	if NewRateLimitingSampler(0).IsSampled(1) {
		t.Error("zero rate should never sample")
	}
}

func TestParameterizedSampler(t *testing.T) {

	matchA := func(request interface{}) bool { return request == "a" }
	matchAll := func(request interface{}) bool { return true }

	p := NewParameterizedSampler(
		Rule{Matcher: matchA, Sampler: NeverSample},
		Rule{Matcher: matchAll, Sampler: AlwaysSample},
	)

	if d := p.Sample("a", 1); d != DecisionDrop {
		t.Errorf("first matching rule should win, got %v", d)
	}
	if d := p.Sample("b", 1); d != DecisionSample {
		t.Errorf("fallback rule should sample, got %v", d)
	}

	empty := NewParameterizedSampler()
	if d := empty.Sample("a", 1); d != DecisionDefer {
		t.Errorf("no matching rule should defer, got %v", d)
	}
}
