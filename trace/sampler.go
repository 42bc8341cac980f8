package trace

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Sampler decides whether a new trace should be recorded, from the trace
// identifier alone. Implementations must be safe for concurrent use. Local
// sampling only governs trace initiation: a decision extracted from a caller
// is never overridden.
type Sampler interface {
	IsSampled(traceID uint64) bool
}

type alwaysSampler struct{}

func (alwaysSampler) IsSampled(traceID uint64) bool { return true }

type neverSampler struct{}

func (neverSampler) IsSampled(traceID uint64) bool { return false }

var (
	AlwaysSample Sampler = alwaysSampler{}
	NeverSample  Sampler = neverSampler{}
)

type boundarySampler struct {
	boundary uint64
	salt     uint64
}

// NewBoundarySampler samples the given fraction of traces deterministically
// from the trace ID, so replaying the same IDs reproduces the same
// decisions. Suited to high traffic; rate granularity is 0.0001.
func NewBoundarySampler(rate float64, salt uint64) (Sampler, error) {

	switch {
	case rate == 0:
		return NeverSample, nil
	case rate == 1:
		return AlwaysSample, nil
	case rate < 0.0001 || rate > 1:
		return nil, errors.Errorf("rate should be between 0.0001 and 1: was %g", rate)
	}
	return &boundarySampler{boundary: uint64(rate * 10000), salt: salt}, nil
}

func (s *boundarySampler) IsSampled(traceID uint64) bool {
	return (traceID^s.salt)%10000 < s.boundary
}

type countingSampler struct {
	mu       sync.Mutex
	decision [100]bool
	i        int
}

// NewCountingSampler samples the given percentage of traces by counting,
// with the sampled slots shuffled so the decisions are not bunched. Only
// appropriate for low-traffic instrumentation; rate granularity is 0.01.
func NewCountingSampler(rate float64) (Sampler, error) {

	switch {
	case rate == 0:
		return NeverSample, nil
	case rate == 1:
		return AlwaysSample, nil
	case rate < 0.01 || rate > 1:
		return nil, errors.Errorf("rate should be between 0.01 and 1: was %g", rate)
	}

	s := &countingSampler{}
	take := int(rate * 100)
	for i := 0; i < take; i++ {
		s.decision[i] = true
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	r.Shuffle(100, func(i, j int) {
		s.decision[i], s.decision[j] = s.decision[j], s.decision[i]
	})
	return s, nil
}

func (s *countingSampler) IsSampled(traceID uint64) bool {

	s.mu.Lock()
	v := s.decision[s.i]
	s.i = (s.i + 1) % 100
	s.mu.Unlock()
	return v
}

type rateLimitingSampler struct {
	mu           sync.Mutex
	maxFirstDeci int64
	maxOtherDeci int64
	usage        int64
	nextReset    int64
	deciInterval int64
	now          func() time.Time
}

// NewRateLimitingSampler admits at most tracesPerSecond new traces, spread
// over the second in decisecond windows so a burst at the top of the second
// cannot consume the whole budget.
func NewRateLimitingSampler(tracesPerSecond int) Sampler {

	if tracesPerSecond <= 0 {
		return NeverSample
	}

	s := &rateLimitingSampler{
		deciInterval: int64(100 * time.Millisecond),
		now:          time.Now,
	}
	if tracesPerSecond < 10 {
		// too small a budget to spread: the first decisecond takes it all
		s.maxFirstDeci = int64(tracesPerSecond)
		s.maxOtherDeci = 0
	} else {
		s.maxOtherDeci = int64(tracesPerSecond / 10)
		// decisecond 0 carries the remainder so the full budget is usable
		s.maxFirstDeci = s.maxOtherDeci + int64(tracesPerSecond%10)
	}
	return s
}

func (s *rateLimitingSampler) IsSampled(traceID uint64) bool {

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixNano()
	if now >= s.nextReset {
		s.usage = 0
		s.nextReset = now + s.deciInterval
	}

	limit := s.maxOtherDeci
	// decisecond 0 of each second may carry the remainder budget
	if s.maxFirstDeci > s.maxOtherDeci {
		if (now/s.deciInterval)%10 == 0 {
			limit = s.maxFirstDeci
		}
	}
	if s.usage >= limit {
		return false
	}
	s.usage++
	return true
}

// Decision is the tri-state result of request-based sampling.
type Decision int

const (
	// DecisionDefer lets a fallback sampler decide.
	DecisionDefer Decision = iota
	DecisionSample
	DecisionDrop
)

// SamplerFunction decides from a typed request, and may defer. The trace ID
// of the trace being initiated is supplied so rules can stay deterministic.
type SamplerFunction interface {
	Sample(request interface{}, traceID uint64) Decision
}

// Matcher is a pure predicate over a request.
type Matcher func(request interface{}) bool

type Rule struct {
	Matcher Matcher
	Sampler Sampler
}

// ParameterizedSampler applies an ordered rule list: the first rule whose
// matcher accepts the request wins and its sampler decides. When no rule
// matches, the function defers.
type ParameterizedSampler struct {
	rules []Rule
}

func NewParameterizedSampler(rules ...Rule) *ParameterizedSampler {

	var valid []Rule
	for _, r := range rules {
		if r.Matcher == nil || r.Sampler == nil {
			continue
		}
		valid = append(valid, r)
	}
	return &ParameterizedSampler{rules: valid}
}

func (p *ParameterizedSampler) Sample(request interface{}, traceID uint64) Decision {

	for _, r := range p.rules {
		if !r.Matcher(request) {
			continue
		}
		if r.Sampler.IsSampled(traceID) {
			return DecisionSample
		}
		return DecisionDrop
	}
	return DecisionDefer
}
