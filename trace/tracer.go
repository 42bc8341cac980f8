package trace

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devopsext/tracing/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/uber/jaeger-client-go/utils"
)

type TracerOptions struct {
	ServiceName     string
	Sampler         Sampler
	SamplerFunction SamplerFunction
	Handlers        []SpanHandler
	Propagation     Propagation
	CurrentContext  *CurrentTraceContext
	TraceID128Bit   bool
	// PendingSpanCapacity bounds the registry used to detect abandoned
	// spans. Only allocated when some handler opts into abandonment.
	PendingSpanCapacity int
	PanicClassifier     PanicClassifier
	Logger              common.Logger
}

// Tracer creates spans, decides sampling for new traces, and delivers
// lifecycle events to the composed handler chain. All methods are safe for
// concurrent use.
type Tracer struct {
	options      TracerOptions
	sampler      Sampler
	samplerFn    SamplerFunction
	handler      SpanHandler
	propagation  Propagation
	current      *CurrentTraceContext
	randomNumber func() uint64
	pending      *lru.Cache[IDKey, *realSpan]
	logger       common.Logger
	noop         atomic.Bool
}

func NewTracer(options TracerOptions) (*Tracer, error) {

	t := &Tracer{options: options}

	t.logger = options.Logger
	if t.logger == nil {
		t.logger = common.NewLogs()
	}

	t.sampler = options.Sampler
	if t.sampler == nil {
		t.sampler = AlwaysSample
	}
	t.samplerFn = options.SamplerFunction

	t.propagation = options.Propagation
	if t.propagation == nil {
		t.propagation = NewB3Propagation(B3PropagationOptions{})
	}

	t.current = options.CurrentContext
	if t.current == nil {
		t.current = NewCurrentTraceContext(CurrentTraceContextOptions{})
	}

	t.handler = newSpanHandler(options.Handlers, &t.noop, options.PanicClassifier, t.logger)

	seedGenerator := utils.NewRand(time.Now().UnixNano())
	pool := sync.Pool{
		New: func() interface{} {
			return rand.NewSource(seedGenerator.Int63())
		},
	}
	t.randomNumber = func() uint64 {
		generator := pool.Get().(rand.Source)
		number := uint64(generator.Int63())
		pool.Put(generator)
		return number
	}

	// nobody pays for abandonment tracking unless a handler asked for it
	if t.handler.HandlesAbandoned() {
		capacity := options.PendingSpanCapacity
		if capacity <= 0 {
			capacity = 1024
		}
		pending, err := lru.NewWithEvict[IDKey, *realSpan](capacity, t.onEvict)
		if err != nil {
			return nil, err
		}
		t.pending = pending
	}

	return t, nil
}

// SetNoop flips the shared switch read before every handler dispatch. While
// true, spans still propagate identity but record and report nothing.
func (t *Tracer) SetNoop(v bool) {
	t.noop.Store(v)
}

func (t *Tracer) CurrentContext() *CurrentTraceContext {
	return t.current
}

func (t *Tracer) Propagation() Propagation {
	return t.propagation
}

// NewTrace starts a brand-new trace; the sampler decides whether it is
// recorded.
func (t *Tracer) NewTrace() Span {

	ctx := t.nextContext(EmptyExtracted, nil)
	return t.toSpan(ctx, nil)
}

// NewChild spawns a child of parent: fresh span ID, parent ID set, sampling
// inherited.
func (t *Tracer) NewChild(parent *TraceContext) Span {

	if parent == nil {
		return t.NewTrace()
	}
	ctx := t.nextContext(ExtractedContext(parent), nil)
	return t.toSpan(ctx, parent)
}

// NextSpan continues a trace from extracted wire data, or starts a new one
// when nothing was extracted. A sampling decision received from the caller
// is honored as-is; the local sampler is consulted only when the decision is
// still open.
func (t *Tracer) NextSpan(extracted Extracted) Span {

	ctx := t.nextContext(extracted, nil)
	return t.toSpan(ctx, extracted.Context)
}

// NextSpanForRequest is NextSpan with request-based sampling: when the trace
// is fresh and undecided, the configured SamplerFunction sees the request
// first and may defer to the fallback sampler.
func (t *Tracer) NextSpanForRequest(request interface{}, extracted Extracted) Span {

	ctx := t.nextContext(extracted, request)
	return t.toSpan(ctx, extracted.Context)
}

// JoinSpan reuses the extracted identity for the server side of the same
// RPC, marking the context shared.
func (t *Tracer) JoinSpan(ctx *TraceContext) Span {

	if ctx == nil {
		return t.NewTrace()
	}

	b := ctx.ToBuilder().Shared(true)
	if _, decided := ctx.Sampled(); !decided {
		b.Sampled(t.sampler.IsSampled(ctx.TraceID()))
	}
	joined, err := b.Build()
	if err != nil {
		t.logger.Error(err)
		return t.NewTrace()
	}
	return t.toSpan(joined, nil)
}

// CurrentSpan returns a handle on the span whose context is current, or nil
// when none is. When the owning span is not locally tracked the handle
// carries identity only.
func (t *Tracer) CurrentSpan() Span {

	current := t.current.Get()
	if current == nil {
		return nil
	}
	if t.pending != nil {
		if s, ok := t.pending.Peek(current.IDKey()); ok {
			return s
		}
	}
	return &noopSpan{context: current}
}

// WithSpanInScope makes the span's context current until the returned scope
// closes.
func (t *Tracer) WithSpanInScope(s Span) Scope {

	if s == nil {
		return t.current.NewScope(nil)
	}
	return t.current.MaybeScope(s.Context())
}

// StartScopedSpan starts a child of the current context (or a new trace) and
// scopes it, for straight-line instrumentation:
//
//	span, scope := tracer.StartScopedSpan("encode")
//	defer scope.Close()
//	defer span.Finish()
func (t *Tracer) StartScopedSpan(name string) (Span, Scope) {

	var span Span
	if parent := t.current.Get(); parent != nil {
		span = t.NewChild(parent)
	} else {
		span = t.NewTrace()
	}
	span.SetName(name).Start()
	return span, t.current.NewScope(span.Context())
}

func (t *Tracer) Extract(getter Getter, carrier interface{}) Extracted {
	return t.propagation.Extractor(getter).Extract(carrier)
}

func (t *Tracer) Inject(setter Setter, ctx *TraceContext, carrier interface{}) {
	t.propagation.Injector(setter).Inject(ctx, carrier)
}

// Flush reports every span still pending with CauseFlushed, e.g. at shutdown.
func (t *Tracer) Flush() {

	if t.pending == nil {
		return
	}
	for _, s := range t.pending.Values() {
		s.Flush()
	}
}

func (t *Tracer) nextID(avoid uint64) uint64 {

	for {
		id := t.randomNumber()
		if id != 0 && id != avoid {
			return id
		}
	}
}

func (t *Tracer) nextContext(extracted Extracted, request interface{}) *TraceContext {

	b := NewContextBuilder()

	switch {
	case extracted.Context != nil:
		parent := extracted.Context
		b.TraceIDHigh(parent.TraceIDHigh()).TraceID(parent.TraceID())
		b.ParentID(parent.SpanID()).SpanID(t.nextID(parent.SpanID()))
		// sampling and debug are inherited; shared never is
		b.flags = parent.flags &^ flagShared
		for _, e := range parent.extra {
			b.AddExtra(e)
		}
	case extracted.TraceID != nil:
		tid := extracted.TraceID
		b.TraceIDHigh(tid.TraceIDHigh()).TraceID(tid.TraceID()).SpanID(t.nextID(0))
		b.flags = tid.flags
	default:
		id := t.nextID(0)
		if t.options.TraceID128Bit {
			b.TraceIDHigh(t.nextID(0))
		}
		b.TraceID(id).SpanID(id)
		b.flags = extracted.Flags.flags
	}

	for _, e := range extracted.Extra {
		b.AddExtra(e)
	}

	if _, decided := sampled(b.flags); !decided {
		decision := DecisionDefer
		if t.samplerFn != nil && request != nil {
			decision = t.samplerFn.Sample(request, b.traceID)
		}
		switch decision {
		case DecisionSample:
			b.Sampled(true)
		case DecisionDrop:
			b.Sampled(false)
		default:
			b.Sampled(t.sampler.IsSampled(b.traceID))
		}
	}

	ctx, err := b.Build()
	if err != nil {
		// unreachable with generated ids, but never return nil identity
		t.logger.Error(err)
		ctx, _ = NewContextBuilder().TraceID(t.nextID(0)).SpanID(t.nextID(0)).Sampled(false).Build()
	}
	return ctx
}

func (t *Tracer) toSpan(ctx *TraceContext, parent *TraceContext) Span {

	if t.noop.Load() {
		return &noopSpan{context: ctx}
	}
	if value, decided := ctx.Sampled(); decided && !value {
		return &noopSpan{context: ctx}
	}

	s := &realSpan{
		context: ctx,
		parent:  parent,
		mutable: NewMutableSpan(),
		tracer:  t,
	}
	s.mutable.SetLocalServiceName(t.options.ServiceName)

	if t.pending != nil {
		t.pending.Add(ctx.IDKey(), s)
	}
	return s
}

// report delivers the terminal transition won by s. The pending entry is
// removed first so the eviction callback sees a terminated span.
func (t *Tracer) report(s *realSpan, cause Cause) {

	if t.pending != nil {
		t.pending.Remove(s.context.IDKey())
	}
	t.handler.End(s.context, s.mutable, cause)
}

// onEvict fires when the pending registry drops a span that was never
// explicitly terminated: that span is abandoned.
func (t *Tracer) onEvict(key IDKey, s *realSpan) {

	if !s.terminated.CompareAndSwap(false, true) {
		return
	}
	t.handler.End(s.context, s.mutable, CauseAbandoned)
}
