package trace

import (
	"github.com/pkg/errors"
)

const (
	flagDebug int32 = 1 << iota
	flagSampledSet
	flagSampled
	flagShared
)

// SamplingFlags carries the sampling intent of a request when no span
// identity is known yet. Sampled is tri-state: undecided until some caller
// or sampler decides.
type SamplingFlags struct {
	flags int32
}

var (
	EmptySamplingFlags = SamplingFlags{}
	SampledFlags       = SamplingFlags{flags: flagSampledSet | flagSampled}
	NotSampledFlags    = SamplingFlags{flags: flagSampledSet}
	DebugFlags         = SamplingFlags{flags: flagDebug | flagSampledSet | flagSampled}
)

// Sampled returns the sampling decision and whether one was made at all.
// Debug implies sampled.
func (sf SamplingFlags) Sampled() (value bool, decided bool) {
	return sampled(sf.flags)
}

func (sf SamplingFlags) Debug() bool {
	return sf.flags&flagDebug != 0
}

func sampled(flags int32) (bool, bool) {

	if flags&flagDebug != 0 {
		return true, true
	}
	if flags&flagSampledSet == 0 {
		return false, false
	}
	return flags&flagSampled != 0, true
}

func setSampled(flags int32, value bool) int32 {

	flags |= flagSampledSet
	if value {
		flags |= flagSampled
	} else {
		flags &^= flagSampled
	}
	return flags
}

// TraceIDContext is a degraded identity: the root trace ID and sampling
// intent are known, the span ID is not. Used when callers control the trace
// ID via an external correlation ID.
type TraceIDContext struct {
	flags       int32
	traceIDHigh uint64
	traceID     uint64
}

func NewTraceIDContext(traceIDHigh, traceID uint64, flags SamplingFlags) (*TraceIDContext, error) {

	if traceID == 0 {
		return nil, errors.New("trace ID context requires a nonzero trace ID")
	}
	return &TraceIDContext{flags: flags.flags, traceIDHigh: traceIDHigh, traceID: traceID}, nil
}

func (tc *TraceIDContext) TraceIDHigh() uint64 { return tc.traceIDHigh }
func (tc *TraceIDContext) TraceID() uint64     { return tc.traceID }

func (tc *TraceIDContext) SamplingFlags() SamplingFlags {
	return SamplingFlags{flags: tc.flags}
}

func (tc *TraceIDContext) Sampled() (bool, bool) {
	return sampled(tc.flags)
}

func (tc *TraceIDContext) Debug() bool {
	return tc.flags&flagDebug != 0
}

func (tc *TraceIDContext) TraceIDString() string {
	return TraceIDToHex(tc.traceIDHigh, tc.traceID)
}

// Equal compares trace identifiers only, never flags.
func (tc *TraceIDContext) Equal(o *TraceIDContext) bool {

	if tc == nil || o == nil {
		return tc == o
	}
	return tc.traceIDHigh == o.traceIDHigh && tc.traceID == o.traceID
}

// TraceContext is the identity of one span within a trace. Values are
// immutable once built; toggling a flag means building a new value. Safe to
// share across goroutines by reference.
type TraceContext struct {
	flags       int32
	traceIDHigh uint64
	traceID     uint64
	parentID    uint64
	spanID      uint64
	extra       []interface{}
}

// IDKey is the comparable identity of a context: trace and span identifiers
// only. Two contexts with the same key are the same span even if their flags
// or extras diverged downstream.
type IDKey struct {
	TraceIDHigh uint64
	TraceID     uint64
	SpanID      uint64
}

func (c *TraceContext) TraceIDHigh() uint64 { return c.traceIDHigh }
func (c *TraceContext) TraceID() uint64     { return c.traceID }

// ParentID returns the parent span ID, or zero for a root span.
func (c *TraceContext) ParentID() uint64 { return c.parentID }
func (c *TraceContext) SpanID() uint64   { return c.spanID }

func (c *TraceContext) SamplingFlags() SamplingFlags {
	return SamplingFlags{flags: c.flags}
}

func (c *TraceContext) Sampled() (bool, bool) {
	return sampled(c.flags)
}

func (c *TraceContext) Debug() bool {
	return c.flags&flagDebug != 0
}

// Shared reports whether this context is reused by both the server side and
// the caller-perceived client side of the same RPC.
func (c *TraceContext) Shared() bool {
	return c.flags&flagShared != 0
}

// Extra returns propagated extension state carried alongside identity, in
// arrival order. Callers must treat the slice as read-only.
func (c *TraceContext) Extra() []interface{} {
	return c.extra
}

func (c *TraceContext) TraceIDString() string {
	return TraceIDToHex(c.traceIDHigh, c.traceID)
}

func (c *TraceContext) SpanIDString() string {
	return SpanIDToHex(c.spanID)
}

// ParentIDString returns the parent span ID in hex, or "" for a root span.
func (c *TraceContext) ParentIDString() string {

	if c.parentID == 0 {
		return ""
	}
	return SpanIDToHex(c.parentID)
}

func (c *TraceContext) String() string {

	if c.parentID == 0 {
		return c.TraceIDString() + "/" + c.SpanIDString()
	}
	return c.TraceIDString() + "/" + c.SpanIDString() + "<-" + SpanIDToHex(c.parentID)
}

// Equal compares trace and span identifiers only; flags and extras are
// excluded so that enriched representations of the same span still match.
func (c *TraceContext) Equal(o *TraceContext) bool {

	if c == nil || o == nil {
		return c == o
	}
	return c.traceIDHigh == o.traceIDHigh && c.traceID == o.traceID && c.spanID == o.spanID
}

func (c *TraceContext) IDKey() IDKey {
	return IDKey{TraceIDHigh: c.traceIDHigh, TraceID: c.traceID, SpanID: c.spanID}
}

func (c *TraceContext) ToBuilder() *ContextBuilder {

	b := &ContextBuilder{
		flags:       c.flags,
		traceIDHigh: c.traceIDHigh,
		traceID:     c.traceID,
		parentID:    c.parentID,
		spanID:      c.spanID,
	}
	if len(c.extra) > 0 {
		b.extra = append(b.extra, c.extra...)
	}
	return b
}

// ContextBuilder assembles a TraceContext from extracted wire data or fresh
// generation. Build fails fast on identity invariants: these are programmer
// errors, not data errors.
type ContextBuilder struct {
	flags       int32
	traceIDHigh uint64
	traceID     uint64
	parentID    uint64
	spanID      uint64
	extra       []interface{}
}

func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{}
}

func (b *ContextBuilder) TraceIDHigh(v uint64) *ContextBuilder {
	b.traceIDHigh = v
	return b
}

func (b *ContextBuilder) TraceID(v uint64) *ContextBuilder {
	b.traceID = v
	return b
}

func (b *ContextBuilder) ParentID(v uint64) *ContextBuilder {
	b.parentID = v
	return b
}

func (b *ContextBuilder) SpanID(v uint64) *ContextBuilder {
	b.spanID = v
	return b
}

func (b *ContextBuilder) Sampled(v bool) *ContextBuilder {
	b.flags = setSampled(b.flags, v)
	return b
}

// ClearSampled returns the sampling decision to the undecided state.
func (b *ContextBuilder) ClearSampled() *ContextBuilder {
	b.flags &^= flagSampledSet | flagSampled
	return b
}

func (b *ContextBuilder) Debug(v bool) *ContextBuilder {

	if v {
		b.flags |= flagDebug
		b.flags = setSampled(b.flags, true)
	} else {
		b.flags &^= flagDebug
	}
	return b
}

func (b *ContextBuilder) Shared(v bool) *ContextBuilder {

	if v {
		b.flags |= flagShared
	} else {
		b.flags &^= flagShared
	}
	return b
}

func (b *ContextBuilder) SamplingFlags(sf SamplingFlags) *ContextBuilder {
	b.flags = sf.flags | (b.flags & flagShared)
	return b
}

func (b *ContextBuilder) AddExtra(v interface{}) *ContextBuilder {

	if v != nil {
		b.extra = append(b.extra, v)
	}
	return b
}

func (b *ContextBuilder) Build() (*TraceContext, error) {

	if b.traceID == 0 {
		return nil, errors.New("trace context requires a nonzero trace ID")
	}
	if b.spanID == 0 {
		return nil, errors.New("trace context requires a nonzero span ID")
	}
	if b.parentID != 0 && b.parentID == b.spanID {
		return nil, errors.Errorf("span %s cannot be its own parent", SpanIDToHex(b.spanID))
	}

	c := &TraceContext{
		flags:       b.flags,
		traceIDHigh: b.traceIDHigh,
		traceID:     b.traceID,
		parentID:    b.parentID,
		spanID:      b.spanID,
	}
	if len(b.extra) > 0 {
		c.extra = append(c.extra, b.extra...)
	}
	return c, nil
}

// Extracted is the result of reading a carrier: exactly one of a full
// TraceContext (continuing a trace), a TraceIDContext (root ID known, span ID
// not), or bare SamplingFlags (no upstream identity). Extra holds extension
// state collected while extracting when no full context exists to carry it.
type Extracted struct {
	Context *TraceContext
	TraceID *TraceIDContext
	Flags   SamplingFlags
	Extra   []interface{}
}

func ExtractedContext(c *TraceContext) Extracted {
	return Extracted{Context: c}
}

func ExtractedTraceID(tc *TraceIDContext) Extracted {
	return Extracted{TraceID: tc}
}

func ExtractedFlags(sf SamplingFlags) Extracted {
	return Extracted{Flags: sf}
}

var EmptyExtracted = Extracted{}

// SamplingFlags returns the sampling intent of whichever shape was extracted.
func (e Extracted) SamplingFlags() SamplingFlags {

	if e.Context != nil {
		return e.Context.SamplingFlags()
	}
	if e.TraceID != nil {
		return e.TraceID.SamplingFlags()
	}
	return e.Flags
}
