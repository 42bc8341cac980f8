package trace

import (
	"sync/atomic"

	"github.com/devopsext/tracing/common"
)

// Cause explains a span's terminal transition to handlers.
type Cause int

const (
	// CauseFinished means the caller explicitly finished the span.
	CauseFinished Cause = iota
	// CauseAbandoned means the span was never finished and its record is
	// being dropped. Only handlers that opt in receive this cause.
	CauseAbandoned
	// CauseFlushed means the span was reported before completion, with no
	// finish timestamp.
	CauseFlushed
)

func (c Cause) String() string {

	switch c {
	case CauseFinished:
		return "finished"
	case CauseAbandoned:
		return "abandoned"
	case CauseFlushed:
		return "flushed"
	}
	return "unknown"
}

// SpanHandler receives span lifecycle events. Begin and End run synchronously
// on the instrumented call path and must be bounded-time: collectors that do
// real work buffer internally. A handler must not retain the MutableSpan
// beyond the callback; buffer a Clone instead. Returning false stops delivery
// of that event to handlers later in the chain.
type SpanHandler interface {
	Begin(ctx *TraceContext, span *MutableSpan, parent *TraceContext) bool
	End(ctx *TraceContext, span *MutableSpan, cause Cause) bool
	HandlesAbandoned() bool
}

type noopSpanHandler struct{}

func (noopSpanHandler) Begin(ctx *TraceContext, span *MutableSpan, parent *TraceContext) bool {
	return true
}

func (noopSpanHandler) End(ctx *TraceContext, span *MutableSpan, cause Cause) bool {
	return true
}

func (noopSpanHandler) HandlesAbandoned() bool { return false }

// NoopSpanHandler is what zero handlers compose to.
var NoopSpanHandler SpanHandler = noopSpanHandler{}

// PanicClassifier decides whether a value recovered from a handler indicates
// the process cannot safely continue. Fatal values are re-raised; everything
// else is contained so one misbehaving collector cannot break the chain or
// the instrumented call. Go's genuinely unrecoverable conditions (stack
// exhaustion, out of memory) never reach a recover in the first place.
type PanicClassifier func(recovered interface{}) bool

func recoverableAll(recovered interface{}) bool { return false }

// newSpanHandler composes zero or more handlers with a shared noop switch:
// zero handlers yield NoopSpanHandler, one is dispatched directly, more than
// one dispatch in registration order.
func newSpanHandler(handlers []SpanHandler, noop *atomic.Bool, fatal PanicClassifier, logger common.Logger) SpanHandler {

	var active []SpanHandler
	for _, h := range handlers {
		if h == nil || h == NoopSpanHandler {
			continue
		}
		active = append(active, h)
	}
	if len(active) == 0 {
		return NoopSpanHandler
	}
	if fatal == nil {
		fatal = recoverableAll
	}

	var delegate SpanHandler
	if len(active) == 1 {
		delegate = active[0]
	} else {
		ordered := &orderedSpanHandler{handlers: active, fatal: fatal, logger: logger}
		for _, h := range active {
			if h.HandlesAbandoned() {
				ordered.abandons = true
				break
			}
		}
		delegate = ordered
	}

	return &noopAwareSpanHandler{delegate: delegate, noop: noop, fatal: fatal, logger: logger}
}

// noopAwareSpanHandler guards the whole chain with one shared flag read
// before any dispatch, and contains handler panics.
type noopAwareSpanHandler struct {
	delegate SpanHandler
	noop     *atomic.Bool
	fatal    PanicClassifier
	logger   common.Logger
}

func (h *noopAwareSpanHandler) Begin(ctx *TraceContext, span *MutableSpan, parent *TraceContext) bool {

	if h.noop.Load() {
		return false
	}
	return guard(h.fatal, h.logger, func() bool {
		return h.delegate.Begin(ctx, span, parent)
	})
}

func (h *noopAwareSpanHandler) End(ctx *TraceContext, span *MutableSpan, cause Cause) bool {

	if h.noop.Load() {
		return false
	}
	if cause == CauseAbandoned && !h.delegate.HandlesAbandoned() {
		return true
	}
	return guard(h.fatal, h.logger, func() bool {
		return h.delegate.End(ctx, span, cause)
	})
}

func (h *noopAwareSpanHandler) HandlesAbandoned() bool {
	return h.delegate.HandlesAbandoned()
}

// orderedSpanHandler dispatches to two or more handlers in registration
// order, isolating each member's failures so the rest still see the event.
type orderedSpanHandler struct {
	handlers []SpanHandler
	abandons bool
	fatal    PanicClassifier
	logger   common.Logger
}

func (h *orderedSpanHandler) Begin(ctx *TraceContext, span *MutableSpan, parent *TraceContext) bool {

	for _, member := range h.handlers {
		m := member
		ok := guard(h.fatal, h.logger, func() bool {
			return m.Begin(ctx, span, parent)
		})
		if !ok {
			return false
		}
	}
	return true
}

func (h *orderedSpanHandler) End(ctx *TraceContext, span *MutableSpan, cause Cause) bool {

	for _, member := range h.handlers {
		if cause == CauseAbandoned && !member.HandlesAbandoned() {
			continue
		}
		m := member
		ok := guard(h.fatal, h.logger, func() bool {
			return m.End(ctx, span, cause)
		})
		if !ok {
			return false
		}
	}
	return true
}

func (h *orderedSpanHandler) HandlesAbandoned() bool {
	return h.abandons
}

// guard runs one handler callback, containing recoverable panics. A panic is
// treated as "keep delivering" so a broken collector cannot silence the rest
// of the chain.
func guard(fatal PanicClassifier, logger common.Logger, f func() bool) (ok bool) {

	defer func() {
		if r := recover(); r != nil {
			if fatal(r) {
				panic(r)
			}
			if logger != nil {
				logger.Error("span handler panic: %v", r)
			}
			ok = true
		}
	}()
	return f()
}
