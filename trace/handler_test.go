package trace

import (
	"sync/atomic"
	"testing"
)

type recordingHandler struct {
	name      string
	events    *[]string
	abandons  bool
	beginOK   bool
	endOK     bool
	beginFunc func()
	endFunc   func()
}

func newRecordingHandler(name string, events *[]string) *recordingHandler {
	return &recordingHandler{name: name, events: events, beginOK: true, endOK: true}
}

func (h *recordingHandler) Begin(ctx *TraceContext, span *MutableSpan, parent *TraceContext) bool {

	*h.events = append(*h.events, h.name+" begin")
	if h.beginFunc != nil {
		h.beginFunc()
	}
	return h.beginOK
}

func (h *recordingHandler) End(ctx *TraceContext, span *MutableSpan, cause Cause) bool {

	*h.events = append(*h.events, h.name+" end "+cause.String())
	if h.endFunc != nil {
		h.endFunc()
	}
	return h.endOK
}

func (h *recordingHandler) HandlesAbandoned() bool { return h.abandons }

func composeHandlers(noop *atomic.Bool, fatal PanicClassifier, handlers ...SpanHandler) SpanHandler {
	return newSpanHandler(handlers, noop, fatal, nil)
}

func handlerTestContext(t *testing.T) *TraceContext {
	return buildContext(t, NewContextBuilder().TraceID(1).SpanID(2).Sampled(true))
}

func assertEvents(t *testing.T, got []string, want ...string) {

	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected events: %v", got)
		}
	}
}

func TestComposeZeroHandlers(t *testing.T) {

	var noop atomic.Bool
	if composeHandlers(&noop, nil) != NoopSpanHandler {
		t.Error("zero handlers should compose to the noop handler")
	}
	if composeHandlers(&noop, nil, nil, NoopSpanHandler) != NoopSpanHandler {
		t.Error("nil and noop members should be filtered out")
	}
}

func TestComposeSingleHandler(t *testing.T) {

	var noop atomic.Bool
	var events []string
	h := composeHandlers(&noop, nil, newRecordingHandler("a", &events))

	ctx := handlerTestContext(t)
	span := NewMutableSpan()

	if !h.Begin(ctx, span, nil) {
		t.Error("begin should succeed")
	}
	if !h.End(ctx, span, CauseFinished) {
		t.Error("end should succeed")
	}
	assertEvents(t, events, "a begin", "a end finished")
}

func TestComposeOrderedDispatch(t *testing.T) {

	var noop atomic.Bool
	var events []string
	h := composeHandlers(&noop, nil,
		newRecordingHandler("a", &events),
		newRecordingHandler("b", &events))

	ctx := handlerTestContext(t)
	span := NewMutableSpan()

	h.Begin(ctx, span, nil)
	h.End(ctx, span, CauseFinished)
	assertEvents(t, events, "a begin", "b begin", "a end finished", "b end finished")
}

func TestComposeShortCircuit(t *testing.T) {

	var noop atomic.Bool
	var events []string
	a := newRecordingHandler("a", &events)
	a.beginOK = false
	a.endOK = false
	h := composeHandlers(&noop, nil, a, newRecordingHandler("b", &events))

	ctx := handlerTestContext(t)
	span := NewMutableSpan()

	if h.Begin(ctx, span, nil) {
		t.Error("a false begin should report false")
	}
	if h.End(ctx, span, CauseFinished) {
		t.Error("a false end should report false")
	}
	assertEvents(t, events, "a begin", "a end finished")
}

func TestComposeAbandonedOptIn(t *testing.T) {

	var noop atomic.Bool
	var events []string
	a := newRecordingHandler("a", &events)
	b := newRecordingHandler("b", &events)
	b.abandons = true
	h := composeHandlers(&noop, nil, a, b)

	if !h.HandlesAbandoned() {
		t.Error("one opted-in member should opt the chain in")
	}

	ctx := handlerTestContext(t)
	h.End(ctx, NewMutableSpan(), CauseAbandoned)
	assertEvents(t, events, "b end abandoned")
}

func TestComposeAbandonedSkippedEntirely(t *testing.T) {

	var noop atomic.Bool
	var events []string
	h := composeHandlers(&noop, nil, newRecordingHandler("a", &events))

	if h.HandlesAbandoned() {
		t.Error("the chain should not opt in by itself")
	}

	ctx := handlerTestContext(t)
	if !h.End(ctx, NewMutableSpan(), CauseAbandoned) {
		t.Error("a skipped abandoned end should not report failure")
	}
	assertEvents(t, events)
}

func TestComposeNoopSwitch(t *testing.T) {

	var noop atomic.Bool
	var events []string
	h := composeHandlers(&noop, nil, newRecordingHandler("a", &events))

	ctx := handlerTestContext(t)
	span := NewMutableSpan()

	noop.Store(true)
	if h.Begin(ctx, span, nil) {
		t.Error("begin should report false while noop")
	}
	if h.End(ctx, span, CauseFinished) {
		t.Error("end should report false while noop")
	}
	assertEvents(t, events)

	noop.Store(false)
	h.Begin(ctx, span, nil)
	assertEvents(t, events, "a begin")
}

func TestComposePanicContained(t *testing.T) {

	var noop atomic.Bool
	var events []string
	a := newRecordingHandler("a", &events)
	a.endFunc = func() { panic("collector broke") }
	h := composeHandlers(&noop, nil, a, newRecordingHandler("b", &events))

	ctx := handlerTestContext(t)
	if !h.End(ctx, NewMutableSpan(), CauseFinished) {
		t.Error("a contained panic should not stop delivery")
	}
	assertEvents(t, events, "a end finished", "b end finished")
}

func TestComposePanicFatal(t *testing.T) {

	var noop atomic.Bool
	var events []string
	a := newRecordingHandler("a", &events)
	a.endFunc = func() { panic("fatal") }
	fatal := func(recovered interface{}) bool { return recovered == "fatal" }
	h := composeHandlers(&noop, fatal, a, newRecordingHandler("b", &events))

	defer func() {
		if recover() != "fatal" {
			t.Error("a fatal panic should propagate")
		}
	}()
	h.End(handlerTestContext(t), NewMutableSpan(), CauseFinished)
	t.Error("the fatal panic should have unwound")
}

func TestCauseString(t *testing.T) {

	for cause, want := range map[Cause]string{CauseFinished: "finished", CauseAbandoned: "abandoned", CauseFlushed: "flushed"} {
		if cause.String() != want {
			t.Errorf("unexpected cause string: %s", cause.String())
		}
	}
}
