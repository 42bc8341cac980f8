package trace

import (
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindClient   Kind = "CLIENT"
	KindServer   Kind = "SERVER"
	KindProducer Kind = "PRODUCER"
	KindConsumer Kind = "CONSUMER"
)

type Annotation struct {
	Timestamp time.Time
	Value     string
}

// Endpoint describes the remote side of a span's network call.
type Endpoint struct {
	ServiceName string
	IP          string
	Port        int
}

// MutableSpan accumulates one span's observable data. It is owned exclusively
// by the span that created it until the terminal transition hands it to the
// handler chain; handlers must not write to it or retain it past the
// callback. A collector that buffers asynchronously owns a Clone.
type MutableSpan struct {
	name             string
	kind             Kind
	localServiceName string
	startTime        time.Time
	finishTime       time.Time
	tags             [][2]string
	annotations      []Annotation
	err              error
	remote           Endpoint
}

func NewMutableSpan() *MutableSpan {
	return &MutableSpan{}
}

func (m *MutableSpan) Name() string        { return m.name }
func (m *MutableSpan) SetName(name string) { m.name = name }

func (m *MutableSpan) Kind() Kind        { return m.kind }
func (m *MutableSpan) SetKind(kind Kind) { m.kind = kind }

func (m *MutableSpan) LocalServiceName() string     { return m.localServiceName }
func (m *MutableSpan) SetLocalServiceName(s string) { m.localServiceName = s }

func (m *MutableSpan) StartTime() time.Time     { return m.startTime }
func (m *MutableSpan) SetStartTime(t time.Time) { m.startTime = t }

// FinishTime is zero for flushed spans.
func (m *MutableSpan) FinishTime() time.Time     { return m.finishTime }
func (m *MutableSpan) SetFinishTime(t time.Time) { m.finishTime = t }

func (m *MutableSpan) Duration() time.Duration {

	if m.startTime.IsZero() || m.finishTime.IsZero() {
		return 0
	}
	return m.finishTime.Sub(m.startTime)
}

// Tag returns the value of a tag, or "" if unset.
func (m *MutableSpan) Tag(key string) string {

	for _, t := range m.tags {
		if t[0] == key {
			return t[1]
		}
	}
	return ""
}

// SetTag upserts a tag, keeping first-write order.
func (m *MutableSpan) SetTag(key, value string) {

	for i, t := range m.tags {
		if t[0] == key {
			m.tags[i][1] = value
			return
		}
	}
	m.tags = append(m.tags, [2]string{key, value})
}

func (m *MutableSpan) Tags() [][2]string { return m.tags }

func (m *MutableSpan) Annotate(t time.Time, value string) {
	m.annotations = append(m.annotations, Annotation{Timestamp: t, Value: value})
}

func (m *MutableSpan) Annotations() []Annotation { return m.annotations }

func (m *MutableSpan) Error() error         { return m.err }
func (m *MutableSpan) SetError(err error)   { m.err = err }
func (m *MutableSpan) RemoteEndpoint() Endpoint {
	return m.remote
}

func (m *MutableSpan) SetRemoteEndpoint(e Endpoint) { m.remote = e }

// Clone deep-copies the record so a collector can buffer it beyond the
// handler callback.
func (m *MutableSpan) Clone() *MutableSpan {

	c := *m
	c.tags = append([][2]string(nil), m.tags...)
	c.annotations = append([]Annotation(nil), m.annotations...)
	return &c
}

// Span is one unit of work in a trace. Mutators return the span in the
// fluent style and are ignored after the terminal transition; Finish,
// Abandon, and Flush race to a single terminal state, and only the winner
// reports to the handler chain.
type Span interface {
	Context() *TraceContext
	IsNoop() bool
	SetName(name string) Span
	SetKind(kind Kind) Span
	SetTag(key, value string) Span
	Annotate(value string) Span
	AnnotateAt(t time.Time, value string) Span
	SetRemoteEndpoint(e Endpoint) Span
	Error(err error) Span
	Start() Span
	StartAt(t time.Time) Span
	Finish()
	FinishAt(t time.Time)
	Abandon()
	Flush()
}

// noopSpan costs nothing and records nothing, but still carries identity so
// unsampled traces propagate consistently downstream.
type noopSpan struct {
	context *TraceContext
}

func (s *noopSpan) Context() *TraceContext               { return s.context }
func (s *noopSpan) IsNoop() bool                         { return true }
func (s *noopSpan) SetName(string) Span                  { return s }
func (s *noopSpan) SetKind(Kind) Span                    { return s }
func (s *noopSpan) SetTag(string, string) Span           { return s }
func (s *noopSpan) Annotate(string) Span                 { return s }
func (s *noopSpan) AnnotateAt(time.Time, string) Span    { return s }
func (s *noopSpan) SetRemoteEndpoint(Endpoint) Span      { return s }
func (s *noopSpan) Error(error) Span                     { return s }
func (s *noopSpan) Start() Span                          { return s }
func (s *noopSpan) StartAt(time.Time) Span               { return s }
func (s *noopSpan) Finish()                              {}
func (s *noopSpan) FinishAt(time.Time)                   {}
func (s *noopSpan) Abandon()                             {}
func (s *noopSpan) Flush()                               {}

type realSpan struct {
	context    *TraceContext
	parent     *TraceContext
	mutable    *MutableSpan
	tracer     *Tracer
	terminated atomic.Bool
}

func (s *realSpan) Context() *TraceContext { return s.context }
func (s *realSpan) IsNoop() bool           { return false }

func (s *realSpan) SetName(name string) Span {

	if !s.terminated.Load() {
		s.mutable.SetName(name)
	}
	return s
}

func (s *realSpan) SetKind(kind Kind) Span {

	if !s.terminated.Load() {
		s.mutable.SetKind(kind)
	}
	return s
}

func (s *realSpan) SetTag(key, value string) Span {

	if !s.terminated.Load() {
		s.mutable.SetTag(key, value)
	}
	return s
}

func (s *realSpan) Annotate(value string) Span {
	return s.AnnotateAt(time.Now(), value)
}

func (s *realSpan) AnnotateAt(t time.Time, value string) Span {

	if !s.terminated.Load() {
		s.mutable.Annotate(t, value)
	}
	return s
}

func (s *realSpan) SetRemoteEndpoint(e Endpoint) Span {

	if !s.terminated.Load() {
		s.mutable.SetRemoteEndpoint(e)
	}
	return s
}

func (s *realSpan) Error(err error) Span {

	if err != nil && !s.terminated.Load() {
		s.mutable.SetError(err)
	}
	return s
}

func (s *realSpan) Start() Span {
	return s.StartAt(time.Now())
}

// StartAt records the start instant and fires Begin on the handler chain.
// An explicit timestamp keeps related spans aligned on one clock.
func (s *realSpan) StartAt(t time.Time) Span {

	if s.terminated.Load() {
		return s
	}
	s.mutable.SetStartTime(t)
	s.tracer.handler.Begin(s.context, s.mutable, s.parent)
	return s
}

func (s *realSpan) Finish() {
	s.FinishAt(time.Now())
}

func (s *realSpan) FinishAt(t time.Time) {

	if !s.terminated.CompareAndSwap(false, true) {
		return
	}
	s.mutable.SetFinishTime(t)
	s.tracer.report(s, CauseFinished)
}

func (s *realSpan) Abandon() {

	if !s.terminated.CompareAndSwap(false, true) {
		return
	}
	s.tracer.report(s, CauseAbandoned)
}

// Flush reports the span as-is, with no finish timestamp.
func (s *realSpan) Flush() {

	if !s.terminated.CompareAndSwap(false, true) {
		return
	}
	s.tracer.report(s, CauseFlushed)
}
