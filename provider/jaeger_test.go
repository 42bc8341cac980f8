package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/devopsext/tracing/trace"
)

func jaegerNewHandler(agentHost string) (*JaegerHandler, *Stdout) {

	stdout := NewStdout(StdoutOptions{
		Format:          "template",
		Level:           "debug",
		Template:        "{{.msg}}",
		TimestampFormat: time.RFC3339Nano,
	})
	if stdout == nil {
		return nil, nil
	}
	stdout.SetCallerOffset(1)

	jaeger := NewJaegerHandler(JaegerOptions{
		ServiceName: "tracing-jaeger-test",
		AgentHost:   agentHost,
		AgentPort:   6831,
		Tags:        "tag1=value1,,tag3=value3",
		Version:     "1.0",
	}, nil, stdout)

	return jaeger, stdout
}

func TestJaegerHandler(t *testing.T) {

	jaeger, _ := jaegerNewHandler("localhost")
	if jaeger == nil {
		t.Fatal("Invalid jaeger")
	}
	if jaeger.HandlesAbandoned() {
		t.Error("Jaeger should not receive abandoned spans")
	}

	ctx := providerTestContext(t)
	span := providerTestSpan()
	span.SetError(errors.New("some-span-error"))

	if !jaeger.Begin(ctx, span, nil) {
		t.Error("Begin should pass the span on")
	}
	if !jaeger.End(ctx, span, trace.CauseFinished) {
		t.Error("End should pass the span on")
	}
	if !jaeger.End(ctx, span, trace.CauseAbandoned) {
		t.Error("End should pass the span on")
	}
}

func TestJaegerHandlerChildContext(t *testing.T) {

	jaeger, _ := jaegerNewHandler("localhost")
	if jaeger == nil {
		t.Fatal("Invalid jaeger")
	}

	ctx, err := trace.NewContextBuilder().
		TraceIDHigh(0x0000000000000010).
		TraceID(0x463ac35c9f6413ad).
		ParentID(0x48485a3953bb6124).
		SpanID(0x0000000000000001).
		Sampled(true).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	span := providerTestSpan()
	span.SetKind(trace.KindServer)

	if !jaeger.End(ctx, span, trace.CauseFinished) {
		t.Error("End should pass the span on")
	}
}

func TestJaegerHandlerDisabled(t *testing.T) {

	jaeger, _ := jaegerNewHandler("")
	if jaeger != nil {
		t.Fatal("Valid jaeger")
	}
}

func TestJaegerLogger(t *testing.T) {

	_, stdout := jaegerNewHandler("localhost")
	if stdout == nil {
		t.Fatal("Invalid stdout")
	}

	logger := JaegerLogger{
		logger: stdout,
	}
	logger.Error("Some error")
	logger.Infof("Some message => %s", "message")
}
