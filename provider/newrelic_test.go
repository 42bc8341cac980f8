package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/devopsext/tracing/trace"
)

func newrelicNewHandler(apiKey string) (*NewRelicHandler, *Stdout) {

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

	newrelic := NewNewRelicHandler(NewRelicOptions{
		ApiKey:      apiKey,
		ServiceName: "tracing-newrelic-test",
		Environment: "test",
		Version:     "1.0",
		Attributes:  "tag1=value1,,tag3=value3",
		Debug:       true,
	}, nil, stdout)

	return newrelic, stdout
}

func TestNewRelicHandler(t *testing.T) {

	newrelic, _ := newrelicNewHandler("sdfsFFDfd")
	if newrelic == nil {
		t.Fatal("Invalid newrelic")
	}
	if newrelic.HandlesAbandoned() {
		t.Error("NewRelic should not receive abandoned spans")
	}

	ctx := providerTestContext(t)
	span := providerTestSpan()
	span.SetError(errors.New("some-span-error"))

	if !newrelic.Begin(ctx, span, nil) {
		t.Error("Begin should pass the span on")
	}
	if !newrelic.End(ctx, span, trace.CauseFinished) {
		t.Error("End should pass the span on")
	}
	if !newrelic.End(ctx, span, trace.CauseAbandoned) {
		t.Error("End should pass the span on")
	}
}

func TestNewRelicHandlerChildContext(t *testing.T) {

	newrelic, _ := newrelicNewHandler("sdfsFFDfd")
	if newrelic == nil {
		t.Fatal("Invalid newrelic")
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
	span.SetLocalServiceName("")

	if !newrelic.End(ctx, span, trace.CauseFinished) {
		t.Error("End should pass the span on")
	}
}

func TestNewRelicHandlerDisabled(t *testing.T) {

	newrelic, _ := newrelicNewHandler("")
	if newrelic != nil {
		t.Fatal("Valid newrelic")
	}
}
