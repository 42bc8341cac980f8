package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/devopsext/tracing/trace"
)

func datadogNewHandler(agentHost string) (*DataDogHandler, *Stdout) {

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

	datadog := NewDataDogHandler(DataDogOptions{
		ServiceName: "tracing-datadog-test",
		Environment: "test",
		Tags:        "tag1=value1,,tag3=value3",
		Debug:       true,
		AgentHost:   agentHost,
		AgentPort:   8126,
	}, nil, stdout)

	return datadog, stdout
}

func TestDataDogHandler(t *testing.T) {

	datadog, _ := datadogNewHandler("localhost")
	if datadog == nil {
		t.Fatal("Invalid datadog")
	}
	if datadog.HandlesAbandoned() {
		t.Error("DataDog should not receive abandoned spans")
	}
	defer datadog.Stop()

	ctx := providerTestContext(t)
	span := providerTestSpan()
	span.SetError(errors.New("some-span-error"))

	if !datadog.Begin(ctx, span, nil) {
		t.Error("Begin should pass the span on")
	}
	if !datadog.End(ctx, span, trace.CauseFinished) {
		t.Error("End should pass the span on")
	}
	if !datadog.End(ctx, span, trace.CauseAbandoned) {
		t.Error("End should pass the span on")
	}
}

func TestDataDogHandlerDisabled(t *testing.T) {

	datadog, _ := datadogNewHandler("")
	if datadog != nil {
		t.Fatal("Valid datadog")
	}
}

func TestDataDogInternalLogger(t *testing.T) {

	_, stdout := datadogNewHandler("localhost")
	if stdout == nil {
		t.Fatal("Invalid stdout")
	}

	internalLogger := DataDogInternalLogger{
		logger: stdout,
	}
	internalLogger.Log("Some message")
}
