package provider

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/devopsext/tracing/common"
	"github.com/devopsext/tracing/trace"
	"github.com/devopsext/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type OpentelemetryOptions struct {
	ServiceName string
	Version     string
	Environment string
	Attributes  string
	AgentHost   string
	AgentPort   int
}

// OpentelemetryHandler exports completed spans over OTLP gRPC. The SDK
// assigns its own span identifiers; the trace identifier is preserved by
// parenting the exported span on a remote context, and the original span
// identifier rides along as an attribute.
type OpentelemetryHandler struct {
	options    OpentelemetryOptions
	logger     common.Logger
	tracer     oteltrace.Tracer
	provider   *sdktrace.TracerProvider
	attributes []attribute.KeyValue
}

func otelTraceID(ctx *trace.TraceContext) oteltrace.TraceID {

	var id oteltrace.TraceID
	binary.BigEndian.PutUint64(id[0:8], ctx.TraceIDHigh())
	binary.BigEndian.PutUint64(id[8:16], ctx.TraceID())
	return id
}

func otelSpanID(v uint64) oteltrace.SpanID {

	var id oteltrace.SpanID
	binary.BigEndian.PutUint64(id[:], v)
	return id
}

func otelSpanKind(kind trace.Kind) oteltrace.SpanKind {

	switch kind {
	case trace.KindClient:
		return oteltrace.SpanKindClient
	case trace.KindServer:
		return oteltrace.SpanKindServer
	case trace.KindProducer:
		return oteltrace.SpanKindProducer
	case trace.KindConsumer:
		return oteltrace.SpanKindConsumer
	}
	return oteltrace.SpanKindInternal
}

func (ot *OpentelemetryHandler) Begin(ctx *trace.TraceContext, span *trace.MutableSpan, parent *trace.TraceContext) bool {
	return true
}

func (ot *OpentelemetryHandler) End(ctx *trace.TraceContext, span *trace.MutableSpan, cause trace.Cause) bool {

	if cause == trace.CauseAbandoned {
		return true
	}

	name := span.Name()
	if utils.IsEmpty(name) {
		name = "unknown"
	}

	parentID := ctx.ParentID()
	if parentID == 0 {
		parentID = ctx.SpanID()
	}
	spanCtx := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID: otelTraceID(ctx),
		SpanID:  otelSpanID(parentID),
		Remote:  true,
	})
	currentCtx := oteltrace.ContextWithSpanContext(context.Background(), spanCtx)

	opts := []oteltrace.SpanStartOption{
		oteltrace.WithTimestamp(span.StartTime()),
		oteltrace.WithSpanKind(otelSpanKind(span.Kind())),
		oteltrace.WithAttributes(ot.attributes...),
		oteltrace.WithAttributes(attribute.String("span.id", ctx.SpanIDString())),
	}

	_, s := ot.tracer.Start(currentCtx, name, opts...)

	for _, tag := range span.Tags() {
		s.SetAttributes(attribute.String(tag[0], tag[1]))
	}
	if remote := span.RemoteEndpoint(); !utils.IsEmpty(remote.ServiceName) {
		s.SetAttributes(attribute.String("peer.service", remote.ServiceName))
	}
	for _, a := range span.Annotations() {
		s.AddEvent(a.Value, oteltrace.WithTimestamp(a.Timestamp))
	}
	if err := span.Error(); err != nil {
		s.SetStatus(codes.Error, err.Error())
	}

	s.End(oteltrace.WithTimestamp(span.FinishTime()))
	return true
}

func (ot *OpentelemetryHandler) HandlesAbandoned() bool {
	return false
}

func (ot *OpentelemetryHandler) Stop() {

	ctx := context.Background()

	if ot.provider != nil {
		ot.provider.Shutdown(ctx)
	}
}

func parseOpentelemetryAttrributes(sAttributes string) []attribute.KeyValue {

	pairs := strings.Split(sAttributes, ",")
	attributes := make([]attribute.KeyValue, 0)
	for _, p := range pairs {

		if utils.IsEmpty(p) {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		k, v := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])

		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			ed := strings.SplitN(v[2:len(v)-1], ":", 2)
			e, d := ed[0], ed[1]
			v = utils.EnvGet(e, "").(string)
			if v == "" && d != "" {
				v = d
			}
		}

		attribute := attribute.String(k, v)
		attributes = append(attributes, attribute)
	}
	return attributes
}

func startOpentelemtryTracer(options OpentelemetryOptions, logger common.Logger, stdout *Stdout) (oteltrace.Tracer, *sdktrace.TracerProvider) {

	disabled := utils.IsEmpty(options.AgentHost)
	if disabled {
		return nil, nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(options.ServiceName),
			semconv.ServiceVersionKey.String(options.Version),
			semconv.DeploymentEnvironmentKey.String(options.Environment),
		),
	)
	if err != nil {
		stdout.Error(err)
		return nil, nil
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(fmt.Sprintf("%s:%d", options.AgentHost, options.AgentPort)),
	)
	if err != nil {
		stdout.Error(err)
		return nil, nil
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	tracerProvider := sdktrace.NewTracerProvider(
		// sampling already happened upstream: export everything handed over
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tracerProvider)

	otel.SetTextMapPropagator(propagation.TraceContext{})

	_, file, _ := common.GetCallerInfo(1)
	tracer := otel.Tracer(file)

	return tracer, tracerProvider
}

func NewOpentelemetryHandler(options OpentelemetryOptions, logger common.Logger, stdout *Stdout) *OpentelemetryHandler {

	if logger == nil {
		logger = stdout
	}

	tracer, provider := startOpentelemtryTracer(options, logger, stdout)
	if tracer == nil {
		stdout.Debug("Opentelemetry handler is disabled.")
		return nil
	}

	attributes := parseOpentelemetryAttrributes(options.Attributes)

	logger.Info("Opentelemetry handler is up...")

	return &OpentelemetryHandler{
		options:    options,
		logger:     logger,
		tracer:     tracer,
		provider:   provider,
		attributes: attributes,
	}
}
