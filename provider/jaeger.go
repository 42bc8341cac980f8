package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/devopsext/tracing/common"
	"github.com/devopsext/tracing/trace"
	"github.com/devopsext/utils"
	"github.com/opentracing/opentracing-go"
	opentracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/uber/jaeger-client-go"
	jaegerConfig "github.com/uber/jaeger-client-go/config"
)

type JaegerOptions struct {
	ServiceName         string
	AgentHost           string
	AgentPort           int
	Endpoint            string
	User                string
	Password            string
	BufferFlushInterval int
	QueueSize           int
	Tags                string
	Version             string
}

// JaegerHandler forwards completed spans to a Jaeger agent or collector. The
// span is rebuilt with its original identifiers so the backend shows the
// same trace the wire carried.
type JaegerHandler struct {
	options JaegerOptions
	tracer  opentracing.Tracer
	logger  common.Logger
}

type JaegerLogger struct {
	logger common.Logger
}

func (j *JaegerLogger) Error(msg string) {
	j.logger.Stack(-2).Error(msg).Stack(2)
}

func (j *JaegerLogger) Infof(msg string, args ...interface{}) {

	if utils.IsEmpty(msg) {
		return
	}

	msg = strings.TrimSpace(msg)
	if args != nil {
		j.logger.Stack(-2).Info(msg, args...).Stack(2)
	} else {
		j.logger.Stack(-2).Info(msg).Stack(2)
	}
}

func (j *JaegerHandler) Begin(ctx *trace.TraceContext, span *trace.MutableSpan, parent *trace.TraceContext) bool {
	return true
}

func (j *JaegerHandler) End(ctx *trace.TraceContext, span *trace.MutableSpan, cause trace.Cause) bool {

	if cause == trace.CauseAbandoned {
		return true
	}

	traceID := jaeger.TraceID{High: ctx.TraceIDHigh(), Low: ctx.TraceID()}
	spanCtx := jaeger.NewSpanContext(traceID, jaeger.SpanID(ctx.SpanID()), jaeger.SpanID(ctx.ParentID()), true, nil)

	name := span.Name()
	if utils.IsEmpty(name) {
		name = "unknown"
	}

	s := j.tracer.StartSpan(name, jaeger.SelfRef(spanCtx), opentracing.StartTime(span.StartTime()))

	if span.Kind() != "" {
		s.SetTag("span.kind", strings.ToLower(string(span.Kind())))
	}
	for _, tag := range span.Tags() {
		s.SetTag(tag[0], tag[1])
	}
	if remote := span.RemoteEndpoint(); !utils.IsEmpty(remote.ServiceName) {
		s.SetTag("peer.service", remote.ServiceName)
		if !utils.IsEmpty(remote.IP) {
			s.SetTag("peer.address", remote.IP)
		}
		if remote.Port != 0 {
			s.SetTag("peer.port", remote.Port)
		}
	}
	if err := span.Error(); err != nil {
		s.SetTag("error", true)
		s.LogFields(opentracingLog.String("error.message", err.Error()))
	}

	var records []opentracing.LogRecord
	for _, a := range span.Annotations() {
		records = append(records, opentracing.LogRecord{
			Timestamp: a.Timestamp,
			Fields:    []opentracingLog.Field{opentracingLog.String("event", a.Value)},
		})
	}

	s.FinishWithOptions(opentracing.FinishOptions{
		FinishTime: span.FinishTime(),
		LogRecords: records,
	})
	return true
}

func (j *JaegerHandler) HandlesAbandoned() bool {
	return false
}

func parseJaegerTags(sTags string) []opentracing.Tag {

	pairs := strings.Split(sTags, ",")
	tags := make([]opentracing.Tag, 0)
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

		tag := opentracing.Tag{Key: k, Value: v}
		tags = append(tags, tag)
	}
	return tags
}

func newJaegerTracer(options JaegerOptions, logger common.Logger, stdout *Stdout) opentracing.Tracer {

	disabled := utils.IsEmpty(options.AgentHost) && utils.IsEmpty(options.Endpoint)
	if disabled {
		return nil
	}

	tags := parseJaegerTags(options.Tags)
	tags = append(tags, opentracing.Tag{
		Key:   "version",
		Value: options.Version,
	})

	cfg := &jaegerConfig.Configuration{

		ServiceName: options.ServiceName,
		Disabled:    disabled,
		Tags:        tags,

		// sampling already happened upstream: report everything handed over
		Sampler: &jaegerConfig.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},

		Reporter: &jaegerConfig.ReporterConfig{
			LogSpans:            true,
			User:                options.User,
			Password:            options.Password,
			LocalAgentHostPort:  fmt.Sprintf("%s:%d", options.AgentHost, options.AgentPort),
			CollectorEndpoint:   options.Endpoint,
			BufferFlushInterval: time.Duration(options.BufferFlushInterval) * time.Second,
			QueueSize:           options.QueueSize,
		},
	}

	tracer, _, err := cfg.NewTracer(jaegerConfig.Logger(&JaegerLogger{logger: logger}))
	if err != nil {
		stdout.Error(err)
		return nil
	}
	return tracer
}

func NewJaegerHandler(options JaegerOptions, logger common.Logger, stdout *Stdout) *JaegerHandler {

	if logger == nil {
		logger = stdout
	}

	tracer := newJaegerTracer(options, logger, stdout)
	if tracer == nil {
		stdout.Debug("Jaeger handler is disabled.")
		return nil
	}

	logger.Info("Jaeger handler is up...")

	return &JaegerHandler{
		options: options,
		tracer:  tracer,
		logger:  logger,
	}
}
