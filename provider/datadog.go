package provider

import (
	"net"
	"strconv"
	"strings"

	"github.com/devopsext/tracing/common"
	"github.com/devopsext/tracing/trace"
	"github.com/devopsext/utils"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

type DataDogOptions struct {
	ServiceName string
	Environment string
	Version     string
	Tags        string
	Debug       bool
	AgentHost   string
	AgentPort   int
}

// DataDogHandler forwards completed spans to the DataDog agent. The agent
// assigns its own trace grouping, so the original identifiers are attached
// as tags for cross-referencing.
type DataDogHandler struct {
	options DataDogOptions
	logger  common.Logger
}

type DataDogInternalLogger struct {
	logger common.Logger
}

func (ddtl *DataDogInternalLogger) Log(msg string) {
	ddtl.logger.Info(msg)
}

func (dd *DataDogHandler) Begin(ctx *trace.TraceContext, span *trace.MutableSpan, parent *trace.TraceContext) bool {
	return true
}

func (dd *DataDogHandler) End(ctx *trace.TraceContext, span *trace.MutableSpan, cause trace.Cause) bool {

	if cause == trace.CauseAbandoned {
		return true
	}

	name := span.Name()
	if utils.IsEmpty(name) {
		name = "unknown"
	}

	opts := []tracer.StartSpanOption{
		tracer.StartTime(span.StartTime()),
		tracer.WithSpanID(ctx.SpanID()),
		tracer.Tag("trace.id", ctx.TraceIDString()),
	}
	if ctx.ParentID() != 0 {
		opts = append(opts, tracer.Tag("parent.id", ctx.ParentIDString()))
	}
	if span.Kind() != "" {
		opts = append(opts, tracer.Tag("span.kind", strings.ToLower(string(span.Kind()))))
	}
	for _, tag := range span.Tags() {
		opts = append(opts, tracer.Tag(tag[0], tag[1]))
	}
	if remote := span.RemoteEndpoint(); !utils.IsEmpty(remote.ServiceName) {
		opts = append(opts, tracer.Tag("peer.service", remote.ServiceName))
	}

	s := tracer.StartSpan(name, opts...)
	s.Finish(tracer.FinishTime(span.FinishTime()), tracer.WithError(span.Error()))
	return true
}

func (dd *DataDogHandler) HandlesAbandoned() bool {
	return false
}

func (dd *DataDogHandler) Stop() {
	tracer.Stop()
}

func setDataDogTracerTags(opts []tracer.StartOption, sTags string) []tracer.StartOption {

	pairs := strings.Split(sTags, ",")

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

		tag := tracer.WithGlobalTag(k, v)
		opts = append(opts, tag)
	}
	return opts
}

func startDataDogTracer(options DataDogOptions, logger common.Logger) bool {

	disabled := utils.IsEmpty(options.AgentHost)
	if disabled {
		return false
	}

	addr := net.JoinHostPort(
		options.AgentHost,
		strconv.Itoa(options.AgentPort),
	)

	var opts []tracer.StartOption
	opts = append(opts, tracer.WithAgentAddr(addr))
	opts = append(opts, tracer.WithServiceName(options.ServiceName))
	opts = append(opts, tracer.WithServiceVersion(options.Version))
	opts = append(opts, tracer.WithEnv(options.Environment))

	if options.Debug {
		opts = append(opts, tracer.WithLogger(&DataDogInternalLogger{logger: logger}))
	}

	opts = setDataDogTracerTags(opts, options.Tags)

	tracer.Start(opts...)
	return true
}

func NewDataDogHandler(options DataDogOptions, logger common.Logger, stdout *Stdout) *DataDogHandler {

	if logger == nil {
		logger = stdout
	}

	enabled := startDataDogTracer(options, logger)
	if !enabled {
		stdout.Debug("DataDog handler is disabled.")
		return nil
	}

	logger.Info("DataDog handler is up...")

	return &DataDogHandler{
		options: options,
		logger:  logger,
	}
}
