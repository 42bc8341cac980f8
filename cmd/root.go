package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/devopsext/tracing/common"
	"github.com/devopsext/tracing/provider"
	"github.com/devopsext/tracing/trace"
	"github.com/spf13/cobra"
)

var VERSION = "unknown"

var logs = common.NewLogs()
var stdout *provider.Stdout
var tracer *trace.Tracer
var mainWG sync.WaitGroup

type RootOptions struct {
	Handlers       []string
	ServiceName    string
	SamplingRate   float64
	TraceID128Bit  bool
	B3SingleHeader bool
	PendingSpans   int
}

var rootOptions = RootOptions{

	Handlers:     []string{"prometheus"},
	ServiceName:  "tracing",
	SamplingRate: 1.0,
	PendingSpans: 1024,
}

var stdoutOptions = provider.StdoutOptions{

	Format:          "text",
	Level:           "info",
	Template:        "{{.file}} {{.msg}}",
	TimestampFormat: time.RFC3339Nano,
	TextColors:      true,
}

var prometheusOptions = provider.PrometheusOptions{

	URL:    "/metrics",
	Listen: "127.0.0.1:8080",
	Prefix: "tracing",
}

var jaegerOptions = provider.JaegerOptions{
	AgentHost:           "",
	AgentPort:           6831,
	Endpoint:            "",
	User:                "",
	Password:            "",
	BufferFlushInterval: 0,
	QueueSize:           0,
	Tags:                "",
}

var datadogOptions = provider.DataDogOptions{
	Environment: "none",
	Tags:        "",
	AgentHost:   "",
	AgentPort:   8126,
}

var newrelicOptions = provider.NewRelicOptions{
	ApiKey:      "",
	Environment: "none",
	Attributes:  "",
	Endpoint:    "",
}

var opentelemetryOptions = provider.OpentelemetryOptions{
	Environment: "none",
	Attributes:  "",
	AgentHost:   "",
	AgentPort:   4317,
}

func interceptSyscall() {

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGKILL)
	go func() {
		<-c
		logs.Info("Exiting...")
		os.Exit(1)
	}()
}

func newSampler() trace.Sampler {

	if rootOptions.SamplingRate >= 1.0 {
		return trace.AlwaysSample
	}
	if rootOptions.SamplingRate <= 0 {
		return trace.NeverSample
	}
	sampler, err := trace.NewBoundarySampler(rootOptions.SamplingRate, uint64(time.Now().UnixNano()))
	if err != nil {
		logs.Error(err)
		return trace.AlwaysSample
	}
	return sampler
}

func Execute() {

	rootCmd := &cobra.Command{
		Use:   "tracing",
		Short: "Tracing",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {

			stdoutOptions.Version = VERSION
			stdout = provider.NewStdout(stdoutOptions)
			stdout.SetCallerOffset(2)
			logs.Register(stdout)

			logs.Info("Booting...")

			current := trace.NewCurrentTraceContext(trace.CurrentTraceContextOptions{})
			stdout.SetCurrentContext(current)

			var handlers []trace.SpanHandler

			prometheusOptions.Version = VERSION
			prometheus := provider.NewPrometheusMetrics(prometheusOptions, logs, stdout)
			if common.HasElem(rootOptions.Handlers, "prometheus") {
				prometheus.StartInWaitGroup(&mainWG)
				handlers = append(handlers, prometheus)
			}

			jaegerOptions.ServiceName = rootOptions.ServiceName
			jaegerOptions.Version = VERSION
			jaeger := provider.NewJaegerHandler(jaegerOptions, logs, stdout)
			if jaeger != nil && common.HasElem(rootOptions.Handlers, "jaeger") {
				handlers = append(handlers, jaeger)
			}

			datadogOptions.ServiceName = rootOptions.ServiceName
			datadogOptions.Version = VERSION
			datadog := provider.NewDataDogHandler(datadogOptions, logs, stdout)
			if datadog != nil && common.HasElem(rootOptions.Handlers, "datadog") {
				handlers = append(handlers, datadog)
			}

			newrelicOptions.ServiceName = rootOptions.ServiceName
			newrelicOptions.Version = VERSION
			newrelic := provider.NewNewRelicHandler(newrelicOptions, logs, stdout)
			if newrelic != nil && common.HasElem(rootOptions.Handlers, "newrelic") {
				handlers = append(handlers, newrelic)
			}

			opentelemetryOptions.ServiceName = rootOptions.ServiceName
			opentelemetryOptions.Version = VERSION
			opentelemetry := provider.NewOpentelemetryHandler(opentelemetryOptions, logs, stdout)
			if opentelemetry != nil && common.HasElem(rootOptions.Handlers, "opentelemetry") {
				handlers = append(handlers, opentelemetry)
			}

			injectFormat := trace.B3FormatMulti
			if rootOptions.B3SingleHeader {
				injectFormat = trace.B3FormatSingle
			}

			var err error
			tracer, err = trace.NewTracer(trace.TracerOptions{
				ServiceName:         rootOptions.ServiceName,
				Sampler:             newSampler(),
				Handlers:            handlers,
				Propagation:         trace.NewB3Propagation(trace.B3PropagationOptions{InjectFormat: injectFormat}),
				CurrentContext:      current,
				TraceID128Bit:       rootOptions.TraceID128Bit,
				PendingSpanCapacity: rootOptions.PendingSpans,
				Logger:              logs,
			})
			if err != nil {
				logs.Panic(err)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {

			logs.Info("Log message without trace correlation...")

			rootSpan, rootScope := tracer.StartScopedSpan("tracing-root")
			logs.Info("This message has correlation with the root span...")

			for i := 0; i < 10; i++ {

				span, scope := tracer.StartScopedSpan(fmt.Sprintf("tracing-step-%d", i))
				span.SetKind(trace.KindClient)
				span.SetTag("step", strconv.Itoa(i))

				time.Sleep(time.Duration(100*i) * time.Millisecond)
				logs.Debug("Step %d is done", i)

				scope.Close()
				span.Finish()
			}

			headers := make(http.Header)
			tracer.Inject(trace.HeaderSetter, rootSpan.Context(), headers)
			logs.Info("Propagation headers => %v", headers)

			extracted := tracer.Extract(trace.HeaderGetter, headers)
			continuation := tracer.NextSpan(extracted)
			continuation.SetName("tracing-continuation").SetKind(trace.KindServer).Start()
			continuation.Finish()

			rootScope.Close()
			rootSpan.Finish()
			tracer.Flush()

			logs.Info("Wait until it will be interrupted...")
			mainWG.Wait()
		},
	}

	flags := rootCmd.PersistentFlags()

	flags.StringSliceVar(&rootOptions.Handlers, "handlers", rootOptions.Handlers, "Span handlers: prometheus, jaeger, datadog, newrelic, opentelemetry")
	flags.StringVar(&rootOptions.ServiceName, "service-name", rootOptions.ServiceName, "Service name")
	flags.Float64Var(&rootOptions.SamplingRate, "sampling-rate", rootOptions.SamplingRate, "Sampling rate between 0 and 1")
	flags.BoolVar(&rootOptions.TraceID128Bit, "trace-id-128bit", rootOptions.TraceID128Bit, "Generate 128 bit trace IDs")
	flags.BoolVar(&rootOptions.B3SingleHeader, "b3-single-header", rootOptions.B3SingleHeader, "Inject the single b3 header instead of X-B3-*")
	flags.IntVar(&rootOptions.PendingSpans, "pending-spans", rootOptions.PendingSpans, "Capacity of the abandoned span registry")

	flags.StringVar(&stdoutOptions.Format, "stdout-format", stdoutOptions.Format, "Stdout format: json, text, template")
	flags.StringVar(&stdoutOptions.Level, "stdout-level", stdoutOptions.Level, "Stdout level: info, warn, error, debug, panic")
	flags.StringVar(&stdoutOptions.Template, "stdout-template", stdoutOptions.Template, "Stdout template")
	flags.StringVar(&stdoutOptions.TimestampFormat, "stdout-timestamp-format", stdoutOptions.TimestampFormat, "Stdout timestamp format")
	flags.BoolVar(&stdoutOptions.TextColors, "stdout-text-colors", stdoutOptions.TextColors, "Stdout text colors")

	flags.StringVar(&prometheusOptions.URL, "prometheus-url", prometheusOptions.URL, "Prometheus endpoint url")
	flags.StringVar(&prometheusOptions.Listen, "prometheus-listen", prometheusOptions.Listen, "Prometheus listen")
	flags.StringVar(&prometheusOptions.Prefix, "prometheus-prefix", prometheusOptions.Prefix, "Prometheus prefix")

	flags.StringVar(&jaegerOptions.AgentHost, "jaeger-agent-host", jaegerOptions.AgentHost, "Jaeger agent host")
	flags.IntVar(&jaegerOptions.AgentPort, "jaeger-agent-port", jaegerOptions.AgentPort, "Jaeger agent port")
	flags.StringVar(&jaegerOptions.Endpoint, "jaeger-endpoint", jaegerOptions.Endpoint, "Jaeger endpoint")
	flags.StringVar(&jaegerOptions.User, "jaeger-user", jaegerOptions.User, "Jaeger user")
	flags.StringVar(&jaegerOptions.Password, "jaeger-password", jaegerOptions.Password, "Jaeger password")
	flags.IntVar(&jaegerOptions.BufferFlushInterval, "jaeger-buffer-flush-interval", jaegerOptions.BufferFlushInterval, "Jaeger buffer flush interval")
	flags.IntVar(&jaegerOptions.QueueSize, "jaeger-queue-size", jaegerOptions.QueueSize, "Jaeger queue size")
	flags.StringVar(&jaegerOptions.Tags, "jaeger-tags", jaegerOptions.Tags, "Jaeger tags, comma separated list of name=value")

	flags.StringVar(&datadogOptions.Environment, "datadog-environment", datadogOptions.Environment, "DataDog environment")
	flags.StringVar(&datadogOptions.Tags, "datadog-tags", datadogOptions.Tags, "DataDog tags")
	flags.BoolVar(&datadogOptions.Debug, "datadog-debug", datadogOptions.Debug, "DataDog debug")
	flags.StringVar(&datadogOptions.AgentHost, "datadog-agent-host", datadogOptions.AgentHost, "DataDog agent host")
	flags.IntVar(&datadogOptions.AgentPort, "datadog-agent-port", datadogOptions.AgentPort, "DataDog agent port")

	flags.StringVar(&newrelicOptions.ApiKey, "newrelic-api-key", newrelicOptions.ApiKey, "NewRelic API key")
	flags.StringVar(&newrelicOptions.Environment, "newrelic-environment", newrelicOptions.Environment, "NewRelic environment")
	flags.StringVar(&newrelicOptions.Attributes, "newrelic-attributes", newrelicOptions.Attributes, "NewRelic attributes, comma separated list of name=value")
	flags.StringVar(&newrelicOptions.Endpoint, "newrelic-endpoint", newrelicOptions.Endpoint, "NewRelic endpoint")
	flags.BoolVar(&newrelicOptions.Debug, "newrelic-debug", newrelicOptions.Debug, "NewRelic debug")

	flags.StringVar(&opentelemetryOptions.Environment, "opentelemetry-environment", opentelemetryOptions.Environment, "Opentelemetry environment")
	flags.StringVar(&opentelemetryOptions.Attributes, "opentelemetry-attributes", opentelemetryOptions.Attributes, "Opentelemetry attributes, comma separated list of name=value")
	flags.StringVar(&opentelemetryOptions.AgentHost, "opentelemetry-agent-host", opentelemetryOptions.AgentHost, "Opentelemetry agent host")
	flags.IntVar(&opentelemetryOptions.AgentPort, "opentelemetry-agent-port", opentelemetryOptions.AgentPort, "Opentelemetry agent port")

	interceptSyscall()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(VERSION)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		logs.Error(err)
		os.Exit(1)
	}
}
