package provider

import (
	"context"
	"strings"

	"github.com/devopsext/tracing/common"
	"github.com/devopsext/tracing/trace"
	utils "github.com/devopsext/utils"
	telemetry "github.com/newrelic/newrelic-telemetry-sdk-go/telemetry"
)

type NewRelicOptions struct {
	ApiKey      string
	ServiceName string
	Environment string
	Version     string
	Attributes  string
	Endpoint    string
	Debug       bool
}

// NewRelicHandler sends completed spans to the New Relic trace API through a
// batching harvester. Identifiers are passed through unchanged.
type NewRelicHandler struct {
	harvester *telemetry.Harvester
	options   NewRelicOptions
	logger    common.Logger
}

func (nr *NewRelicHandler) Begin(ctx *trace.TraceContext, span *trace.MutableSpan, parent *trace.TraceContext) bool {
	return true
}

func (nr *NewRelicHandler) End(ctx *trace.TraceContext, span *trace.MutableSpan, cause trace.Cause) bool {

	if cause == trace.CauseAbandoned {
		return true
	}

	name := span.Name()
	if utils.IsEmpty(name) {
		name = "unknown"
	}

	attributes := make(map[string]interface{})
	if span.Kind() != "" {
		attributes["span.kind"] = strings.ToLower(string(span.Kind()))
	}
	for _, tag := range span.Tags() {
		attributes[tag[0]] = tag[1]
	}
	if remote := span.RemoteEndpoint(); !utils.IsEmpty(remote.ServiceName) {
		attributes["peer.service"] = remote.ServiceName
	}
	if err := span.Error(); err != nil {
		attributes["error"] = true
		attributes["error.message"] = err.Error()
	}

	serviceName := span.LocalServiceName()
	if utils.IsEmpty(serviceName) {
		serviceName = nr.options.ServiceName
	}

	err := nr.harvester.RecordSpan(telemetry.Span{
		ID:          ctx.SpanIDString(),
		TraceID:     ctx.TraceIDString(),
		ParentID:    ctx.ParentIDString(),
		Name:        name,
		Timestamp:   span.StartTime(),
		Duration:    span.Duration(),
		ServiceName: serviceName,
		Attributes:  attributes,
	})
	if err != nil {
		nr.logger.Error(err)
	}
	return true
}

func (nr *NewRelicHandler) HandlesAbandoned() bool {
	return false
}

func (nr *NewRelicHandler) Stop() {
	if nr.harvester != nil {
		nr.harvester.HarvestNow(context.Background())
	}
}

func NewNewRelicHandler(options NewRelicOptions, logger common.Logger, stdout *Stdout) *NewRelicHandler {

	if logger == nil {
		logger = stdout
	}

	if utils.IsEmpty(options.Endpoint) && utils.IsEmpty(options.ApiKey) {
		stdout.Debug("NewRelic handler is disabled.")
		return nil
	}

	attribites := make(map[string]interface{})
	m := common.GetKeyValues(options.Attributes)
	for k, v := range m {
		attribites[k] = v
	}
	attribites["env"] = options.Environment
	attribites["version"] = options.Version

	var cfgs []func(*telemetry.Config)
	cfgs = append(cfgs,
		telemetry.ConfigAPIKey(options.ApiKey),
		telemetry.ConfigCommonAttributes(attribites),
	)
	if !utils.IsEmpty(options.Endpoint) {
		cfgs = append(cfgs, telemetry.ConfigSpansURLOverride(options.Endpoint))
	}
	if options.Debug {
		cfgs = append(cfgs,
			telemetry.ConfigBasicErrorLogger(stdout.log.Writer()),
			telemetry.ConfigBasicDebugLogger(stdout.log.Writer()),
		)
	}

	harvester, err := telemetry.NewHarvester(cfgs...)
	if err != nil {
		stdout.Error(err)
		return nil
	}

	logger.Info("NewRelic handler is up...")

	return &NewRelicHandler{
		harvester: harvester,
		options:   options,
		logger:    logger,
	}
}
