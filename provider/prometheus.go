package provider

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/devopsext/tracing/common"
	"github.com/devopsext/tracing/trace"
)

type PrometheusOptions struct {
	URL     string
	Listen  string
	Version string
	Prefix  string
}

type Labels map[string]string

// PrometheusMetrics is a span handler that keeps span throughput and latency
// counters and exposes them on a Prometheus scrape endpoint. It opts into
// abandonment so leaked spans show up as a counter instead of disappearing.
type PrometheusMetrics struct {
	options  PrometheusOptions
	logger   common.Logger
	listener *net.Listener
}

func (p *PrometheusMetrics) buildIdent(name string, labels Labels, prefixes ...string) string {

	var names []string

	if !common.IsEmpty(p.options.Prefix) {
		names = append(names, p.options.Prefix)
	}

	names = append(names, prefixes...)
	names = append(names, name)
	name = strings.Join(names, "_")

	lbs := ""
	if len(labels) > 0 {
		arr := []string{}
		for k, v := range labels {
			arr = append(arr, fmt.Sprintf(`%s="%s"`, k, v))
		}
		sort.Strings(arr)
		lbs = fmt.Sprintf("{%s}", strings.Join(arr, ","))
	}
	return fmt.Sprintf(`%s%s`, name, lbs)
}

func spanLabels(span *trace.MutableSpan) Labels {

	labels := Labels{}
	if !common.IsEmpty(span.LocalServiceName()) {
		labels["service"] = span.LocalServiceName()
	}
	if span.Kind() != "" {
		labels["kind"] = strings.ToLower(string(span.Kind()))
	}
	return labels
}

func (p *PrometheusMetrics) Begin(ctx *trace.TraceContext, span *trace.MutableSpan, parent *trace.TraceContext) bool {

	metrics.GetOrCreateCounter(p.buildIdent("spans_started_total", spanLabels(span))).Inc()
	return true
}

func (p *PrometheusMetrics) End(ctx *trace.TraceContext, span *trace.MutableSpan, cause trace.Cause) bool {

	labels := spanLabels(span)
	labels["cause"] = cause.String()
	metrics.GetOrCreateCounter(p.buildIdent("spans_ended_total", labels)).Inc()

	if cause == trace.CauseFinished {
		labels := spanLabels(span)
		if span.Error() != nil {
			labels["error"] = "true"
		}
		metrics.GetOrCreateHistogram(p.buildIdent("span_duration_seconds", labels)).
			Update(span.Duration().Seconds())
	}
	return true
}

func (p *PrometheusMetrics) HandlesAbandoned() bool {
	return true
}

func (p *PrometheusMetrics) Start() bool {

	p.logger.Info("Start prometheus endpoint...")

	http.HandleFunc(p.options.URL, func(w http.ResponseWriter, req *http.Request) {
		metrics.ExposeMetadata(true)
		defer metrics.ExposeMetadata(false)

		metrics.WritePrometheus(w, false)
	})

	listener, err := net.Listen("tcp", p.options.Listen)
	if err != nil {
		p.logger.Error(err)
		return false
	}
	p.listener = &listener
	p.logger.Info("Prometheus is up. Listening...")
	err = http.Serve(listener, nil)
	if err != nil {
		p.logger.Error(err)
		return false
	}
	return true
}

func (p *PrometheusMetrics) StartInWaitGroup(wg *sync.WaitGroup) {

	wg.Add(1)

	go func(wg *sync.WaitGroup) {

		defer wg.Done()
		p.Start()
	}(wg)
}

func (p *PrometheusMetrics) Stop() {
	if p.listener != nil {
		l := *p.listener
		l.Close()
	}
}

func NewPrometheusMetrics(options PrometheusOptions, logger common.Logger, stdout *Stdout) *PrometheusMetrics {

	if logger == nil {
		logger = stdout
	}

	return &PrometheusMetrics{
		options: options,
		logger:  logger,
	}
}
