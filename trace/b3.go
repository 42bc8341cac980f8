package trace

// B3 header names. These must match exactly for interop with other tracers.
const (
	B3SingleHeader       = "b3"
	B3TraceIDHeader      = "X-B3-TraceId"
	B3SpanIDHeader       = "X-B3-SpanId"
	B3ParentSpanIDHeader = "X-B3-ParentSpanId"
	B3SampledHeader      = "X-B3-Sampled"
	B3FlagsHeader        = "X-B3-Flags"
)

type B3Format int

const (
	// B3FormatMulti writes the X-B3-* header set.
	B3FormatMulti B3Format = iota
	// B3FormatSingle writes the compact "b3" header:
	// {traceId}-{spanId}[-{sampledOrDebugFlag}[-{parentId}]]
	B3FormatSingle
)

type B3PropagationOptions struct {
	InjectFormat B3Format
}

// B3Propagation reads and writes trace identity in B3 form. Extraction tries
// the single "b3" header first, then the multi X-B3-* set; the first format
// whose mandatory fields are syntactically valid wins.
type B3Propagation struct {
	options B3PropagationOptions
}

func NewB3Propagation(options B3PropagationOptions) *B3Propagation {
	return &B3Propagation{options: options}
}

func (p *B3Propagation) Keys() []string {

	if p.options.InjectFormat == B3FormatSingle {
		return []string{B3SingleHeader}
	}
	return []string{B3TraceIDHeader, B3SpanIDHeader, B3ParentSpanIDHeader, B3SampledHeader, B3FlagsHeader}
}

func (p *B3Propagation) Extractor(getter Getter) Extractor {
	return &b3Extractor{getter: getter}
}

func (p *B3Propagation) Injector(setter Setter) Injector {
	return &b3Injector{setter: setter, format: p.options.InjectFormat}
}

type b3Extractor struct {
	getter Getter
}

func (e *b3Extractor) Extract(carrier interface{}) Extracted {

	if v := e.getter(carrier, B3SingleHeader); v != "" {
		if ex, ok := parseB3Single(v); ok {
			return ex
		}
	}
	return e.extractMulti(carrier)
}

// parseB3Single parses the compact form. A malformed mandatory field returns
// ok=false so the caller can fall through to the next format; malformed
// optional fields are ignored.
func parseB3Single(value string) (Extracted, bool) {

	switch value {
	case "0":
		return ExtractedFlags(NotSampledFlags), true
	case "1":
		return ExtractedFlags(SampledFlags), true
	case "d":
		return ExtractedFlags(DebugFlags), true
	}

	fields := splitB3(value)
	if len(fields) < 2 {
		return EmptyExtracted, false
	}

	high, low, ok := TraceIDFromHex(fields[0])
	if !ok {
		return EmptyExtracted, false
	}
	spanID, ok := SpanIDFromHex(fields[1])
	if !ok || spanID == 0 {
		return EmptyExtracted, false
	}

	b := NewContextBuilder().TraceIDHigh(high).TraceID(low).SpanID(spanID)

	if len(fields) > 2 {
		switch fields[2] {
		case "1":
			b.Sampled(true)
		case "0":
			b.Sampled(false)
		case "d":
			b.Debug(true)
		}
	}
	if len(fields) > 3 {
		if parentID, ok := SpanIDFromHex(fields[3]); ok {
			b.ParentID(parentID)
		}
	}

	ctx, err := b.Build()
	if err != nil {
		return EmptyExtracted, false
	}
	return ExtractedContext(ctx), true
}

func splitB3(value string) []string {

	var fields []string
	start := 0
	for i := 0; i < len(value); i++ {
		if value[i] == '-' {
			fields = append(fields, value[start:i])
			start = i + 1
		}
	}
	return append(fields, value[start:])
}

func (e *b3Extractor) extractMulti(carrier interface{}) Extracted {

	flags := EmptySamplingFlags
	switch e.getter(carrier, B3SampledHeader) {
	case "1", "true":
		flags = SampledFlags
	case "0", "false":
		flags = NotSampledFlags
	}
	if e.getter(carrier, B3FlagsHeader) == "1" {
		flags = DebugFlags
	}

	traceIDValue := e.getter(carrier, B3TraceIDHeader)
	if traceIDValue == "" {
		return ExtractedFlags(flags)
	}

	high, low, ok := TraceIDFromHex(traceIDValue)
	if !ok {
		return ExtractedFlags(EmptySamplingFlags)
	}

	spanIDValue := e.getter(carrier, B3SpanIDHeader)
	if spanIDValue == "" {
		tid, err := NewTraceIDContext(high, low, flags)
		if err != nil {
			return ExtractedFlags(EmptySamplingFlags)
		}
		return ExtractedTraceID(tid)
	}

	spanID, ok := SpanIDFromHex(spanIDValue)
	if !ok || spanID == 0 {
		return ExtractedFlags(EmptySamplingFlags)
	}

	b := NewContextBuilder().TraceIDHigh(high).TraceID(low).SpanID(spanID).SamplingFlags(flags)

	if parentValue := e.getter(carrier, B3ParentSpanIDHeader); parentValue != "" {
		if parentID, ok := SpanIDFromHex(parentValue); ok {
			b.ParentID(parentID)
		}
	}

	ctx, err := b.Build()
	if err != nil {
		return ExtractedFlags(EmptySamplingFlags)
	}
	return ExtractedContext(ctx)
}

type b3Injector struct {
	setter Setter
	format B3Format
}

func (i *b3Injector) Inject(ctx *TraceContext, carrier interface{}) {

	if ctx == nil {
		return
	}

	if i.format == B3FormatSingle {
		i.setter(carrier, B3SingleHeader, writeB3Single(ctx))
		return
	}

	i.setter(carrier, B3TraceIDHeader, ctx.TraceIDString())
	i.setter(carrier, B3SpanIDHeader, ctx.SpanIDString())
	if ctx.ParentID() != 0 {
		i.setter(carrier, B3ParentSpanIDHeader, SpanIDToHex(ctx.ParentID()))
	}

	if ctx.Debug() {
		i.setter(carrier, B3FlagsHeader, "1")
		return
	}
	// an undecided sampling decision is omitted, never written as a sentinel
	if value, decided := ctx.Sampled(); decided {
		if value {
			i.setter(carrier, B3SampledHeader, "1")
		} else {
			i.setter(carrier, B3SampledHeader, "0")
		}
	}
}

func appendHexUint64(dst []byte, v uint64) []byte {

	var tmp [16]byte
	writeHexUint64(tmp[:], 0, v)
	return append(dst, tmp[:]...)
}

func writeB3Single(ctx *TraceContext) string {

	// worst case: 32 + 1 + 16 + 2 + 1 + 16
	buf := make([]byte, 0, 68)

	if ctx.TraceIDHigh() != 0 {
		buf = appendHexUint64(buf, ctx.TraceIDHigh())
	}
	buf = appendHexUint64(buf, ctx.TraceID())
	buf = append(buf, '-')
	buf = appendHexUint64(buf, ctx.SpanID())

	value, decided := ctx.Sampled()
	if ctx.Debug() {
		buf = append(buf, '-', 'd')
	} else if decided {
		if value {
			buf = append(buf, '-', '1')
		} else {
			buf = append(buf, '-', '0')
		}
	} else {
		// the parent field follows the flag field, so neither is written
		return string(buf)
	}

	if ctx.ParentID() != 0 {
		buf = append(buf, '-')
		buf = appendHexUint64(buf, ctx.ParentID())
	}
	return string(buf)
}
