package trace

import "strings"

// BaggageField names one caller-defined value propagated alongside trace
// identity. The core never interprets baggage values, it only round-trips
// them.
type BaggageField struct {
	name string
}

func NewBaggageField(name string) BaggageField {
	return BaggageField{name: strings.ToLower(strings.TrimSpace(name))}
}

func (f BaggageField) Name() string {
	return f.name
}

// ValueUpdater assigns one decoded baggage value. Returns false when the
// field is not recognized at this site.
type ValueUpdater func(field BaggageField, value string) bool

// BaggageCodec serializes baggage state into and out of a single carrier
// value. Decode is called with the first non-empty value found among
// ExtractKeyNames; the value returned by Encode is reused for every
// InjectKeyNames entry.
type BaggageCodec interface {
	ExtractKeyNames() []string
	InjectKeyNames() []string
	Decode(update ValueUpdater, value string) bool
	Encode(values map[string]string, ctx *TraceContext) string
}

type noopBaggageCodec struct{}

func (noopBaggageCodec) ExtractKeyNames() []string { return nil }
func (noopBaggageCodec) InjectKeyNames() []string  { return nil }

func (noopBaggageCodec) Decode(update ValueUpdater, value string) bool {
	return false
}

func (noopBaggageCodec) Encode(values map[string]string, ctx *TraceContext) string {
	return ""
}

// NoopBaggageCodec is used when configuration results in no codec needed,
// keeping the hot path free of empty-collection overhead.
var NoopBaggageCodec BaggageCodec = noopBaggageCodec{}

// singleHeaderBaggageCodec carries declared fields in one header as
// "name=value" pairs joined by commas.
type singleHeaderBaggageCodec struct {
	keyName string
	fields  []BaggageField
}

// NewBaggageCodec builds a codec carrying the given fields in a single
// header. With no fields it degrades to NoopBaggageCodec.
func NewBaggageCodec(keyName string, fields ...BaggageField) BaggageCodec {

	if len(fields) == 0 {
		return NoopBaggageCodec
	}
	return &singleHeaderBaggageCodec{keyName: keyName, fields: fields}
}

func (c *singleHeaderBaggageCodec) ExtractKeyNames() []string {
	return []string{c.keyName}
}

func (c *singleHeaderBaggageCodec) InjectKeyNames() []string {
	return []string{c.keyName}
}

func (c *singleHeaderBaggageCodec) Decode(update ValueUpdater, value string) bool {

	decoded := false
	for _, pair := range strings.Split(value, ",") {

		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(kv[0]))
		for _, f := range c.fields {
			if f.name == name && update(f, strings.TrimSpace(kv[1])) {
				decoded = true
			}
		}
	}
	return decoded
}

func (c *singleHeaderBaggageCodec) Encode(values map[string]string, ctx *TraceContext) string {

	var pairs []string
	for _, f := range c.fields {
		if v, ok := values[f.name]; ok && v != "" {
			pairs = append(pairs, f.name+"="+v)
		}
	}
	return strings.Join(pairs, ",")
}

// baggageState is the extra entry holding decoded baggage values, ordered by
// first assignment.
type baggageState struct {
	pairs [][2]string
}

func (s *baggageState) get(name string) string {

	for _, p := range s.pairs {
		if p[0] == name {
			return p[1]
		}
	}
	return ""
}

func (s *baggageState) set(name, value string) {

	for i, p := range s.pairs {
		if p[0] == name {
			s.pairs[i][1] = value
			return
		}
	}
	s.pairs = append(s.pairs, [2]string{name, value})
}

func (s *baggageState) clone() *baggageState {

	c := &baggageState{}
	if len(s.pairs) > 0 {
		c.pairs = append(c.pairs, s.pairs...)
	}
	return c
}

func baggageStateOf(extra []interface{}) *baggageState {

	for _, e := range extra {
		if s, ok := e.(*baggageState); ok {
			return s
		}
	}
	return nil
}

// GetBaggage reads a propagated baggage value from a context, or "" when the
// field was never set.
func GetBaggage(ctx *TraceContext, field BaggageField) string {

	if ctx == nil {
		return ""
	}
	if s := baggageStateOf(ctx.extra); s != nil {
		return s.get(field.name)
	}
	return ""
}

// WithBaggage returns a new context sharing identity with ctx but carrying
// the updated baggage value. The input context is never mutated.
func WithBaggage(ctx *TraceContext, field BaggageField, value string) *TraceContext {

	if ctx == nil || field.name == "" {
		return ctx
	}

	b := ctx.ToBuilder()
	b.extra = nil
	var state *baggageState
	for _, e := range ctx.extra {
		if s, ok := e.(*baggageState); ok {
			state = s.clone()
			b.extra = append(b.extra, state)
			continue
		}
		b.extra = append(b.extra, e)
	}
	if state == nil {
		state = &baggageState{}
		b.extra = append(b.extra, state)
	}
	state.set(field.name, value)

	next, err := b.Build()
	if err != nil {
		return ctx
	}
	return next
}

// BaggagePropagation decorates an identity propagation with zero or more
// baggage codecs. Identity is always delegated first; codecs only see their
// own keys.
type BaggagePropagation struct {
	delegate Propagation
	codecs   []BaggageCodec
}

func NewBaggagePropagation(delegate Propagation, codecs ...BaggageCodec) *BaggagePropagation {

	var active []BaggageCodec
	for _, c := range codecs {
		if c != nil && c != NoopBaggageCodec {
			active = append(active, c)
		}
	}
	return &BaggagePropagation{delegate: delegate, codecs: active}
}

func (p *BaggagePropagation) Keys() []string {

	keys := append([]string{}, p.delegate.Keys()...)
	for _, c := range p.codecs {
		keys = append(keys, c.InjectKeyNames()...)
	}
	return keys
}

func (p *BaggagePropagation) Extractor(getter Getter) Extractor {
	return &baggageExtractor{delegate: p.delegate.Extractor(getter), getter: getter, codecs: p.codecs}
}

func (p *BaggagePropagation) Injector(setter Setter) Injector {
	return &baggageInjector{delegate: p.delegate.Injector(setter), setter: setter, codecs: p.codecs}
}

type baggageExtractor struct {
	delegate Extractor
	getter   Getter
	codecs   []BaggageCodec
}

func (e *baggageExtractor) Extract(carrier interface{}) Extracted {

	ex := e.delegate.Extract(carrier)
	if len(e.codecs) == 0 {
		return ex
	}

	state := &baggageState{}
	update := func(field BaggageField, value string) bool {
		state.set(field.name, value)
		return true
	}

	decoded := false
	for _, c := range e.codecs {
		for _, key := range c.ExtractKeyNames() {
			raw := e.getter(carrier, key)
			if raw == "" {
				continue
			}
			if c.Decode(update, raw) {
				decoded = true
			}
			break // only the first matched key is consulted per codec
		}
	}
	if !decoded {
		return ex
	}

	if ex.Context != nil {
		next, err := ex.Context.ToBuilder().AddExtra(state).Build()
		if err == nil {
			ex.Context = next
		}
		return ex
	}
	ex.Extra = append(ex.Extra, state)
	return ex
}

type baggageInjector struct {
	delegate Injector
	setter   Setter
	codecs   []BaggageCodec
}

func (i *baggageInjector) Inject(ctx *TraceContext, carrier interface{}) {

	i.delegate.Inject(ctx, carrier)
	if ctx == nil || len(i.codecs) == 0 {
		return
	}

	state := baggageStateOf(ctx.extra)
	if state == nil || len(state.pairs) == 0 {
		return
	}

	values := make(map[string]string, len(state.pairs))
	for _, p := range state.pairs {
		values[p[0]] = p[1]
	}

	for _, c := range i.codecs {
		encoded := c.Encode(values, ctx)
		if encoded == "" {
			continue
		}
		for _, key := range c.InjectKeyNames() {
			i.setter(carrier, key, encoded)
		}
	}
}
