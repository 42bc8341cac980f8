package trace

import "net/http"

// Getter reads one named field from a carrier. An empty string means the
// field is absent.
type Getter func(carrier interface{}, key string) string

// Setter writes one named field into a carrier.
type Setter func(carrier interface{}, key, value string)

// Extractor reads trace identity and sampling intent out of a carrier.
// Missing data is not an error: the empty Extracted is returned when nothing
// usable is present.
type Extractor interface {
	Extract(carrier interface{}) Extracted
}

// Injector writes a context's identity and sampling decision into a carrier.
type Injector interface {
	Inject(ctx *TraceContext, carrier interface{})
}

// Propagation converts between TraceContext values and a carrier's flat
// header namespace, generic over the carrier via Getter/Setter.
type Propagation interface {
	Keys() []string
	Extractor(getter Getter) Extractor
	Injector(setter Setter) Injector
}

// HeaderGetter adapts http.Header carriers.
func HeaderGetter(carrier interface{}, key string) string {

	h, ok := carrier.(http.Header)
	if !ok {
		return ""
	}
	return h.Get(key)
}

// HeaderSetter adapts http.Header carriers.
func HeaderSetter(carrier interface{}, key, value string) {

	h, ok := carrier.(http.Header)
	if !ok {
		return
	}
	h.Set(key, value)
}
