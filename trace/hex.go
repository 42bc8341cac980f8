package trace

import "sync"

const hexDigits = "0123456789abcdef"

// buffers sized for a 128-bit trace ID; recycled to avoid per-call
// allocation on the inject path. Never retain a pooled buffer past the
// encoding call.
var hexBuffers = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 32)
		return &b
	},
}

func writeHexUint64(dst []byte, pos int, v uint64) {
	for i := 15; i >= 0; i-- {
		dst[pos+i] = hexDigits[v&0xf]
		v >>= 4
	}
}

// SpanIDToHex renders a 64-bit identifier as 16 lower-case hex characters.
func SpanIDToHex(v uint64) string {
	b := hexBuffers.Get().(*[]byte)
	writeHexUint64(*b, 0, v)
	s := string((*b)[:16])
	hexBuffers.Put(b)
	return s
}

// TraceIDToHex renders a trace identifier as 16 hex characters, or 32 when
// the high word is set.
func TraceIDToHex(high, low uint64) string {
	if high == 0 {
		return SpanIDToHex(low)
	}
	b := hexBuffers.Get().(*[]byte)
	writeHexUint64(*b, 0, high)
	writeHexUint64(*b, 16, low)
	s := string((*b)[:32])
	hexBuffers.Put(b)
	return s
}

func parseHexUint64(s string) (uint64, bool) {

	if len(s) != 16 {
		return 0, false
	}

	var v uint64
	for i := 0; i < 16; i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint64(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint64(c-'a'+10)
		default:
			return 0, false
		}
	}
	return v, true
}

// SpanIDFromHex parses exactly 16 lower-case hex characters. Anything else,
// including upper case, is invalid.
func SpanIDFromHex(s string) (uint64, bool) {
	return parseHexUint64(s)
}

// TraceIDFromHex parses a 64-bit (16 characters) or 128-bit (32 characters)
// lower-case hex trace identifier.
func TraceIDFromHex(s string) (high uint64, low uint64, ok bool) {

	switch len(s) {
	case 16:
		low, ok = parseHexUint64(s)
		return 0, low, ok
	case 32:
		high, ok = parseHexUint64(s[:16])
		if !ok {
			return 0, 0, false
		}
		low, ok = parseHexUint64(s[16:])
		if !ok {
			return 0, 0, false
		}
		return high, low, true
	default:
		return 0, 0, false
	}
}
