package trace

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/devopsext/tracing/common"
	"github.com/pkg/errors"
)

// StrictScopeDecorator is the testing variant of scope management: it records
// where every scope was opened and verifies that each one was closed, once,
// by the goroutine that opened it. Production setups should not pay for this.
type StrictScopeDecorator struct {
	mu     sync.Mutex
	open   map[*strictScope]struct{}
	misuse []error
}

func NewStrictScopeDecorator() *StrictScopeDecorator {
	return &StrictScopeDecorator{open: make(map[*strictScope]struct{})}
}

func (d *StrictScopeDecorator) DecorateScope(ctx *TraceContext, scope Scope) Scope {

	function, file, line := common.GetCallerInfo(4)
	s := &strictScope{
		decorator: d,
		delegate:  scope,
		caller:    fmt.Sprintf("%s (%s:%d)", function, file, line),
		goroutine: goroutineID(),
	}

	d.mu.Lock()
	d.open[s] = struct{}{}
	d.mu.Unlock()
	return s
}

// Verify reports any scope still open and any misuse seen so far. Call it at
// the end of a test.
func (d *StrictScopeDecorator) Verify() error {

	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	errs = append(errs, d.misuse...)
	for s := range d.open {
		errs = append(errs, errors.Errorf("scope opened at %s was never closed", s.caller))
	}
	if len(errs) == 0 {
		return nil
	}

	msg := ""
	for _, e := range errs {
		if msg != "" {
			msg += "; "
		}
		msg += e.Error()
	}
	return errors.New(msg)
}

type strictScope struct {
	decorator *StrictScopeDecorator
	delegate  Scope
	caller    string
	goroutine uint64
	closed    bool
}

func (s *strictScope) Close() {

	d := s.decorator

	d.mu.Lock()
	if s.closed {
		d.misuse = append(d.misuse, errors.Errorf("scope opened at %s was closed twice", s.caller))
		d.mu.Unlock()
		return
	}
	s.closed = true
	delete(d.open, s)
	if id := goroutineID(); id != s.goroutine {
		d.misuse = append(d.misuse,
			errors.Errorf("scope opened at %s on goroutine %d was closed on goroutine %d", s.caller, s.goroutine, id))
	}
	d.mu.Unlock()

	s.delegate.Close()
}

func goroutineID() uint64 {

	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// first line is "goroutine N [state]:"
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
