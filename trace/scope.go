package trace

import "context"

// Scope is the period during which a context is current. Scopes must close
// in reverse order of opening, on every exit path.
type Scope interface {
	Close()
}

type noopScope struct{}

func (noopScope) Close() {}

// NoopScope is returned when opening a scope required no change.
var NoopScope Scope = noopScope{}

// ScopeDecorator runs configured side effects on every scope open and close,
// e.g. writing the current trace/span ID into a correlation log context.
// Decorators run after the context is installed and are unwound before the
// previous context is restored.
type ScopeDecorator interface {
	DecorateScope(ctx *TraceContext, scope Scope) Scope
}

// ScopeStore holds the context slot for one execution unit. Implementations
// are not synchronized: a slot belongs to a single goroutine, and handing a
// context to another goroutine means capturing it and installing it there
// explicitly.
type ScopeStore interface {
	Load() *TraceContext
	Store(ctx *TraceContext)
}

type slotStore struct {
	current *TraceContext
}

func NewSlotStore() ScopeStore {
	return &slotStore{}
}

func (s *slotStore) Load() *TraceContext {
	return s.current
}

func (s *slotStore) Store(ctx *TraceContext) {
	s.current = ctx
}

type CurrentTraceContextOptions struct {
	Store      ScopeStore
	Decorators []ScopeDecorator
}

// CurrentTraceContext exposes "the context currently in effect" with nested
// save/restore semantics.
type CurrentTraceContext struct {
	store      ScopeStore
	decorators []ScopeDecorator
}

func NewCurrentTraceContext(options CurrentTraceContextOptions) *CurrentTraceContext {

	store := options.Store
	if store == nil {
		store = NewSlotStore()
	}
	return &CurrentTraceContext{store: store, decorators: options.Decorators}
}

// Get returns the context currently in scope, or nil if none.
func (c *CurrentTraceContext) Get() *TraceContext {
	return c.store.Load()
}

// NewScope pushes ctx as current and returns a handle whose Close restores
// exactly the previous value. A nil ctx clears the slot for the scope's
// duration.
func (c *CurrentTraceContext) NewScope(ctx *TraceContext) Scope {

	previous := c.store.Load()
	c.store.Store(ctx)

	var scope Scope = &revertScope{store: c.store, previous: previous}
	return c.decorate(ctx, scope)
}

// MaybeScope avoids the push/pop cost when ctx is already current, returning
// a handle whose Close is a pure no-op.
func (c *CurrentTraceContext) MaybeScope(ctx *TraceContext) Scope {

	current := c.store.Load()
	if ctx == current {
		return NoopScope
	}
	if ctx != nil && ctx.Equal(current) {
		return NoopScope
	}
	return c.NewScope(ctx)
}

func (c *CurrentTraceContext) decorate(ctx *TraceContext, scope Scope) Scope {

	for _, d := range c.decorators {
		scope = d.DecorateScope(ctx, scope)
	}
	return scope
}

type revertScope struct {
	store    ScopeStore
	previous *TraceContext
}

func (s *revertScope) Close() {
	s.store.Store(s.previous)
}

type ambientKey struct{}

// NewContext returns a copy of parent carrying tc, for explicit hand-off
// across goroutines and call boundaries.
func NewContext(parent context.Context, tc *TraceContext) context.Context {
	return context.WithValue(parent, ambientKey{}, tc)
}

// FromContext returns the trace context carried by ctx, or nil.
func FromContext(ctx context.Context) *TraceContext {

	if ctx == nil {
		return nil
	}
	tc, _ := ctx.Value(ambientKey{}).(*TraceContext)
	return tc
}
