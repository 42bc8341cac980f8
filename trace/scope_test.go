package trace

import (
	"context"
	"strings"
	"testing"
)

func TestCurrentTraceContextNesting(t *testing.T) {

	current := NewCurrentTraceContext(CurrentTraceContextOptions{})
	if current.Get() != nil {
		t.Fatal("nothing should be current initially")
	}

	s1 := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1))
	s2 := buildContext(t, NewContextBuilder().TraceID(1).ParentID(1).SpanID(2))

	scope1 := current.NewScope(s1)
	if current.Get() != s1 {
		t.Error("s1 should be current")
	}

	scope2 := current.NewScope(s2)
	if current.Get() != s2 {
		t.Error("s2 should be current")
	}

	scope2.Close()
	if current.Get() != s1 {
		t.Error("closing the inner scope should restore s1")
	}

	scope1.Close()
	if current.Get() != nil {
		t.Error("closing the outer scope should restore nothing")
	}
}

func TestCurrentTraceContextNilScope(t *testing.T) {

	current := NewCurrentTraceContext(CurrentTraceContextOptions{})
	s1 := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1))

	outer := current.NewScope(s1)
	cleared := current.NewScope(nil)
	if current.Get() != nil {
		t.Error("a nil scope should clear the slot")
	}
	cleared.Close()
	if current.Get() != s1 {
		t.Error("closing the clearing scope should restore s1")
	}
	outer.Close()
}

func TestMaybeScope(t *testing.T) {

	current := NewCurrentTraceContext(CurrentTraceContextOptions{})
	s1 := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1))

	scope := current.NewScope(s1)
	defer scope.Close()

	if current.MaybeScope(s1) != NoopScope {
		t.Error("the same pointer should need no new scope")
	}

	same := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1).Sampled(true))
	if current.MaybeScope(same) != NoopScope {
		t.Error("an equal context should need no new scope")
	}

	s2 := buildContext(t, NewContextBuilder().TraceID(1).ParentID(1).SpanID(2))
	inner := current.MaybeScope(s2)
	if inner == NoopScope {
		t.Fatal("a different context should open a real scope")
	}
	if current.Get() != s2 {
		t.Error("s2 should be current")
	}
	inner.Close()
	if current.Get() != s1 {
		t.Error("closing should restore s1")
	}
}

func TestMaybeScopeNilWhenNothingCurrent(t *testing.T) {

	current := NewCurrentTraceContext(CurrentTraceContextOptions{})
	if current.MaybeScope(nil) != NoopScope {
		t.Error("nil over nothing should need no new scope")
	}
}

type recordingDecorator struct {
	name   string
	events *[]string
}

func (d *recordingDecorator) DecorateScope(ctx *TraceContext, scope Scope) Scope {

	*d.events = append(*d.events, d.name+" open")
	return scopeFunc(func() {
		*d.events = append(*d.events, d.name+" close")
		scope.Close()
	})
}

type scopeFunc func()

func (f scopeFunc) Close() { f() }

func TestScopeDecoratorOrder(t *testing.T) {

	var events []string
	current := NewCurrentTraceContext(CurrentTraceContextOptions{
		Decorators: []ScopeDecorator{
			&recordingDecorator{name: "a", events: &events},
			&recordingDecorator{name: "b", events: &events},
		},
	})

	s1 := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1))
	scope := current.NewScope(s1)
	scope.Close()

	want := []string{"a open", "b open", "b close", "a close"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("unexpected events: %v", events)
		}
	}
}

func TestStrictScopeDecoratorClean(t *testing.T) {

	strict := NewStrictScopeDecorator()
	current := NewCurrentTraceContext(CurrentTraceContextOptions{
		Decorators: []ScopeDecorator{strict},
	})

	s1 := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1))
	scope := current.NewScope(s1)
	scope.Close()

	if err := strict.Verify(); err != nil {
		t.Errorf("clean usage should verify: %v", err)
	}
}

func TestStrictScopeDecoratorLeak(t *testing.T) {

	strict := NewStrictScopeDecorator()
	current := NewCurrentTraceContext(CurrentTraceContextOptions{
		Decorators: []ScopeDecorator{strict},
	})

	s1 := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1))
	current.NewScope(s1)

	err := strict.Verify()
	if err == nil {
		t.Fatal("a leaked scope should fail verification")
	}
	if !strings.Contains(err.Error(), "never closed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStrictScopeDecoratorDoubleClose(t *testing.T) {

	strict := NewStrictScopeDecorator()
	current := NewCurrentTraceContext(CurrentTraceContextOptions{
		Decorators: []ScopeDecorator{strict},
	})

	s1 := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1))
	scope := current.NewScope(s1)
	scope.Close()
	scope.Close()

	err := strict.Verify()
	if err == nil {
		t.Fatal("a double close should fail verification")
	}
	if !strings.Contains(err.Error(), "closed twice") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStrictScopeDecoratorWrongGoroutine(t *testing.T) {

	strict := NewStrictScopeDecorator()
	current := NewCurrentTraceContext(CurrentTraceContextOptions{
		Decorators: []ScopeDecorator{strict},
	})

	s1 := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1))
	scope := current.NewScope(s1)

	done := make(chan struct{})
	go func() {
		scope.Close()
		close(done)
	}()
	<-done

	err := strict.Verify()
	if err == nil {
		t.Fatal("closing on another goroutine should fail verification")
	}
	if !strings.Contains(err.Error(), "goroutine") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestContextHandOff(t *testing.T) {

	s1 := buildContext(t, NewContextBuilder().TraceID(1).SpanID(1))

	ctx := NewContext(context.Background(), s1)
	if FromContext(ctx) != s1 {
		t.Error("the carried context should come back")
	}
	if FromContext(context.Background()) != nil {
		t.Error("an empty context should carry nothing")
	}
	if FromContext(nil) != nil {
		t.Error("a nil context should carry nothing")
	}
}
