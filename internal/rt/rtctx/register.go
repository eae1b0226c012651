// Package rtctx tracks which runtime is driving the current goroutine.
//
// A Register is the slot holding the "current handle". It is owned by exactly
// one goroutine: a scheduler driver, a pool worker, or whoever called
// Runtime.Enter first. Code further down the call stack reaches the register
// through its context.Context (Bind/Current), so nothing has to thread the
// handle explicitly.
//
// Scopes nest strictly: Enter saves the previous value and a deferred guard
// writes it back however the body exits (return, error, or panic).
//
// H is opaque to this package; it only stores and returns it.
package rtctx

import "context"

// Register holds at most one current handle.
//
// The zero value is an empty register. A Register must never be shared
// between goroutines; use Fork to hand a context to a new goroutine.
type Register[H any] struct {
	cur H
	set bool
}

// Current reports the handle installed in r, if any.
func (r *Register[H]) Current() (H, bool) {
	if r == nil || !r.set {
		var zero H
		return zero, false
	}
	return r.cur, true
}

// guard owns the value that was current before an Enter.
type guard[H any] struct {
	r    *Register[H]
	prev H
	had  bool
}

func (r *Register[H]) swap(h H) guard[H] {
	g := guard[H]{r: r, prev: r.cur, had: r.set}
	r.cur = h
	r.set = true
	return g
}

func (g guard[H]) restore() {
	g.r.cur = g.prev
	g.r.set = g.had
}

// Enter installs h as current in r for the duration of body.
//
// The previous value (possibly absent) is reinstated before Enter returns or
// before a panic from body continues unwinding. The result and error of body
// are returned untouched.
func Enter[H, R any](r *Register[H], h H, body func() (R, error)) (R, error) {
	g := r.swap(h)
	defer g.restore()
	return body()
}

// Do is Enter for bodies that only report an error.
func (r *Register[H]) Do(h H, body func() error) error {
	g := r.swap(h)
	defer g.restore()
	return body()
}

type registerKey[H any] struct{}

// Bind returns a context carrying r. Everything that runs with that context
// on r's goroutine observes r's current handle.
func Bind[H any](ctx context.Context, r *Register[H]) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, registerKey[H]{}, r)
}

// RegisterFrom returns the register bound to ctx, or nil.
func RegisterFrom[H any](ctx context.Context) *Register[H] {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(registerKey[H]{}).(*Register[H])
	return r
}

// Current returns the handle current for ctx. It reports false when no
// register is bound or the bound register is empty.
func Current[H any](ctx context.Context) (H, bool) {
	return RegisterFrom[H](ctx).Current()
}

// Fork returns a context bound to a fresh register seeded with the handle
// current in ctx. Use it before passing ctx to another goroutine.
func Fork[H any](ctx context.Context) context.Context {
	r := &Register[H]{}
	if h, ok := Current[H](ctx); ok {
		r.cur = h
		r.set = true
	}
	return Bind(ctx, r)
}

// EnterContext enters h on the register bound to ctx, binding a new one
// first if ctx has none. body receives the context to use inside the scope.
func EnterContext[H, R any](ctx context.Context, h H, body func(ctx context.Context) (R, error)) (R, error) {
	r := RegisterFrom[H](ctx)
	if r == nil {
		r = &Register[H]{}
		ctx = Bind(ctx, r)
	}
	return Enter(r, h, func() (R, error) { return body(ctx) })
}
