package promise

import (
	"github.com/joeycumines/go-evented/internal/errs"
)

// asPromise normalises a join/settle/any/some/choose input element: a
// *Promise passes through, anything else is wrapped as already-fulfilled.
func asPromise(scheduler Scheduler, v any) *Promise {
	if pr, ok := v.(*Promise); ok {
		return pr
	}
	return Resolved(scheduler, v)
}

// Join waits for every promise in ps to fulfill and resolves with a map of
// their values, keyed the same way ps was keyed. It rejects as soon as any
// input rejects, with that input's reason. An empty ps resolves immediately
// with an empty map.
func Join(scheduler Scheduler, ps map[string]any) *Promise {
	result, resolve, reject := NewWithResolvers(scheduler)
	if len(ps) == 0 {
		resolve(map[string]any{})
		return result
	}
	values := make(map[string]any, len(ps))
	remaining := len(ps)
	done := false
	for key, v := range ps {
		key := key
		asPromise(scheduler, v).Then(
			func(val any) (any, error) {
				if done {
					return nil, nil
				}
				values[key] = val
				remaining--
				if remaining == 0 {
					done = true
					resolve(cloneMap(values))
				}
				return nil, nil
			},
			func(err error) (any, error) {
				if !done {
					done = true
					reject(err)
				}
				return nil, nil
			},
		)
	}
	return result
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Settle waits for every promise in ps to settle (fulfilled or rejected,
// never both) and resolves with a map of the now-settled child promises.
// Settle never itself rejects.
func Settle(scheduler Scheduler, ps map[string]any) *Promise {
	result, resolve, _ := NewWithResolvers(scheduler)
	if len(ps) == 0 {
		resolve(map[string]*Promise{})
		return result
	}
	settled := make(map[string]*Promise, len(ps))
	remaining := len(ps)
	for key, v := range ps {
		key := key
		child := asPromise(scheduler, v)
		settled[key] = child
		child.Then(
			func(val any) (any, error) {
				remaining--
				if remaining == 0 {
					resolve(settled)
				}
				return nil, nil
			},
			func(err error) (any, error) {
				remaining--
				if remaining == 0 {
					resolve(settled)
				}
				return nil, nil
			},
		)
	}
	return result
}

// Any resolves with the value of whichever promise in ps fulfills first. It
// rejects with a *errs.MultiReason once every input has rejected. An empty
// ps rejects immediately with a *errs.LogicError.
func Any(scheduler Scheduler, ps map[string]any) *Promise {
	result, resolve, reject := NewWithResolvers(scheduler)
	if len(ps) == 0 {
		reject(&errs.LogicError{Message: "any: empty input collection"})
		return result
	}
	reasons := make(map[string]error, len(ps))
	remaining := len(ps)
	done := false
	for key, v := range ps {
		key := key
		asPromise(scheduler, v).Then(
			func(val any) (any, error) {
				if !done {
					done = true
					resolve(val)
				}
				return nil, nil
			},
			func(err error) (any, error) {
				if done {
					return nil, nil
				}
				reasons[key] = err
				remaining--
				if remaining == 0 {
					done = true
					reject(&errs.MultiReason{Reasons: reasons})
				}
				return nil, nil
			},
		)
	}
	return result
}

// Some resolves with a map of the first n values to fulfill, keyed as in
// ps. It rejects with a *errs.MultiReason as soon as more than len(ps)-n
// inputs have rejected, since n successes can then no longer be reached.
// n<=0 resolves immediately with an empty map; n>len(ps) rejects immediately
// with a *errs.LogicError.
func Some(scheduler Scheduler, ps map[string]any, n int) *Promise {
	result, resolve, reject := NewWithResolvers(scheduler)
	if n <= 0 {
		resolve(map[string]any{})
		return result
	}
	if n > len(ps) {
		reject(&errs.LogicError{Message: "some: n exceeds input collection size"})
		return result
	}
	values := make(map[string]any, n)
	reasons := make(map[string]error, len(ps))
	allowedFailures := len(ps) - n
	done := false
	for key, v := range ps {
		key := key
		asPromise(scheduler, v).Then(
			func(val any) (any, error) {
				if done {
					return nil, nil
				}
				values[key] = val
				if len(values) == n {
					done = true
					resolve(cloneMap(values))
				}
				return nil, nil
			},
			func(err error) (any, error) {
				if done {
					return nil, nil
				}
				reasons[key] = err
				if len(reasons) > allowedFailures {
					done = true
					reject(&errs.MultiReason{Reasons: reasons})
				}
				return nil, nil
			},
		)
	}
	return result
}

// Choose resolves or rejects with the outcome of whichever promise in ps
// settles first, regardless of fulfillment or rejection (a race). An empty
// ps rejects immediately with a *errs.LogicError.
func Choose(scheduler Scheduler, ps map[string]any) *Promise {
	result, resolve, reject := NewWithResolvers(scheduler)
	if len(ps) == 0 {
		reject(&errs.LogicError{Message: "choose: empty input collection"})
		return result
	}
	done := false
	for _, v := range ps {
		asPromise(scheduler, v).Then(
			func(val any) (any, error) {
				if !done {
					done = true
					resolve(val)
				}
				return nil, nil
			},
			func(err error) (any, error) {
				if !done {
					done = true
					reject(err)
				}
				return nil, nil
			},
		)
	}
	return result
}

// Map applies f to every fulfilled value in ps, concurrently, and resolves
// with a map of the results keyed as in ps. It rejects with the first input
// rejection or the first error f returns.
func Map(scheduler Scheduler, ps map[string]any, f func(value any) (any, error)) *Promise {
	mapped := make(map[string]any, len(ps))
	for key, v := range ps {
		key := key
		v := v
		mapped[key] = asPromise(scheduler, v).Then(
			func(val any) (any, error) { return f(val) },
			nil,
		)
	}
	return Join(scheduler, mapped)
}

// Reduce left-folds f(carry, value) over ps in order, starting from init.
// Unlike the keyed combinators, order matters for a fold, so ps is an
// ordered slice rather than a map. It rejects on the first input rejection
// or the first error f returns.
func Reduce(scheduler Scheduler, ps []any, f func(carry, value any) (any, error), init any) *Promise {
	if len(ps) == 0 {
		return Resolved(scheduler, init)
	}
	carry := Resolved(scheduler, init)
	for _, v := range ps {
		v := v
		carry = carry.Then(func(acc any) (any, error) {
			return asPromise(scheduler, v).Then(
				func(val any) (any, error) { return f(acc, val) },
				nil,
			), nil
		}, nil)
	}
	return carry
}

// Iterate runs step(seed), then step(result), ... repeatedly as long as
// predicate(current) is true, awaiting each step's promise before deciding
// whether to continue. Each iteration is scheduled on a fresh tick rather
// than recursing synchronously, so an unbounded iteration never grows the
// Go call stack.
func Iterate(scheduler Scheduler, seed any, predicate func(value any) bool, step func(value any) (any, error)) *Promise {
	result, resolve, reject := NewWithResolvers(scheduler)
	var loop func(value any)
	loop = func(value any) {
		if !predicate(value) {
			resolve(value)
			return
		}
		scheduler.NextTick(func() {
			func() {
				defer func() {
					if r := recover(); r != nil {
						reject(&errs.PanicError{Value: r})
					}
				}()
				next, err := step(value)
				if err != nil {
					reject(err)
					return
				}
				if pr, ok := next.(*Promise); ok {
					pr.Then(
						func(v any) (any, error) { loop(v); return nil, nil },
						func(e error) (any, error) { reject(e); return nil, nil },
					)
					return
				}
				loop(next)
			}()
		})
	}
	loop(seed)
	return result
}

// Lift wraps a synchronous function so that calling it with *Promise or
// plain-value arguments returns a *Promise for its result: every argument is
// awaited (via Join) before f runs, and a panic inside f rejects the result.
func Lift(scheduler Scheduler, f func(args []any) (any, error)) func(args ...any) *Promise {
	return func(args ...any) *Promise {
		keyed := make(map[string]any, len(args))
		for i, a := range args {
			keyed[indexKey(i)] = a
		}
		return Join(scheduler, keyed).Then(func(values any) (any, error) {
			m := values.(map[string]any)
			ordered := make([]any, len(args))
			for i := range args {
				ordered[i] = m[indexKey(i)]
			}
			return f(ordered)
		}, nil)
	}
}

func indexKey(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	// Join's keys only need to be distinct and stable; for >9 args fall
	// back to a simple decimal expansion.
	var buf []byte
	for i > 0 {
		buf = append([]byte{digits[i%10]}, buf...)
		i /= 10
	}
	return string(buf)
}

// Node is the shape of a callback-style function being adapted by
// [Promisify]: it receives its plain arguments plus a completion callback,
// invoked exactly once with either a single error or a set of results.
type Node func(args []any, done func(err error, results ...any))

// Promisify adapts a callback-style ("Node style") function into one that
// returns a *Promise, the idiomatic bridge for integrating a callback-based
// API (spec §9's "lift/promisify adapters").
func Promisify(scheduler Scheduler, f Node) func(args ...any) *Promise {
	return func(args ...any) *Promise {
		return New(scheduler, func(resolve func(any), reject func(error)) {
			if f == nil {
				reject(&errs.LogicError{Message: "promisify: nil function"})
				return
			}
			f(args, func(err error, results ...any) {
				if err != nil {
					reject(err)
					return
				}
				switch len(results) {
				case 0:
					resolve(nil)
				case 1:
					resolve(results[0])
				default:
					resolve(results)
				}
			})
		})
	}
}
