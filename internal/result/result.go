// Package result makes fail-soft paths explicit. A step that may fail
// returns a Result, and the call site decides whether to propagate the
// error or fall back to a default.
package result

// Result holds either a value or the error that prevented producing one.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Fail wraps an error. A nil error still yields a failed Result holding
// the zero value, so callers never mistake it for success.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = errNilFailure
	}
	return Result[T]{err: err}
}

// From builds a Result from a (value, error) pair.
func From[T any](value T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(value)
}

// IsOk reports whether the Result holds a value.
func (r Result[T]) IsOk() bool {
	return r.err == nil
}

// Err returns the failure, or nil.
func (r Result[T]) Err() error {
	return r.err
}

// Unwrap returns the value and error as a pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.err
}

// OrDefault returns the value, or def when the Result failed.
func (r Result[T]) OrDefault(def T) T {
	if r.err != nil {
		return def
	}
	return r.value
}

// OrEmpty returns the value, or the zero value of T when the Result failed.
func (r Result[T]) OrEmpty() T {
	var zero T
	return r.OrDefault(zero)
}

// OrElse returns the value, or calls onErr with the failure and returns
// its result. It is the hook for logging a soft failure at the call site.
func (r Result[T]) OrElse(onErr func(error) T) T {
	if r.err != nil {
		return onErr(r.err)
	}
	return r.value
}
