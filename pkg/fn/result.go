// Package fn holds the generic helpers the engines share: a Result type for
// stage composition, retry with backoff, an ordered worker pool and a few
// slice utilities.
package fn

import "fmt"

// Result holds either a value or an error.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err wraps an error.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Errf wraps a formatted error.
func Errf[T any](format string, args ...any) Result[T] {
	return Err[T](fmt.Errorf(format, args...))
}

// IsOk reports whether r holds a value.
func (r Result[T]) IsOk() bool { return r.ok }

// IsErr reports whether r holds an error.
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the value and the error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// CollectIndexed returns every value in order, or the index and error of the
// first failed result. The index is -1 when all results are ok.
func CollectIndexed[T any](results []Result[T]) ([]T, int, error) {
	out := make([]T, 0, len(results))
	for i, r := range results {
		if !r.ok {
			return nil, i, r.err
		}
		out = append(out, r.val)
	}
	return out, -1, nil
}
