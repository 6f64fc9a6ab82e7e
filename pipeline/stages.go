package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Identity returns a stage that passes the input through unchanged.
func Identity() Stage {
	return func(_ context.Context, input interface{}) (interface{}, error) {
		return input, nil
	}
}

// Tap returns a stage that calls fn(ctx, input) and passes input through.
func Tap(fn func(context.Context, interface{})) Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		fn(ctx, input)
		return input, nil
	}
}

// Validate passes input through only if it is a T and predicate accepts it.
// A rejected value fails with errMsg ("validation failed" when empty).
func Validate[T any](predicate func(T) bool, errMsg string) Stage {
	if errMsg == "" {
		errMsg = "validation failed"
	}
	return func(_ context.Context, input interface{}) (interface{}, error) {
		v, ok := input.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("validate: expected %T, got %T", zero, input)
		}
		if !predicate(v) {
			return nil, fmt.Errorf("%s", errMsg)
		}
		return input, nil
	}
}

// Constant ignores its input and always outputs value.
func Constant(value interface{}) Stage {
	return func(context.Context, interface{}) (interface{}, error) {
		return value, nil
	}
}

// WithTimeout runs inner with a deadline of now+timeout.
func WithTimeout(inner Stage, timeout time.Duration) Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return inner(ctx, input)
	}
}
