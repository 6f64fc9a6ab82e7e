package pipeline

import (
	"context"
	"fmt"
)

type paramsKey struct{}

// WithParameters returns a context carrying flow parameters for stages to read
// with Param. RunOptions.Parameters does the same for a single run.
func WithParameters(ctx context.Context, params map[string]interface{}) context.Context {
	return context.WithValue(ctx, paramsKey{}, params)
}

func withParameters(ctx context.Context, opts *RunOptions) context.Context {
	if opts == nil || opts.Parameters == nil {
		return ctx
	}
	return WithParameters(ctx, opts.Parameters)
}

// Param returns the flow parameter named key.
func Param(ctx context.Context, key string) (interface{}, bool) {
	params, _ := ctx.Value(paramsKey{}).(map[string]interface{})
	v, ok := params[key]
	return v, ok
}

// StringParam returns the flow parameter named key as a string. Non-string
// values are formatted with %v.
func StringParam(ctx context.Context, key string) (string, bool) {
	v, ok := Param(ctx, key)
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}
