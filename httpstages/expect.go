package httpstages

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/dcshock/etlflow/pipeline"
)

// ErrUnexpected marks a response body that decoded fine but is not what the
// caller expected. It is never retryable.
var ErrUnexpected = errors.New("unexpected response")

// Expect passes the input through when check accepts it and fails the stage
// with ErrUnexpected and check's error otherwise. A nil check panics.
func Expect(check func(interface{}) error) pipeline.Stage {
	if check == nil {
		panic("httpstages.Expect: nil check")
	}
	return func(_ context.Context, input interface{}) (interface{}, error) {
		if err := check(input); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnexpected, err)
		}
		return input, nil
	}
}

// ExpectEqual expects the input to be reflect.DeepEqual to want. Decoded JSON
// numbers are float64.
func ExpectEqual(want interface{}) pipeline.Stage {
	return Expect(func(v interface{}) error {
		if !reflect.DeepEqual(v, want) {
			return fmt.Errorf("got %v, want %v", v, want)
		}
		return nil
	})
}

// ExpectKeys expects a decoded JSON object holding every key in keys with a
// non-null value. Missing keys are reported sorted.
func ExpectKeys(keys ...string) pipeline.Stage {
	return Expect(func(v interface{}) error {
		obj, ok := v.(map[string]interface{})
		if !ok {
			return fmt.Errorf("want a JSON object, got %T", v)
		}
		var missing []string
		for _, k := range keys {
			if obj[k] == nil {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return fmt.Errorf("missing %q", missing)
		}
		return nil
	})
}
