package httpstages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dcshock/etlflow/pipeline"
)

// ParseJSON decodes a response body ([]byte or string) into the generic JSON
// value, so an API object such as {"data": 42} comes out as a
// map[string]interface{} with float64 numbers.
func ParseJSON() pipeline.Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		var out interface{}
		if err := decode("parsejson", input, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// ParseJSONTo decodes a response body into a new T and outputs the *T.
func ParseJSONTo[T any]() pipeline.Stage {
	return func(ctx context.Context, input interface{}) (interface{}, error) {
		var out T
		if err := decode("parsejsonto", input, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}
}

// decode is shared by both stages; op prefixes its errors.
func decode(op string, input interface{}, v interface{}) error {
	var raw []byte
	switch in := input.(type) {
	case []byte:
		raw = in
	case string:
		raw = []byte(in)
	default:
		return fmt.Errorf("%s: input must be []byte or string, got %T", op, input)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
