package etl

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Record keys.
const (
	KeyData    = "data"
	KeyMessage = "message"
)

// Record is the mapping passed through the flow: a numeric "data" field from
// the API and, after augmentation, a "message" field.
type Record map[string]interface{}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String formats r as {'data': 42, 'message': 'hi'} with keys sorted.
func (r Record) String() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "'%s': %s", k, literal(r[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func literal(v interface{}) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", `\'`) + "'"
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// AsRecord converts a stage input to a Record. It accepts Record, *Record and
// map[string]interface{} (the shape a record has after a JSON round trip, e.g.
// on resume); integral float64 values are turned back into ints.
func AsRecord(v interface{}) (Record, error) {
	var m map[string]interface{}
	switch x := v.(type) {
	case Record:
		m = x
	case *Record:
		if x == nil {
			return nil, fmt.Errorf("record: nil *Record")
		}
		m = *x
	case map[string]interface{}:
		m = x
	default:
		return nil, fmt.Errorf("record: expected Record, got %T", v)
	}
	out := make(Record, len(m))
	for k, val := range m {
		if f, ok := val.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			val = int(f)
		}
		out[k] = val
	}
	return out, nil
}
