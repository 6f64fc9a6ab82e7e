package httpstages

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestParseJSON_APIBody(t *testing.T) {
	for _, body := range []interface{}{[]byte(`{"data":42}`), `{"data":42}`} {
		out, err := ParseJSON()(context.Background(), body)
		if err != nil {
			t.Fatalf("ParseJSON(%T): %v", body, err)
		}
		if !reflect.DeepEqual(out, map[string]interface{}{"data": float64(42)}) {
			t.Errorf("ParseJSON(%T): got %v", body, out)
		}
	}
}

func TestParseJSON_BadInput(t *testing.T) {
	tests := []struct {
		in      interface{}
		wantErr string
	}{
		{42, "parsejson: input must be []byte or string, got int"},
		{`{"data":`, "parsejson: unexpected end of JSON input"},
	}
	for _, tt := range tests {
		_, err := ParseJSON()(context.Background(), tt.in)
		if err == nil || err.Error() != tt.wantErr {
			t.Errorf("ParseJSON(%v): err = %v, want %q", tt.in, err, tt.wantErr)
		}
	}
}

func TestParseJSONTo_Record(t *testing.T) {
	type record struct {
		Data    int    `json:"data"`
		Message string `json:"message"`
	}
	out, err := ParseJSONTo[record]()(context.Background(), `{"data":42,"message":"hi"}`)
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := out.(*record)
	if !ok {
		t.Fatalf("expected *record, got %T", out)
	}
	if rec.Data != 42 || rec.Message != "hi" {
		t.Errorf("decoded: %+v", rec)
	}
	_, err = ParseJSONTo[record]()(context.Background(), []byte(`{"data":"forty-two"}`))
	if err == nil || !strings.HasPrefix(err.Error(), "parsejsonto: ") {
		t.Errorf("type mismatch: err = %v", err)
	}
}
