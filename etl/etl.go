package etl

import (
	"context"
	"errors"
	"fmt"
)

// SuccessMessage is what WriteResultsToDatabase returns after a write.
const SuccessMessage = "Success!"

// ErrMissingMessage is returned by the augment task when the flow runs
// without a "msg" parameter.
var ErrMissingMessage = errors.New(`flow parameter "msg" is required`)

// ResultWriter stores a finished record.
type ResultWriter interface {
	Write(ctx context.Context, rec Record) error
}

// ResultWriterFunc adapts a function to ResultWriter.
type ResultWriterFunc func(ctx context.Context, rec Record) error

func (f ResultWriterFunc) Write(ctx context.Context, rec Record) error { return f(ctx, rec) }

// AugmentData returns a copy of data with the message field set to msg.
func AugmentData(data Record, msg string) Record {
	out := data.Clone()
	out[KeyMessage] = msg
	return out
}

// WriteResultsToDatabase hands rec to w and returns SuccessMessage.
func WriteResultsToDatabase(ctx context.Context, w ResultWriter, rec Record) (string, error) {
	if err := w.Write(ctx, rec); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return SuccessMessage, nil
}
