package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dcshock/etlflow/etl"
)

// ConsoleWriter stands in for a database by printing each record.
type ConsoleWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleWriter writes to out, or to stdout when out is nil.
func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleWriter{out: out}
}

func (w *ConsoleWriter) Write(_ context.Context, rec etl.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "Wrote %s to database successfully!\n", rec)
	return err
}

// Tee returns a writer that writes to each writer in order and stops at the
// first error.
func Tee(writers ...etl.ResultWriter) etl.ResultWriter {
	return etl.ResultWriterFunc(func(ctx context.Context, rec etl.Record) error {
		for _, w := range writers {
			if err := w.Write(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ etl.ResultWriter = (*ConsoleWriter)(nil)
