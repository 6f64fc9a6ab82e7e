// Package logging builds the logrus logger shared by the etlflow commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

type Options struct {
	Level  string // logrus level name; empty means info
	Format string // FormatText (default) or FormatJSON
	Out    io.Writer
}

// New returns a logger configured from opts. Logs go to stderr unless
// opts.Out is set.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if opts.Out != nil {
		log.SetOutput(opts.Out)
	}

	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(opts.Level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	log.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log format %q not supported (use %q or %q)", opts.Format, FormatText, FormatJSON)
	}
	return log, nil
}
