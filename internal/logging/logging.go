// Package logging wires up the process-wide logrus logger, matching
// pkg/flags.ConfigureAndParse's log-level handling but selecting a
// TTY-aware formatter instead of always logging plain text.
package logging

import (
	"os"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
)

// Configure sets the process-wide log level and picks a formatter based
// on whether stderr is a terminal: a colored text formatter for
// interactive use, plain (uncolored, full-timestamp) text otherwise so
// log aggregators get stable, parseable lines.
func Configure(level string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(parsed)
	log.SetOutput(os.Stderr)

	isTerminal := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	log.SetFormatter(&log.TextFormatter{
		DisableColors: !isTerminal,
		FullTimestamp: true,
	})
	return nil
}
