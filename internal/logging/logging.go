// Package logging provides the module-scoped leveled loggers used across
// vaultline, built on go-logging.
//
// A single Backend is created at startup from the [Logging] config section.
// Each package asks it for a named logger ("shiv", "gateway", "relay", ...)
// so log lines carry their origin and levels can be tuned per module.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:2006-01-02 15:04:05.000} %{level:.4s} %{module}: %{message}"

// Backend is a leveled log backend writing to stdout, a file, or nowhere.
type Backend struct {
	logging.LeveledBackend

	mu sync.Mutex
	w  io.WriteCloser
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// New initializes a backend. An empty file logs to stdout; disable discards
// everything.
func New(file, level string, disable bool) (*Backend, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var w io.WriteCloser
	switch {
	case disable:
		w = nopCloser{io.Discard}
	case file == "":
		w = nopCloser{os.Stdout}
	default:
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", file, err)
		}
		w = f
	}

	return NewWithWriter(w, lvl), nil
}

// NewWithWriter builds a backend over w at level lvl.
func NewWithWriter(w io.WriteCloser, lvl logging.Level) *Backend {
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")
	return &Backend{LeveledBackend: leveled, w: w}
}

// Discard returns a backend that drops every record. Tests use it.
func Discard() *Backend {
	return NewWithWriter(nopCloser{io.Discard}, logging.CRITICAL)
}

// GetLogger returns a logger for module that writes to b.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// Close releases the underlying writer.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w.Close()
}

// ParseLevel maps a config string to a go-logging level.
func ParseLevel(l string) (logging.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(l)) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING", "WARN":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "", "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("logging: invalid level %q", l)
	}
}
