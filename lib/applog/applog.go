// Package applog is the thin logging and progress-reporting surface that
// the rest of frz's packages depend on. It deliberately does not render
// a terminal UI: the default implementation writes structured log/slog
// records, and counting progress through AddCounter is cheap bookkeeping
// that callers can query or ignore.
package applog

import (
	"fmt"
	"log/slog"
)

// Log receives status messages and hosts ongoing progress counters.
type Log interface {
	Info(format string, args ...any)
	Important(format string, args ...any)
	Error(format string, args ...any)

	// Progress starts an operation described by desc. The returned
	// ProgressLog should be closed (via its Done method) once the
	// operation finishes.
	Progress(desc string) ProgressLog
}

// ProgressLog tracks one ongoing operation's counters.
type ProgressLog interface {
	// AddCounter registers a named counter for this operation. totalCount,
	// if non-negative, lets implementations report a completion
	// percentage; pass -1 when the total is unknown.
	AddCounter(unit string, totalCount int64) *ProgressCounter
	// Done reports that the operation has finished.
	Done()
}

// ProgressCounter is incremented as work for its unit completes.
type ProgressCounter struct {
	Unit       string
	TotalCount int64 // -1 if unknown
	value      int64
}

// Increment adds diff to the counter.
func (c *ProgressCounter) Increment(diff int64) {
	c.value += diff
}

// Value returns the counter's current total.
func (c *ProgressCounter) Value() int64 {
	return c.value
}

// slogLog is the default Log, backed by log/slog and doing no terminal
// rendering: Progress/AddCounter just track numbers for callers that
// want to inspect them (e.g. in tests), with no periodic redraw.
type slogLog struct {
	logger *slog.Logger
}

// New returns a Log that writes through logger. If logger is nil, log
// records are discarded.
func New(logger *slog.Logger) Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &slogLog{logger: logger}
}

func (l *slogLog) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *slogLog) Important(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogLog) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *slogLog) Progress(desc string) ProgressLog {
	l.logger.Info(desc + "...")
	return &slogProgress{logger: l.logger, desc: desc}
}

type slogProgress struct {
	logger   *slog.Logger
	desc     string
	counters []*ProgressCounter
}

func (p *slogProgress) AddCounter(unit string, totalCount int64) *ProgressCounter {
	c := &ProgressCounter{Unit: unit, TotalCount: totalCount}
	p.counters = append(p.counters, c)
	return c
}

func (p *slogProgress) Done() {
	p.logger.Info(p.desc + "... done")
}
