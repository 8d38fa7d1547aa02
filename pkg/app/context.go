// Package app carries the cross-command state a backup or restore run
// needs beyond its own arguments: a cancellable context, verbosity and
// output-format preferences, and a progress callback the CLI layer
// uses to render a progress bar while internal/backup.Producer or
// internal/restore.Consumer streams sectors.
//
// Grounded on the teacher's pkg/app/context.go, adapted from a
// general-purpose APFS CLI context into the thing SPEC_FULL §6 makes
// the first parameter of backup.NewProducer/restore.NewConsumer: each
// run gets one Context, carried through the whole producer/consumer
// lifetime rather than only used at the cmd/ layer.
package app

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context holds per-run state threaded through a backup or restore.
type Context struct {
	context.Context

	// RunID identifies one backup/restore invocation in logs.
	RunID string

	// Output preferences
	OutputFormat string
	Verbose      bool
	Quiet        bool
	NoColor      bool

	// Common timeouts
	DefaultTimeout time.Duration

	// Progress reporting
	ProgressCallback func(message string, percent int)
}

// NewContext creates a new run context with a fresh RunID.
func NewContext() *Context {
	return &Context{
		Context:        context.Background(),
		RunID:          uuid.NewString(),
		DefaultTimeout: 30 * time.Second,
	}
}

// WithTimeout creates a context with timeout
func (c *Context) WithTimeout(timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// WithCancel creates a cancellable context
func (c *Context) WithCancel() (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Context)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// SetProgress sets the progress callback function
func (c *Context) SetProgress(callback func(string, int)) {
	c.ProgressCallback = callback
}

// Progress reports progress if callback is set
func (c *Context) Progress(message string, percent int) {
	if c.ProgressCallback != nil {
		c.ProgressCallback(message, percent)
	}
}

// Log outputs a message based on verbosity settings
func (c *Context) Log(message string) {
	if !c.Quiet && c.Verbose {
		println(message)
	}
}

// Error outputs an error message unless quiet
func (c *Context) Error(message string) {
	if !c.Quiet {
		println("Error:", message)
	}
}
