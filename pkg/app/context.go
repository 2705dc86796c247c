package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/sirupsen/logrus"
)

// Context holds application-wide configuration and state
type Context struct {
	context.Context

	// Output preferences
	OutputFormat string
	Verbose      bool
	Quiet        bool
	Output       io.Writer

	Logger *logrus.Logger

	// Progress reporting
	ProgressCallback func(update ProgressUpdate)
}

// NewContext creates a new application context logging to stderr
func NewContext() *Context {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	return &Context{
		Context: context.Background(),
		Output:  os.Stdout,
		Logger:  logger,
	}
}

// ConfigureLogger applies level and formatter names; Verbose and Quiet win
// over level.
func (c *Context) ConfigureLogger(level, format string) error {
	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return NewError(ErrCodeInvalidInput, "invalid log level", err)
		}
		lvl = parsed
	}
	if c.Verbose {
		lvl = logrus.DebugLevel
	}
	if c.Quiet {
		lvl = logrus.ErrorLevel
	}
	c.Logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		c.Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		c.Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return NewError(ErrCodeInvalidInput, "invalid log format: "+format, nil)
	}
	return nil
}

// WithSignals returns a copy cancelled when one of signals arrives or stop
// is called. Stop also restores default signal handling.
func (c *Context) WithSignals(signals ...os.Signal) (*Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(c.Context, signals...)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, stop
}

// WithCancel creates a cancellable context
func (c *Context) WithCancel() (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Context)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// SetProgress sets the progress callback function
func (c *Context) SetProgress(callback func(ProgressUpdate)) {
	c.ProgressCallback = callback
}

// Progress reports progress if callback is set
func (c *Context) Progress(update ProgressUpdate) {
	if c.ProgressCallback != nil {
		c.ProgressCallback(update)
	}
}

// Log returns the logger scoped to fields
func (c *Context) Log(fields logrus.Fields) *logrus.Entry {
	return c.Logger.WithFields(fields)
}
