// Package fake provides fake implementations for interfaces commonly used in
// the repository.
//
// The implementations offer configuration to return errors when it is needed by
// the unit test and it is also possible to record the call of functions of an
// object in some cases.
package fake

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

var fakeErr = xerrors.New("fake error")

// GetError returns the fake error.
func GetError() error {
	return fakeErr
}

// Err returns the expected message of an error that wraps the fake error with
// the given prefix.
func Err(msg string) string {
	return msg + ": " + fakeErr.Error()
}

// Call is a tool to keep track of a function calls.
type Call struct {
	sync.Mutex
	calls [][]interface{}
}

// Get returns the nth call ith parameter.
func (c *Call) Get(n, i int) interface{} {
	c.Lock()
	defer c.Unlock()

	return c.calls[n][i]
}

// Len returns the number of calls.
func (c *Call) Len() int {
	c.Lock()
	defer c.Unlock()

	return len(c.calls)
}

// Add adds a call to the list.
func (c *Call) Add(args ...interface{}) {
	c.Lock()
	c.calls = append(c.calls, args)
	c.Unlock()
}

// Counter is a helper to delay errors or actions. It can be nil without
// panics.
type Counter struct {
	Value int
}

// NewCounter returns a new counter set to the given value.
func NewCounter(value int) *Counter {
	return &Counter{
		Value: value,
	}
}

// Done returns true when the counter reached zero.
func (c *Counter) Done() bool {
	return c == nil || c.Value <= 0
}

// Decrease decrements the counter.
func (c *Counter) Decrease() {
	if c == nil {
		return
	}

	c.Value--
}

// BadWriter is a writer that always returns the fake error.
//
// - implements io.Writer
type BadWriter struct{}

// NewBadWriter returns a writer that fails.
func NewBadWriter() BadWriter {
	return BadWriter{}
}

// Write implements io.Writer. It returns the fake error.
func (BadWriter) Write([]byte) (int, error) {
	return 0, fakeErr
}

// CheckLog returns a logger and a check function. When called, the function
// verifies that the logger has printed a message containing the one provided.
func CheckLog(msg string) (zerolog.Logger, func(t *testing.T)) {
	out := new(safeBuffer)

	check := func(t *testing.T) {
		require.Contains(t, out.String(), msg)
	}

	return zerolog.New(out), check
}

// NewBufferLogger returns a logger writing in the returned buffer.
func NewBufferLogger() (zerolog.Logger, interface{ String() string }) {
	out := new(safeBuffer)

	return zerolog.New(out), out
}

type safeBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()

	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.Lock()
	defer b.Unlock()

	return strings.TrimSpace(b.buf.String())
}
