// Package ffmpegtest provides a scriptable CommandRunner for tests that
// exercise code shelling out to ffmpeg and ffprobe.
package ffmpegtest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Call records a single command invocation.
type Call struct {
	Cmd  string
	Args []string
}

// Tool returns the executable's base name.
func (c Call) Tool() string {
	return filepath.Base(c.Cmd)
}

// Line renders the call as a shell-like string.
func (c Call) Line() string {
	return fmt.Sprintf("%s %s", c.Tool(), strings.Join(c.Args, " "))
}

// LastArg returns the final argument, which is the output path for ffmpeg.
func (c Call) LastArg() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[len(c.Args)-1]
}

// ArgAfter returns the value following flag, or "".
func (c Call) ArgAfter(flag string) string {
	for i := 0; i < len(c.Args)-1; i++ {
		if c.Args[i] == flag {
			return c.Args[i+1]
		}
	}
	return ""
}

// Has reports whether arg appears in the call.
func (c Call) Has(arg string) bool {
	for _, a := range c.Args {
		if a == arg {
			return true
		}
	}
	return false
}

// Handler produces the result for a call.
type Handler func(call Call) (stdout, stderr []byte, err error)

// MockCommandRunner implements the ffmpeg CommandRunner interface for testing.
type MockCommandRunner struct {
	Handler Handler

	mu    sync.Mutex
	calls []Call
}

// NewMockCommandRunner creates a runner that answers every call with handler.
func NewMockCommandRunner(handler Handler) *MockCommandRunner {
	return &MockCommandRunner{Handler: handler}
}

// Run records the call and delegates to the handler.
func (m *MockCommandRunner) Run(ctx context.Context, cmd string, args ...string) ([]byte, []byte, error) {
	call := Call{Cmd: cmd, Args: append([]string(nil), args...)}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if m.Handler == nil {
		return nil, nil, nil
	}
	return m.Handler(call)
}

// Calls returns a copy of the recorded calls.
func (m *MockCommandRunner) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsTo returns recorded calls for one tool ("ffmpeg" or "ffprobe").
func (m *MockCommandRunner) CallsTo(tool string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Tool() == tool {
			out = append(out, c)
		}
	}
	return out
}
