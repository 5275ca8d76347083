// Package iostreams provides testable access to standard input/output
// streams, following the GitHub CLI pattern.
package iostreams

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/term"
)

// IOStreams provides access to standard input/output/error streams.
type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer

	// isInputTTY caches whether stdin is a terminal.
	// -1 = unchecked, 0 = false, 1 = true
	isInputTTY  int
	isOutputTTY int

	// neverPrompt disables all interactive prompts (e.g., for CI).
	neverPrompt bool
}

// System returns IOStreams bound to the process standard streams.
func System() *IOStreams {
	return &IOStreams{
		In:          os.Stdin,
		Out:         os.Stdout,
		ErrOut:      os.Stderr,
		isInputTTY:  -1,
		isOutputTTY: -1,
	}
}

// Test returns IOStreams backed by buffers for tests, along with the
// stdin, stdout, and stderr buffers.
func Test() (*IOStreams, *bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	in := &bytes.Buffer{}
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &IOStreams{In: in, Out: out, ErrOut: errOut}, in, out, errOut
}

// IsInputTTY reports whether stdin is a terminal.
func (s *IOStreams) IsInputTTY() bool {
	if s.isInputTTY == -1 {
		s.isInputTTY = 0
		if f, ok := s.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			s.isInputTTY = 1
		}
	}
	return s.isInputTTY == 1
}

// IsOutputTTY reports whether stdout is a terminal.
func (s *IOStreams) IsOutputTTY() bool {
	if s.isOutputTTY == -1 {
		s.isOutputTTY = 0
		if f, ok := s.Out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			s.isOutputTTY = 1
		}
	}
	return s.isOutputTTY == 1
}

// SetStdinTTY overrides TTY detection for stdin, for tests and callers
// that know better.
func (s *IOStreams) SetStdinTTY(v bool) {
	if v {
		s.isInputTTY = 1
	} else {
		s.isInputTTY = 0
	}
}

// SetStdoutTTY overrides TTY detection for stdout.
func (s *IOStreams) SetStdoutTTY(v bool) {
	if v {
		s.isOutputTTY = 1
	} else {
		s.isOutputTTY = 0
	}
}

// SetNeverPrompt disables interactive prompting regardless of TTY state.
func (s *IOStreams) SetNeverPrompt(v bool) { s.neverPrompt = v }

// CanPrompt reports whether interactive prompting is allowed.
func (s *IOStreams) CanPrompt() bool {
	return !s.neverPrompt && s.IsInputTTY()
}

// ReadSecret reads a line from stdin without echoing when stdin is a
// terminal. Used for password-style challenge input.
func (s *IOStreams) ReadSecret() (string, error) {
	if f, ok := s.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		io.WriteString(s.ErrOut, "\n")
		return string(b), nil
	}
	return readLine(s.In)
}

func readLine(r io.Reader) (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			if buf[0] != '\r' {
				line = append(line, buf[0])
			}
		}
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				break
			}
			if err == io.EOF {
				break
			}
			return "", err
		}
	}
	return string(line), nil
}
