package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// progressWriter prints running counters to out. When out is an
// interactive terminal it overwrites the previous line with \r instead of
// scrolling; piped output gets one full line per update.
type progressWriter struct {
	out        io.Writer
	isTerminal bool
	lastLen    int
}

func newProgressWriter(out io.Writer) *progressWriter {
	isTerminal := false
	if f, ok := out.(*os.File); ok {
		isTerminal = term.IsTerminal(int(f.Fd()))
	}
	return &progressWriter{out: out, isTerminal: isTerminal}
}

func (p *progressWriter) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if !p.isTerminal {
		fmt.Fprintln(p.out, line)
		return
	}
	pad := p.lastLen - len(line)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(p.out, "\r%s%*s", line, pad, "")
	p.lastLen = len(line)
}

// Done finishes a terminal progress line with a trailing newline so
// subsequent output starts on its own line. A no-op for non-terminal output,
// which already ended each update with its own newline.
func (p *progressWriter) Done() {
	if p.isTerminal {
		fmt.Fprintln(p.out)
	}
}
