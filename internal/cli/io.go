package cli

import (
	"fmt"
	"io"
)

// warning is a problem that did not stop the command, such as one class in
// an archive that failed to parse.
type warning struct {
	issue  string
	detail string
}

func (w warning) String() string {
	return "warning: " + w.issue + ": " + w.detail
}

// IO is the output side of one command run.
//
// Warnings go to stderr before the first stdout write, so they are seen even
// when stdout is piped through head. When stdout was written they are
// repeated at the end for tail. Any warning turns the exit code into 1.
type IO struct {
	out    io.Writer
	errOut io.Writer

	warnings []warning
	printed  int // warnings already written to errOut
	wrote    bool
}

// NewIO returns an IO writing to out and errOut.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Warn records a non-fatal problem with the thing named by issue.
func (o *IO) Warn(issue string, detail string) {
	o.warnings = append(o.warnings, warning{issue: issue, detail: detail})
}

// Println writes a line to stdout.
func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.Writer(), a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.Writer(), format, a...)
}

// Writer returns stdout for encoders, printing pending warnings first.
func (o *IO) Writer() io.Writer {
	o.printPending()
	o.wrote = true

	return o.out
}

// ErrPrintln writes a line to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish prints the remaining warnings and returns the exit code.
func (o *IO) Finish() int {
	if len(o.warnings) == 0 {
		return 0
	}

	if o.wrote {
		o.printed = 0
	}

	o.printPending()

	if len(o.warnings) > 1 {
		_, _ = fmt.Fprintf(o.errOut, "%d warnings\n", len(o.warnings))
	}

	return 1
}

func (o *IO) printPending() {
	for _, w := range o.warnings[o.printed:] {
		_, _ = fmt.Fprintln(o.errOut, w)
	}

	o.printed = len(o.warnings)
}
