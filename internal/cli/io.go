package cli

import (
	"fmt"
	"io"
	"slices"
)

// warning is a problem the user should act on, with the action to take.
type warning struct {
	issue  string
	action string
}

func (w warning) String() string {
	return w.issue + ": " + w.action
}

// IO is the output side of one command run.
//
// Warnings are written to stderr before the first line of stdout and again
// by Finish, so they stay visible when stdout is piped through head or tail.
type IO struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	warnings      []warning
	warningsShown bool
}

// NewIO returns an IO reading from in and writing to out and errOut.
func NewIO(in io.Reader, out, errOut io.Writer) *IO {
	return &IO{in: in, out: out, errOut: errOut}
}

// Warn records a warning. Repeated warnings are kept once. Any warning makes
// Finish return 1.
func (o *IO) Warn(issue string, action string) {
	w := warning{issue: issue, action: action}
	if slices.Contains(o.warnings, w) {
		return
	}

	o.warnings = append(o.warnings, w)
}

// Println writes a line to stdout.
func (o *IO) Println(a ...any) {
	o.showWarnings()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	o.showWarnings()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// Write writes p to stdout unchanged, for raw record values.
func (o *IO) Write(p []byte) (int, error) {
	o.showWarnings()

	return o.out.Write(p)
}

// ErrPrintln writes a line to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Fields returns a writer for "label: value" lines whose values start in
// the same column. width is the padded length of the label and its colon.
func (o *IO) Fields(width int) Fields {
	return Fields{o: o, width: width}
}

// Fields writes aligned "label: value" lines; see [IO.Fields].
type Fields struct {
	o     *IO
	width int
}

// Printf writes label and the formatted value as one line.
func (f Fields) Printf(label, format string, a ...any) {
	f.o.Printf("%-*s %s\n", f.width, label+":", fmt.Sprintf(format, a...))
}

// Finish writes the warnings to stderr once more and returns the exit code:
// 1 when anything was warned about, 0 otherwise.
func (o *IO) Finish() int {
	o.showWarnings()

	if len(o.warnings) == 0 {
		return 0
	}

	o.printWarnings()

	return 1
}

func (o *IO) showWarnings() {
	if o.warningsShown || len(o.warnings) == 0 {
		return
	}

	o.warningsShown = true
	o.printWarnings()
}

func (o *IO) printWarnings() {
	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}
}
