package cli_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/calvinalkan/recstore/internal/cli"
)

func Test_IO_Shows_Warnings_Before_Output_And_At_Finish(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	o := cli.NewIO(nil, &stdout, &stderr)
	o.Warn("store is nearly full", "resize")
	o.Warn("store is nearly full", "resize")
	o.Println("line")

	if got, want := stderr.String(), "warning: store is nearly full: resize\n"; got != want {
		t.Errorf("stderr before finish=%q, want=%q", got, want)
	}

	if got, want := o.Finish(), 1; got != want {
		t.Errorf("Finish()=%d, want=%d", got, want)
	}

	if got, want := strings.Count(stderr.String(), "warning:"), 2; got != want {
		t.Errorf("warning printed %d times, want %d\nstderr: %s", got, want, stderr.String())
	}
}

func Test_IO_Finish_Returns_Zero_When_No_Warnings(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	o := cli.NewIO(nil, &stdout, &stderr)
	o.Println("ok")

	if got, want := o.Finish(), 0; got != want {
		t.Errorf("Finish()=%d, want=%d", got, want)
	}

	if got := stderr.String(); got != "" {
		t.Errorf("stderr=%q, want empty", got)
	}
}

func Test_IO_Fields_Aligns_Values(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer

	f := cli.NewIO(nil, &stdout, &bytes.Buffer{}).Fields(len("conflicts:"))
	f.Printf("free", "%d", 8)
	f.Printf("conflicts", "%d/%d", 1, 5)

	if got, want := stdout.String(), "free:      8\nconflicts: 1/5\n"; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}
}
