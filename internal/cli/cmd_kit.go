package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/recstore/pkg/recstore"
)

// withKit opens a maintenance kit over the data files for the duration of fn.
func withKit(a *app, fn func(k *recstore.Kit) error) (err error) {
	k, err := a.openKit()
	if err != nil {
		return err
	}

	defer func() {
		closeErr := k.Close()
		if err == nil {
			err = closeErr
		}
	}()

	return fn(k)
}

func scanCmd(a *app) *Command {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	since := fs.Int64("since", 0, "only records written at or after this unix `time`")
	limit := fs.Int("limit", 0, "stop after `n` records (0 = all)")
	asHex := fs.Bool("hex", false, "print values as hex")

	return &Command{
		Flags: fs,
		Usage: "scan [--since unix] [--limit n]",
		Short: "List stored records in position order",
		Long: `List stored records straight from the data files, one per line:

  <position> <key> <written at> <value>

Works without the index file.`,
		NoArgs: true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			if *since < 0 || *since > int64(^uint32(0)) {
				return fmt.Errorf("--since must be a unix time between 0 and %d", ^uint32(0))
			}

			var seen int

			err := withKit(a, func(k *recstore.Kit) error {
				return k.ScanSince(uint32(*since), func(e recstore.Entry) bool {
					if ctx.Err() != nil {
						return false
					}

					written := time.Unix(int64(e.Timestamp), 0).UTC().Format(time.RFC3339)
					o.Printf("%d\t%d\t%s\t%s\n", e.Pos, e.Key, written, formatValue(e.Value, *asHex))

					seen++

					return *limit <= 0 || seen < *limit
				})
			})
			if err != nil {
				return err
			}

			return ctx.Err()
		},
	}
}

func rebuildCmd(a *app) *Command {
	fs := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	force := fs.Bool("force", false, "remove an existing index file first")

	return &Command{
		Flags: fs,
		Usage: "rebuild [--force]",
		Short: "Rebuild the index file from the data files",
		Long: `Rebuild the index file by scanning every data file.

Records with a bad length or a non-positive key are cleared. When two
positions hold the same key the higher one is kept. Refuses to run while an
index file exists unless --force is given.`,
		NoArgs: true,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			if *force {
				err := os.Remove(recstore.IndexPath(a.cfg.PathAbs))
				if err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("removing index: %w", err)
				}
			}

			return withKit(a, func(k *recstore.Kit) error {
				report, err := k.RebuildIndex()
				if errors.Is(err, recstore.ErrExists) {
					return fmt.Errorf("%w (use --force to replace it)", err)
				}

				if err != nil {
					return err
				}

				printRebuild(o, report)

				return nil
			})
		},
	}
}

// reportWidth is the label column of the rebuild and resize reports.
const reportWidth = 11

func printRebuild(o *IO, r recstore.RebuildReport) {
	f := o.Fields(reportWidth)
	f.Printf("indexed", "%d", r.Indexed)
	f.Printf("free", "%d", r.Free)
	f.Printf("conflicts", "%d", r.ConflictUsed)

	if r.Duplicates > 0 {
		o.Warn(fmt.Sprintf("%d duplicate record(s) dropped", r.Duplicates), "the copy at the highest position was kept")
	}

	if r.Invalid > 0 {
		o.Warn(fmt.Sprintf("%d invalid record(s) cleared", r.Invalid), "their data was unreadable and is lost")
	}
}

func resizeCmd(a *app) *Command {
	fs := flag.NewFlagSet("resize", flag.ContinueOnError)
	to := fs.String("to", "", "path prefix of the new store")
	records := fs.Int("records", 0, "record count of the new store (default: current)")
	recordSize := fs.Int("record-size", 0, "record size of the new store (default: current)")

	return &Command{
		Flags: fs,
		Usage: "resize --to <path> [--records n] [--record-size s]",
		Short: "Copy all records into a new store with a different sizing",
		Long: `Copy every live record into a new store at --to and index it.

The source store is left untouched. Point the config at the new path
(and sizing) once the copy succeeded.`,
		NoArgs: true,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			if *to == "" {
				return ErrTargetRequired
			}

			count, size := *records, *recordSize
			if count == 0 {
				count = a.cfg.RecordCount
			}

			if size == 0 {
				size = a.cfg.RecordSize
			}

			dst := absolute(a.cfg.EffectiveCwd, *to)

			return withKit(a, func(k *recstore.Kit) error {
				report, err := k.Resize(dst, count, size)
				if err != nil {
					return err
				}

				o.Fields(reportWidth).Printf("copied", "%d", report.Copied)
				printRebuild(o, report.Rebuild)
				o.Fields(reportWidth).Printf("new store", "%s (records %d, record size %d)", dst, count, size)

				return nil
			})
		},
	}
}
