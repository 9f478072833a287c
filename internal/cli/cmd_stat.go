package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/recstore/pkg/recstore"
)

func statCmd(a *app) *Command {
	return &Command{
		Flags:  flag.NewFlagSet("stat", flag.ContinueOnError),
		Usage:  "stat",
		Short:  "Show store sizing and usage",
		NoArgs: true,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return withStore(a, func(s *recstore.Store) error {
				snap, err := s.Stats()
				if err != nil {
					return err
				}

				f := printInfo(o, s.Info())
				f.Printf("used", "%d/%d (%d%%)", snap.Used, snap.Capacity, snap.UsedPercent())
				f.Printf("conflicts used", "%d/%d", snap.ConflictUsed, snap.ConflictCapacity)

				if snap.UsedPercent() > nearlyFullPercent {
					o.Warn("store is nearly full", "resize to a larger record count")
				}

				return nil
			})
		},
	}
}

// nearlyFullPercent is the usage above which stat warns.
const nearlyFullPercent = 90

// printInfo writes the sizing of a store and returns the field writer so
// callers can append usage lines in the same column.
func printInfo(o *IO, info recstore.Info) Fields {
	f := o.Fields(len("conflict capacity:"))
	f.Printf("path", "%s", info.Path)
	f.Printf("record count", "%d", info.RecordCount)
	f.Printf("record size", "%d (slot %d, max payload %d)", info.RecordSize, info.SlotSize, info.MaxPayload)
	f.Printf("hash slots", "%d", info.HashSlots)
	f.Printf("conflict capacity", "%d", info.ConflictCapacity)
	f.Printf("data files", "%d (%d records each)", info.DataFiles, info.RecordsPerFile)
	f.Printf("index bytes", "%d", info.IndexSize)
	f.Printf("data bytes", "%d", info.DataSize)

	return f
}

func verifyCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("verify", flag.ContinueOnError),
		Usage: "verify",
		Short: "Check the index and records for damage",
		Long: `Walk every hash chain and allocator list and cross-check them with the
stored records. Problems are listed and the command exits with code 1.`,
		NoArgs: true,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return withStore(a, func(s *recstore.Store) error {
				report, err := s.Verify()
				if err != nil {
					return err
				}

				o.Printf("indexed: %d, used: %d, conflicts used: %d\n", report.Indexed, report.Used, report.ConflictUsed)

				if report.OK() {
					o.Println("OK")

					return nil
				}

				for _, p := range report.Problems {
					o.Println(p)
				}

				o.Warn(fmt.Sprintf("%d problem(s) found", len(report.Problems)), `run "recstore rebuild --force" to rebuild the index from the data files`)

				return nil
			})
		},
	}
}
