package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/recstore/internal/config"
)

func initCmd(a *app) *Command {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite an existing config file")
	noConfig := fs.Bool("no-config", false, "create the store files without writing a config file")

	return &Command{
		Flags: fs,
		Usage: "init [--force] [--no-config]",
		Short: "Write a config file and create the store files",
		Long: `Write the resolved configuration to ` + config.FileName + ` (or the file
given with -c) and create the store files it describes.

The record count, record size and max data file size are fixed once the
store exists. Use "resize" to migrate to a different sizing.`,
		NoArgs: true,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			if !*noConfig {
				err := config.Write(a.configFile, a.cfg, *force)
				if err != nil {
					return err
				}

				o.Println("Wrote", a.configFile)
			}

			s, err := a.openStore()
			if err != nil {
				return err
			}

			info := s.Info()

			err = s.Close()
			if err != nil {
				return err
			}

			o.Printf("Store %s: %d records, max payload %d bytes, %d data file(s)\n",
				info.Path, info.RecordCount, info.MaxPayload, info.DataFiles)

			return nil
		},
	}
}
