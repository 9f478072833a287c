package cli

import (
	"context"
	"encoding/json"
	"fmt"

	flag "github.com/spf13/pflag"
)

func printConfigCmd(a *app) *Command {
	return &Command{
		Flags:  flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage:  "print-config",
		Short:  "Show resolved configuration",
		NoArgs: true,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			data, err := json.MarshalIndent(a.cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}

			o.Println(string(data))

			// Print sources
			o.Println("")
			o.Println("# Sources:")

			if a.cfg.Sources.Global != "" {
				o.Println("#   global:", a.cfg.Sources.Global)
			}

			if a.cfg.Sources.Project != "" {
				o.Println("#   project:", a.cfg.Sources.Project)
			}

			if a.cfg.Sources.Global == "" && a.cfg.Sources.Project == "" {
				o.Println("#   (using defaults only)")
			}

			return nil
		},
	}
}
