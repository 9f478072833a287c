// Package cli implements the recstore command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/calvinalkan/recstore/internal/config"
	"github.com/calvinalkan/recstore/pkg/recstore"
)

// app carries the resolved configuration into every command.
type app struct {
	cfg        config.Config
	configFile string // where init writes the config
	env        map[string]string
	logger     *zap.Logger
}

func (a *app) storeOptions() recstore.Options {
	return recstore.Options{
		Path:            a.cfg.PathAbs,
		RecordCount:     a.cfg.RecordCount,
		RecordSize:      a.cfg.RecordSize,
		MaxDataFileSize: a.cfg.MaxDataFileSize,
		StatsInterval:   time.Duration(a.cfg.StatsInterval),
		Logger:          a.logger,
	}
}

func (a *app) openStore() (*recstore.Store, error) {
	return recstore.Open(a.storeOptions())
}

func (a *app) openKit() (*recstore.Kit, error) {
	return recstore.OpenKit(recstore.KitOptions{
		Path:            a.cfg.PathAbs,
		RecordCount:     a.cfg.RecordCount,
		RecordSize:      a.cfg.RecordSize,
		MaxDataFileSize: a.cfg.MaxDataFileSize,
		Logger:          a.logger,
	})
}

func allCommands(a *app) []*Command {
	return []*Command{
		initCmd(a),
		putCmd(a),
		getCmd(a),
		delCmd(a),
		hasCmd(a),
		statCmd(a),
		verifyCmd(a),
		scanCmd(a),
		rebuildCmd(a),
		resizeCmd(a),
		replCmd(a),
		printConfigCmd(a),
	}
}

type globalOptions struct {
	workDir     string
	configPath  string
	path        string
	records     int
	recordSize  int
	logLevel    string
	help        bool
	flags       *flag.FlagSet
	commandArgs []string
}

func parseGlobalFlags(args []string) (globalOptions, error) {
	var g globalOptions

	fs := flag.NewFlagSet("recstore", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(&strings.Builder{})

	fs.StringVarP(&g.workDir, "cwd", "C", "", "run as if started in `dir`")
	fs.StringVarP(&g.configPath, "config", "c", "", "use the config `file` instead of "+config.FileName)
	fs.StringVar(&g.path, "path", "", "store path prefix (files are <path>.idx, <path>.dat0, ...)")
	fs.IntVar(&g.records, "records", 0, "record count of the store")
	fs.IntVar(&g.recordSize, "record-size", 0, "declared record size in bytes")
	fs.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVarP(&g.help, "help", "h", false, "show help")

	g.flags = fs

	err := fs.Parse(args)
	if err != nil {
		return g, err
	}

	if fs.Changed("path") && g.path == "" {
		return g, fmt.Errorf("%w: --path", ErrFlagRequiresArg)
	}

	g.commandArgs = fs.Args()

	return g, nil
}

// Run is the main entry point. Returns exit code.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < 2 {
		printUsage(out, nil)

		return 0
	}

	g, err := parseGlobalFlags(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, g.flags)

		return 1
	}

	if g.help {
		printUsage(out, g.flags)

		return 0
	}

	if len(g.commandArgs) == 0 {
		fprintln(errOut, "error:", ErrNoCommand)
		printUsage(errOut, g.flags)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: g.workDir,
		ConfigPath:      g.configPath,
		Env:             env,
		Overrides: config.Overrides{
			Path:        g.path,
			RecordCount: g.records,
			RecordSize:  g.recordSize,
			LogLevel:    g.logLevel,
		},
	})

	// init is allowed to create the explicit config file it was pointed at.
	if errors.Is(err, config.ErrFileNotFound) && g.commandArgs[0] == "init" {
		cfg, err = config.Load(config.LoadInput{
			WorkDirOverride: g.workDir,
			Env:             env,
			Overrides: config.Overrides{
				Path:        g.path,
				RecordCount: g.records,
				RecordSize:  g.recordSize,
				LogLevel:    g.logLevel,
			},
		})
	}

	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger, closeLogger, err := newLogger(cfg, errOut)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}
	defer closeLogger()

	configFile := filepath.Join(cfg.EffectiveCwd, config.FileName)
	if g.configPath != "" {
		configFile = absolute(cfg.EffectiveCwd, g.configPath)
	}

	a := &app{cfg: cfg, configFile: configFile, env: env, logger: logger}
	commands := allCommands(a)

	name := g.commandArgs[0]

	var cmd *Command

	for _, c := range commands {
		if c.Name() == name {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", ErrUnknownCommand, name))
		printUsage(errOut, g.flags)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(in, out, errOut), g.commandArgs[1:])
}

func absolute(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet) {
	fprintln(w, `recstore - embedded fixed-size record store

Usage: recstore [flags] <command> [args]

Global flags:`)

	if globals == nil {
		g, _ := parseGlobalFlags(nil)
		globals = g.flags
	}

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	_, _ = io.WriteString(w, buf.String())

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range allCommands(&app{}) {
		fprintln(w, c.HelpLine())
	}

	fprintln(w)
	fprintln(w, `Keys are positive integers, or "s:<text>" to hash text to a key.`)
}

// exactArgs checks the positional argument count of a command.
func exactArgs(args []string, want int, missing error) error {
	if len(args) < want {
		return missing
	}

	if len(args) > want {
		return fmt.Errorf("%w: %s", ErrTooManyArgs, strings.Join(args[want:], " "))
	}

	return nil
}
