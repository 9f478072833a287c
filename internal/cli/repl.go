package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/recstore/pkg/recstore"
)

// prompter reads one command line at a time.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// scriptPrompter reads commands from a non-interactive input, one per line.
type scriptPrompter struct {
	scanner *bufio.Scanner
}

func (p *scriptPrompter) Prompt(string) (string, error) {
	if !p.scanner.Scan() {
		err := p.scanner.Err()
		if err == nil {
			err = io.EOF
		}

		return "", err
	}

	return p.scanner.Text(), nil
}

func (p *scriptPrompter) AppendHistory(string) {}

var replCommands = []string{
	"put", "get", "del", "has",
	"len", "info", "stats", "verify",
	"seq", "bench", "flush",
	"help", "exit", "quit",
}

// repl is the interactive command loop.
type repl struct {
	store *recstore.Store
	in    prompter
	o     *IO
}

func replCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("repl", flag.ContinueOnError),
		Usage: "repl",
		Short: "Open the store and run commands interactively",
		Long: `Open the store once and read commands from the terminal, with history and
tab completion. When stdin is not a terminal, commands are read one per line.

Type "help" inside the loop for the command list.`,
		NoArgs: true,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return withStore(a, func(s *recstore.Store) error {
				r := &repl{store: s, o: o}

				if f, ok := o.in.(*os.File); ok && f == os.Stdin {
					line := liner.NewLiner()
					defer line.Close()

					line.SetCtrlCAborts(true)
					line.SetCompleter(completeCommand)

					history := historyFile(a.env)
					if history != "" {
						if hf, err := os.Open(history); err == nil {
							_, _ = line.ReadHistory(hf)
							_ = hf.Close()
						}

						defer saveHistory(line, history)
					}

					r.in = line
				} else {
					r.in = &scriptPrompter{scanner: bufio.NewScanner(o.in)}
				}

				return r.run(ctx)
			})
		},
	}
}

// historyFile returns the path to the history file.
func historyFile(env map[string]string) string {
	home := env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".recstore_history")
}

// saveHistory persists command history to disk.
func saveHistory(line *liner.State, path string) {
	f, err := os.Create(path)
	if err != nil {
		return
	}

	_, _ = line.WriteHistory(f)
	_ = f.Close()
}

// completeCommand provides tab completion for commands.
func completeCommand(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *repl) run(ctx context.Context) error {
	info := r.store.Info()
	r.o.Printf("recstore %s (records=%d, max payload=%d)\n", info.Path, info.RecordCount, info.MaxPayload)
	r.o.Println("Type 'help' for available commands.")

	for ctx.Err() == nil {
		line, err := r.in.Prompt("recstore> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				r.o.Println("Bye!")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r.in.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		if cmd == "exit" || cmd == "quit" || cmd == "q" {
			r.o.Println("Bye!")

			return nil
		}

		err = r.exec(cmd, parts[1:])
		if err != nil {
			r.o.Println("error:", err)
		}
	}

	return ctx.Err()
}

func (r *repl) exec(cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		r.printHelp()

		return nil
	case "put":
		return r.cmdPut(args)
	case "get":
		return r.cmdGet(args)
	case "del", "delete":
		return r.cmdDelete(args)
	case "has":
		return r.cmdHas(args)
	case "len", "count":
		return r.cmdLen()
	case "info":
		printInfo(r.o, r.store.Info())

		return nil
	case "stats":
		return r.cmdStats()
	case "verify":
		return r.cmdVerify()
	case "seq":
		return r.cmdSeq(args)
	case "bench":
		return r.cmdBench(args)
	case "flush":
		err := r.store.Flush()
		if err == nil {
			r.o.Println("OK")
		}

		return err
	default:
		return fmt.Errorf("%w: %s (type 'help' for commands)", ErrUnknownCommand, cmd)
	}
}

func (r *repl) printHelp() {
	r.o.Println("Commands:")
	r.o.Println("  put <key> <value>       Insert or replace a record (0x... for hex)")
	r.o.Println("  get <key>               Print a record")
	r.o.Println("  del <key>               Delete a record")
	r.o.Println("  has <key>               Check whether a key is stored")
	r.o.Println("  len                     Count stored records")
	r.o.Println("  info                    Show store sizing")
	r.o.Println("  stats                   Show operation counters")
	r.o.Println("  verify                  Check the index for damage")
	r.o.Println("  seq <count> [start]     Insert count sequential keys")
	r.o.Println("  bench <count>           Time count put+get pairs on fresh keys")
	r.o.Println("  flush                   Write dirty pages to disk")
	r.o.Println("  help                    Show this help")
	r.o.Println("  exit / quit / q         Exit")
	r.o.Println()
	r.o.Println(`Keys: positive integers, or "s:<text>".`)
}

func (r *repl) cmdPut(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: put <key> <value>")
	}

	key, err := parseKey(args[0])
	if err != nil {
		return err
	}

	value, err := parseValue(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	err = r.store.Put(key, value)
	if err != nil {
		return err
	}

	r.o.Println("OK")

	return nil
}

func (r *repl) cmdGet(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <key>")
	}

	key, err := parseKey(args[0])
	if err != nil {
		return err
	}

	value, found, err := r.store.Get(key)
	if err != nil {
		return err
	}

	if !found {
		r.o.Println("(not found)")

		return nil
	}

	r.o.Println(formatValue(value, false))

	return nil
}

func (r *repl) cmdDelete(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: del <key>")
	}

	key, err := parseKey(args[0])
	if err != nil {
		return err
	}

	found, err := r.store.Delete(key)
	if err != nil {
		return err
	}

	if !found {
		r.o.Println("(not found)")

		return nil
	}

	r.o.Println("Deleted")

	return nil
}

func (r *repl) cmdHas(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: has <key>")
	}

	key, err := parseKey(args[0])
	if err != nil {
		return err
	}

	found, err := r.store.Contains(key)
	if err != nil {
		return err
	}

	r.o.Println(found)

	return nil
}

func (r *repl) cmdLen() error {
	n, err := r.store.Len()
	if err != nil {
		return err
	}

	r.o.Println(n)

	return nil
}

func (r *repl) cmdStats() error {
	snap, err := r.store.Stats()
	if err != nil {
		return err
	}

	r.o.Printf("get:    %d calls, %s\n", snap.Get.Calls, snap.Get.Elapsed)
	r.o.Printf("put:    %d calls, %s\n", snap.Put.Calls, snap.Put.Elapsed)
	r.o.Printf("delete: %d calls, %s\n", snap.Delete.Calls, snap.Delete.Elapsed)
	r.o.Printf("used:   %d/%d (%d%%)\n", snap.Used, snap.Capacity, snap.UsedPercent())
	r.o.Printf("max payload seen: %d of %d slot bytes (%d%%)\n", snap.MaxPayload, snap.SlotSize, snap.PayloadPercent())

	return nil
}

func (r *repl) cmdVerify() error {
	report, err := r.store.Verify()
	if err != nil {
		return err
	}

	for _, p := range report.Problems {
		r.o.Println(p)
	}

	r.o.Printf("indexed: %d, used: %d, problems: %d\n", report.Indexed, report.Used, len(report.Problems))

	return nil
}

func (r *repl) cmdSeq(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: seq <count> [start]")
	}

	count, err := strconv.Atoi(args[0])
	if err != nil || count <= 0 {
		return fmt.Errorf("invalid count: %s", args[0])
	}

	start := int64(1)

	if len(args) == 2 {
		start, err = parseKey(args[1])
		if err != nil {
			return err
		}
	}

	for i := range count {
		key := start + int64(i)

		err = r.store.Put(key, []byte("v"+strconv.FormatInt(key, 10)))
		if err != nil {
			return fmt.Errorf("after %d inserts: %w", i, err)
		}
	}

	r.o.Printf("Inserted %d records (%d..%d)\n", count, start, start+int64(count)-1)

	return nil
}

func (r *repl) cmdBench(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: bench <count>")
	}

	count, err := strconv.Atoi(args[0])
	if err != nil || count <= 0 {
		return fmt.Errorf("invalid count: %s", args[0])
	}

	idle, err := r.store.Idle()
	if err != nil {
		return err
	}

	if count > idle {
		return fmt.Errorf("only %d free slots", idle)
	}

	// Fresh text keys so the run never overwrites existing records.
	prefix := "bench-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "-"
	keys := make([]int64, count)

	for i := range keys {
		keys[i] = hashKey(prefix + strconv.Itoa(i))
	}

	value := []byte("bench")

	start := time.Now()

	for _, key := range keys {
		err = r.store.Put(key, value)
		if err != nil {
			return err
		}
	}

	putElapsed := time.Since(start)
	start = time.Now()

	for _, key := range keys {
		_, _, err = r.store.Get(key)
		if err != nil {
			return err
		}
	}

	getElapsed := time.Since(start)

	for _, key := range keys {
		_, err = r.store.Delete(key)
		if err != nil {
			return err
		}
	}

	r.o.Printf("put: %s (%s/op)\n", putElapsed, putElapsed/time.Duration(count))
	r.o.Printf("get: %s (%s/op)\n", getElapsed, getElapsed/time.Duration(count))

	return nil
}
