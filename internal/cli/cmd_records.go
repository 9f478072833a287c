package cli

import (
	"context"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/recstore/pkg/recstore"
)

// withStore opens the store for the duration of fn.
func withStore(a *app, fn func(s *recstore.Store) error) (err error) {
	s, err := a.openStore()
	if err != nil {
		return err
	}

	defer func() {
		closeErr := s.Close()
		if err == nil {
			err = closeErr
		}
	}()

	return fn(s)
}

func putCmd(a *app) *Command {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fromStdin := fs.Bool("stdin", false, "read the value from stdin")

	return &Command{
		Flags: fs,
		Usage: "put <key> <value>",
		Short: "Insert or replace a record",
		Long: `Insert or replace the record stored under key.

A value starting with 0x is decoded as hex. With --stdin the value is read
from standard input instead of the command line.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			var (
				value []byte
				err   error
			)

			if *fromStdin {
				err = exactArgs(args, 1, ErrKeyRequired)
				if err != nil {
					return err
				}

				value, err = io.ReadAll(o.in)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			} else {
				if len(args) == 1 {
					return ErrValueRequired
				}

				err = exactArgs(args, 2, ErrKeyRequired)
				if err != nil {
					return err
				}

				value, err = parseValue(args[1])
				if err != nil {
					return err
				}
			}

			key, err := parseKey(args[0])
			if err != nil {
				return err
			}

			err = withStore(a, func(s *recstore.Store) error {
				return s.Put(key, value)
			})
			if err != nil {
				return err
			}

			o.Printf("Stored %d (%d bytes)\n", key, len(value))

			return nil
		},
	}
}

func getCmd(a *app) *Command {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	asHex := fs.Bool("hex", false, "print the value as hex")
	raw := fs.Bool("raw", false, "write the value bytes unchanged, without a newline")

	return &Command{
		Flags: fs,
		Usage: "get <key>",
		Short: "Print the value stored under a key",
		Exec: func(_ context.Context, o *IO, args []string) error {
			err := exactArgs(args, 1, ErrKeyRequired)
			if err != nil {
				return err
			}

			key, err := parseKey(args[0])
			if err != nil {
				return err
			}

			var (
				value []byte
				found bool
			)

			err = withStore(a, func(s *recstore.Store) error {
				var getErr error

				value, found, getErr = s.Get(key)

				return getErr
			})
			if err != nil {
				return err
			}

			if !found {
				return fmt.Errorf("%w: %s", ErrNotFound, args[0])
			}

			if *raw {
				_, err = o.Write(value)

				return err
			}

			o.Println(formatValue(value, *asHex))

			return nil
		},
	}
}

func delCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("del", flag.ContinueOnError),
		Usage: "del <key>",
		Short: "Delete the record stored under a key",
		Exec: func(_ context.Context, o *IO, args []string) error {
			err := exactArgs(args, 1, ErrKeyRequired)
			if err != nil {
				return err
			}

			key, err := parseKey(args[0])
			if err != nil {
				return err
			}

			var found bool

			err = withStore(a, func(s *recstore.Store) error {
				var delErr error

				found, delErr = s.Delete(key)

				return delErr
			})
			if err != nil {
				return err
			}

			if !found {
				return fmt.Errorf("%w: %s", ErrNotFound, args[0])
			}

			o.Println("Deleted", key)

			return nil
		},
	}
}

func hasCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("has", flag.ContinueOnError),
		Usage: "has <key>",
		Short: "Print whether a key is stored",
		Exec: func(_ context.Context, o *IO, args []string) error {
			err := exactArgs(args, 1, ErrKeyRequired)
			if err != nil {
				return err
			}

			key, err := parseKey(args[0])
			if err != nil {
				return err
			}

			var found bool

			err = withStore(a, func(s *recstore.Store) error {
				var hasErr error

				found, hasErr = s.Contains(key)

				return hasErr
			})
			if err != nil {
				return err
			}

			o.Println(found)

			return nil
		},
	}
}
