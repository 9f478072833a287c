package cli

import "errors"

var (
	ErrNoCommand       = errors.New("no command provided")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrKeyRequired     = errors.New("key is required")
	ErrInvalidKey      = errors.New("invalid key")
	ErrValueRequired   = errors.New("value is required")
	ErrNotFound        = errors.New("key not found")
	ErrTooManyArgs     = errors.New("too many arguments")
	ErrTargetRequired  = errors.New("--to is required")
	ErrFlagRequiresArg = errors.New("flag requires an argument")
)
