package terminal

import (
	"errors"
	"os"

	"github.com/muesli/cancelreader"
	"golang.org/x/term"
)

// ErrNotTerminal is returned when raw mode is requested on a non-terminal.
var ErrNotTerminal = errors.New("raw mode requires an interactive terminal")

// RawStdin puts the given file descriptor into raw mode.
func RawStdin(fd int) RawModeFunc {
	return func() (func() error, error) {
		if !term.IsTerminal(fd) {
			return nil, ErrNotTerminal
		}
		prev, err := term.MakeRaw(fd)
		if err != nil {
			return nil, err
		}
		return func() error {
			return term.Restore(fd, prev)
		}, nil
	}
}

// StdinInput wraps f so a blocked read can be cancelled when the session ends.
func StdinInput(f *os.File) (cancelreader.CancelReader, error) {
	return cancelreader.NewReader(f)
}
