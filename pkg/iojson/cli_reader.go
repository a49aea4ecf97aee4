package iojson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// ErrNoInput is returned when no file is given and stdin is a terminal.
var ErrNoInput = errors.New("no input provided (stdin is a terminal); use -f or pipe JSON")

// FileReader decodes a T from the file named by its --file flag, or from
// stdin when the flag is unset.
type FileReader[T any] struct {
	path string

	// Stdin replaces os.Stdin when set.
	Stdin io.Reader
}

// Flag returns the --file flag bound to the reader.
func (fr *FileReader[T]) Flag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       "path to JSON file (reads from stdin if not provided)",
		Destination: &fr.path,
	}
}

// Provided reports whether a file was named on the command line.
func (fr *FileReader[T]) Provided() bool {
	return fr.path != ""
}

// Read decodes the input. Unknown fields are rejected.
func (fr *FileReader[T]) Read() (T, error) {
	var input T

	r, closeFn, err := fr.open()
	if err != nil {
		return input, err
	}
	defer closeFn()

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		return input, fmt.Errorf("decode JSON: %w", err)
	}
	return input, nil
}

func (fr *FileReader[T]) open() (io.Reader, func(), error) {
	switch {
	case fr.path != "":
		f, err := os.Open(fr.path)
		if err != nil {
			return nil, nil, fmt.Errorf("open file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	case fr.Stdin != nil:
		return fr.Stdin, func() {}, nil
	case term.IsTerminal(int(os.Stdin.Fd())):
		return nil, nil, ErrNoInput
	default:
		return os.Stdin, func() {}, nil
	}
}
