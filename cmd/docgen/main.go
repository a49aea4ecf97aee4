// Command docgen writes the CLI reference in Markdown from the taskwatch
// command tree. With -check it fails instead when the file is out of date.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/colonyops/taskwatch/internal/commands"
	"github.com/colonyops/taskwatch/internal/taskwatch"
	docs "github.com/urfave/cli-docs/v3"
	"github.com/urfave/cli/v3"
)

// pinned replaces defaults that depend on the user's environment so the
// generated file is the same on every machine.
var pinned = map[string]string{
	"config":   "$XDG_CONFIG_HOME/taskwatch/config.yaml",
	"data-dir": "$XDG_DATA_HOME/taskwatch",
}

func main() {
	check := flag.Bool("check", false, "exit non-zero if the output file is stale")
	flag.Parse()

	out := "docs/cli-reference.md"
	if flag.NArg() > 0 {
		out = flag.Arg(0)
	}

	if err := run(out, *check); err != nil {
		fmt.Fprintln(os.Stderr, "docgen:", err)
		os.Exit(1)
	}
}

func run(out string, check bool) error {
	root := commands.NewRoot(&commands.Flags{}, &taskwatch.App{})

	pinDefaults(root)

	md, err := docs.ToMarkdown(root)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}

	if check {
		current, err := os.ReadFile(out)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, []byte(md)) {
			return fmt.Errorf("%s is out of date; run go run ./cmd/docgen", out)
		}
		return nil
	}

	if err := os.WriteFile(out, []byte(md), 0o644); err != nil {
		return err
	}
	fmt.Println("wrote", out)
	return nil
}

func pinDefaults(root *cli.Command) {
	for _, f := range root.Flags {
		sf, ok := f.(*cli.StringFlag)
		if !ok {
			continue
		}
		if v, ok := pinned[sf.Name]; ok {
			sf.Value = v
		}
	}
}
