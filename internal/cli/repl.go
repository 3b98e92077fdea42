package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

type handler func(ctx context.Context, args []string) error

type command struct {
	run   handler
	usage string
	help  string
}

// errUsage makes the REPL print the command's usage line.
var errUsage = errors.New("usage")

// runREPL reads one command per line from reader and dispatches it. Each
// command runs under its own timeout. Errors are printed and the loop goes on;
// it ends on EOF or "exit"/"quit".
func runREPL(ctx context.Context, cmds map[string]command, statusFn func() string, reader *bufio.Reader, out io.Writer, timeout time.Duration) {
	for {
		fmt.Fprintf(out, "vault%s> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		case "help":
			printHelp(out, cmds)
			continue
		}

		c, ok := cmds[name]
		if !ok {
			fmt.Fprintln(out, "Unknown command:", name)
			continue
		}

		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		err = c.run(cmdCtx, args)
		cancel()

		switch {
		case errors.Is(err, errUsage):
			fmt.Fprintln(out, "Usage:", c.usage)
		case err != nil:
			fmt.Fprintln(out, "error:", err)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func printHelp(out io.Writer, cmds map[string]command) {
	names := make([]string, 0, len(cmds))
	for n := range cmds {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "Available commands:")
	for _, n := range names {
		fmt.Fprintf(out, "  %-13s %s\n", n, cmds[n].help)
	}
	fmt.Fprintf(out, "  %-13s %s\n", "help", "show this list")
	fmt.Fprintf(out, "  %-13s %s\n", "exit", "leave the console")
}
