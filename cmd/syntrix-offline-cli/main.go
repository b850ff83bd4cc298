// Package main is an interactive shell for a running syntrix-offline
// gateway.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ergochat/readline"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("get"),
	readline.PcItem("push"),
	readline.PcItem("drain"),
	readline.PcItem("length"),
	readline.PcItem("updates"),
	readline.PcItem("health"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

const usage = `Commands:
  get <uri> [key=value ...]   read a URI through the cache
  push <json>                 queue an update
  drain [delay]               drain the queue, or schedule a drain after delay
  length                      number of queued updates
  updates                     list queued updates in delivery order
  health                      gateway status
  exit                        leave the shell
`

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func main() {
	addr := flag.String("addr", "localhost:8090", "Gateway address")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	flag.Parse()

	c, err := newClient(*addr, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// One-shot mode: syntrix-offline-cli length
	if flag.NArg() > 0 {
		if err := execute(context.Background(), c, os.Stdout, strings.Join(flag.Args(), " ")); err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "offline> ",
		HistoryFile:     filepath.Join(home, ".syntrix_offline_history"),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()
	rl.CaptureExitSignal()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				break
			}
			continue
		}
		if err != nil {
			break
		}
		err = execute(context.Background(), c, rl, line)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(rl, "Error: %v\n", err)
		}
	}
}

// execute runs one command line and prints its result to out. It returns
// io.EOF for exit.
func execute(ctx context.Context, c *client, out io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	var (
		res json.RawMessage
		err error
	)
	switch cmd {
	case "get":
		if len(args) == 0 {
			return errors.New("usage: get <uri> [key=value ...]")
		}
		res, err = c.Get(ctx, args[0], args[1:])
	case "push":
		// The update is the raw remainder of the line so JSON keeps its spaces.
		update := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), cmd))
		if update == "" {
			return errors.New("usage: push <json>")
		}
		res, err = c.Push(ctx, update)
	case "drain":
		delay := ""
		if len(args) > 0 {
			delay = args[0]
		}
		res, err = c.Drain(ctx, delay)
	case "length":
		res, err = c.Length(ctx)
	case "updates":
		res, err = c.Updates(ctx)
	case "health":
		res, err = c.Health(ctx)
	case "help":
		_, err = io.WriteString(out, usage)
		return err
	case "exit", "quit":
		return io.EOF
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func printJSON(out io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintf(out, "%s\n", raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := out.Write(buf.Bytes())
	return err
}
