package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/infod3/infod/internal/client"
)

// REPL is the interactive command loop, built the way sloty's REPL wraps
// peterh/liner for readline-style editing and history.
type REPL struct {
	client *client.Client
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".infoctl_history")
}

func runREPL(network, addr string) int {
	c, err := client.Dial(network, addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}
	defer c.Close()

	r := &REPL{client: c}
	if err := r.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "infoctl:", err)
		return 1
	}
	return 0
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Println("infoctl - infod3 client")
	fmt.Println("Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("infoctl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		switch strings.ToLower(parts[0]) {
		case "exit", "quit", "q":
			return r.saveHistory()
		case "help":
			r.printHelp()
		default:
			runCommand(r.client, parts)
		}
	}

	return r.saveHistory()
}

func (r *REPL) saveHistory() error {
	if f, err := os.Create(historyFile()); err == nil {
		_, _ = r.liner.WriteHistory(f)
		_ = f.Close()
	}
	return nil
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  get <key>              Read a key
  put <key> <value>      Store a key/value
  del <key>              Delete a key
  sub [pattern]          Subscribe and print catch-up + live notifications
  dump [path]            Write every key in the store to a JSON file
  ping [payload]         Round-trip a PING
  help                   Show this help
  exit / quit / q        Exit`)
}

func (r *REPL) completer(line string) []string {
	commands := []string{"get", "put", "del", "sub", "dump", "ping", "help", "exit", "quit"}
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}
