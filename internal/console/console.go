// Package console implements the interactive operator console: a
// line-oriented stdin loop that parses the same command grammar as the JSON
// control channel (§4.7, §6 "Console") and dispatches through
// operator.Surface.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"smo-relay/internal/operator"
	"smo-relay/internal/store"
)

const defaultHistoryLimit = 20

// Console reads commands from in and writes replies/prompts to out.
type Console struct {
	in      *bufio.Scanner
	out     io.Writer
	surface operator.Surface
	store   *store.Store // nil when no audit database is configured
}

// New builds a Console reading lines from in and dispatching through surface.
// st may be nil, in which case "history"/"audit" report unavailable.
func New(in io.Reader, out io.Writer, surface operator.Surface, st *store.Store) *Console {
	return &Console{in: bufio.NewScanner(in), out: out, surface: surface, store: st}
}

// Run reads lines until ctx is cancelled or the input is exhausted. Blank
// lines are ignored; unparseable lines get a usage reminder rather than
// being silently dropped.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for c.in.Scan() {
			lines <- c.in.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return c.in.Err()
			}
			c.handle(strings.TrimSpace(line))
		}
	}
}

func (c *Console) handle(line string) {
	if line == "" {
		return
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "history":
		c.showHistory(fields[1:])
		return
	case "audit":
		c.showAudit(fields[1:])
		return
	}

	cmd, ok := operator.ParseCommandLine(line)
	if !ok {
		fmt.Fprintln(c.out, "usage: status | shine <id> [names...] | kick <names...> | ban <reason> -- <names...> | stage <is2d> <scenario> <stage> [names...] | history [n] | audit [n]")
		return
	}

	reply := c.surface.Dispatch(cmd)
	if reply.Err != nil {
		fmt.Fprintf(c.out, "error: %v\n", reply.Err)
		log.Printf("[console] %q failed: %v", line, reply.Err)
		return
	}
	fmt.Fprintln(c.out, reply.Text)
}

// showHistory prints the most recent join/disconnect events (§B "history"
// command, backed by internal/store).
func (c *Console) showHistory(args []string) {
	if c.store == nil {
		fmt.Fprintln(c.out, "history unavailable: no audit database configured")
		return
	}
	limit := historyLimit(args)
	entries, err := c.store.RecentHistory(limit)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		log.Printf("[console] history query failed: %v", err)
		return
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "%d %-10s %-36s %-20s %s\n", e.AtUnixMs, e.Event, e.GUID, e.DisplayName, e.PeerAddr)
	}
}

// showAudit prints the most recent admin commands (§B "audit" command).
func (c *Console) showAudit(args []string) {
	if c.store == nil {
		fmt.Fprintln(c.out, "audit unavailable: no audit database configured")
		return
	}
	limit := historyLimit(args)
	entries, err := c.store.RecentCommands(limit)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		log.Printf("[console] audit query failed: %v", err)
		return
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "%d %-14s %-20s %s\n", e.AtUnixMs, e.Action, e.Target, e.Reason)
	}
}

func historyLimit(args []string) int {
	if len(args) == 0 {
		return defaultHistoryLimit
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	return n
}
