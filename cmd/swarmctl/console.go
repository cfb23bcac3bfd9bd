package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/swarm"
	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/tools"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Drive a swarm session interactively through its tool calls",
		Long: `Start a session and read commands from the terminal:

  as <agent>         act as another live agent
  <tool> [json]      call a tool, e.g. swarm_hub {"action":"lounge_read"}
  tools              list tools and hub actions
  agents             list every agent
  checkpoint         save a checkpoint now
  quit               close the session and exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, configPath(cmd), os.Stderr)
			if err != nil {
				return err
			}
			c := newConsole(a.session, a.root, cmd.OutOrStdout())
			err = c.loop(ctx)
			if cerr := a.Close(context.Background()); err == nil {
				err = cerr
			}
			return err
		},
	}
}

// console executes REPL lines against a session.
type console struct {
	session *swarm.Session
	tools   *tools.Dispatcher
	out     io.Writer
	caller  agent.ID
}

func newConsole(s *swarm.Session, caller agent.ID, out io.Writer) *console {
	return &console{
		session: s,
		tools:   tools.New(s),
		out:     out,
		caller:  caller,
	}
}

func (c *console) loop(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(c.complete)

	for {
		input, err := line.Prompt(fmt.Sprintf("%s> ", c.caller))
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)
		if c.exec(ctx, input) {
			return nil
		}
	}
}

func (c *console) complete(prefix string) []string {
	var out []string
	words := []string{"as", "agents", "checkpoint", "tools", "quit"}
	for _, t := range c.tools.Tools() {
		words = append(words, t.Name)
	}
	for _, w := range words {
		if strings.HasPrefix(w, prefix) {
			out = append(out, w)
		}
	}
	return out
}

// exec runs one line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, input string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(input), " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "quit", "exit":
		return true
	case "as":
		sum, err := c.session.Resolve(agent.ID(rest))
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		c.caller = sum.ID
		fmt.Fprintf(c.out, "acting as %s (%s, tier %d)\n", sum.ID, sum.Role, sum.Tier)
	case "agents":
		c.printAgents()
	case "tools":
		for _, t := range c.tools.Tools() {
			fmt.Fprintf(c.out, "%-18s %s\n", t.Name, t.Description)
		}
		fmt.Fprintf(c.out, "hub actions: %s\n", strings.Join(c.tools.HubActions(), ", "))
	case "checkpoint":
		info, err := c.session.Checkpoint(ctx)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintf(c.out, "checkpoint %s (%d bytes)\n", info.ID, info.Size)
	default:
		res := c.tools.Handle(ctx, c.caller, cmd, []byte(rest))
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintln(c.out, string(out))
	}
	return false
}

func (c *console) printAgents() {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLE\tTIER\tSTATUS\tPARENT")
	for s := range c.session.Agents(agent.Filter{}) {
		marker := ""
		if s.ID == c.caller {
			marker = " *"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%d\t%s\t%s\n", s.ID, marker, s.Role, s.Tier, s.Status, s.Parent)
	}
	_ = w.Flush()
}
