package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/swarm/agent"
	"github.com/aixgo-dev/swarm/internal/hub"
	"github.com/aixgo-dev/swarm/internal/persistence"
	"github.com/aixgo-dev/swarm/pkg/config"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Summarize a checkpoint blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(args[0]) // #nosec G304 - operator-supplied checkpoint path
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), blob)
		},
	}
}

func inspect(out io.Writer, blob []byte) error {
	st, meta, err := persistence.Decode(blob)
	if err != nil {
		return err
	}
	counts := st.Counts()

	fmt.Fprintf(out, "taken at:  %s\n", meta.TakenAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "agents:    %d\n", len(st.Agents))
	fmt.Fprintf(out, "pending:   %d messages\n", counts.Pending)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTATUS\tAGENTS")
	for _, s := range agent.Statuses {
		if n := counts.Agents[s]; n > 0 {
			fmt.Fprintf(w, "%s\t%d\n", s, n)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if st.Hub == nil {
		fmt.Fprintln(out, "\nhub: not created")
		return nil
	}
	h := hub.New(config.Default())
	defer h.Close()
	if err := h.Load(st.Hub); err != nil {
		return fmt.Errorf("hub: %w", err)
	}
	records := h.Counts()
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTORE\tRECORDS\tBYTES")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\t%d\n", name, records[name], counts.HubBytes[name])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if h.Halted() {
		fmt.Fprintf(out, "\nkill switch: tripped by %s\n", h.Budget.Status().KilledBy)
	}
	return nil
}
