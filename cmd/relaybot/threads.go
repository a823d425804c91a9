package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/agent"
	"relaybot/internal/memory"
)

func threadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect the conversation thread store",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List thread mappings, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			store, err := openStore(cmd.Context(), cfg.Memory)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := agent.NewThreadStore(store, nil, logger).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tTHREAD\tCREATED\tLAST SEEN")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Key, e.ThreadID,
					e.CreatedAt.Local().Format(time.DateTime), e.LastSeen.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 100, "maximum entries to show")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "forget <key>",
		Short: "Drop the thread mapping for a conversation key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			store, err := openStore(cmd.Context(), cfg.Memory)
			if err != nil {
				return err
			}
			defer store.Close()
			return agent.NewThreadStore(store, nil, logger).Forget(cmd.Context(), args[0])
		},
	})

	var days int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove mappings idle for longer than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if cmd.Flags().Changed("days") {
				cfg.Memory.RetentionDays = days
			}
			if cfg.Memory.RetentionDays <= 0 {
				return fmt.Errorf("retention is disabled; pass --days to prune anyway")
			}
			store, err := openStore(cmd.Context(), cfg.Memory)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := memory.NewPruner(memory.PrunerConfig{
				Store:     store,
				Retention: retention(cfg.Memory),
				Logger:    logger,
			}).PruneOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d mapping(s)\n", n)
			return nil
		},
	}
	prune.Flags().IntVar(&days, "days", 0, "override memory.retentionDays")
	cmd.AddCommand(prune)

	return cmd
}
