package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewel-dev/crewel/internal/status"
	"github.com/crewel-dev/crewel/internal/tui"
)

var (
	flagWatch    bool
	flagArchived bool
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every workstream with branch and PR state",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			collector := status.NewCollector(application.Git, application.Store,
				application.Records, application.Topo, application.prProvider(), flagArchived)
			if flagWatch {
				return tui.Run(collector)
			}
			snapshot, err := collector.Collect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(snapshot.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "Live-refresh interactive view")
	cmd.Flags().BoolVar(&flagArchived, "archived", false, "Include archived workstreams")
	return cmd
}
