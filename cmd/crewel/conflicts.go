package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crewel-dev/crewel/internal/conflict"
	"github.com/crewel-dev/crewel/internal/graph"
)

func conflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Predict file-level conflicts between in-flight branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			records, err := application.Records.ListActive()
			if err != nil {
				return err
			}
			matrix, err := conflict.BuildMatrix(application.Git, records)
			if err != nil {
				return err
			}
			if len(matrix.Entries) == 0 {
				fmt.Println(green("no predicted conflicts between active workstreams"))
				return nil
			}
			for _, entry := range matrix.Entries {
				fmt.Printf("%s %s × %s: %s\n",
					yellow("overlap"), entry.TaskA, entry.TaskB, strings.Join(entry.Files, ", "))
			}
			return nil
		},
	}
}

func mergeOrderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge-order",
		Short: "Suggest a merge order minimizing conflict exposure",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			records, err := application.Records.ListActive()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println(dim("no active workstreams"))
				return nil
			}
			matrix, err := conflict.BuildMatrix(application.Git, records)
			if err != nil {
				return err
			}
			taskGraph, err := graph.Build(application.Store)
			if err != nil {
				return err
			}
			steps := conflict.SuggestOrder(matrix, taskGraph, records)
			for i, step := range steps {
				line := fmt.Sprintf("%2d. %s (%s)", i+1, step.TaskID, step.Branch)
				if step.ConflictDegree > 0 {
					line += fmt.Sprintf(" conflicts with %d other(s)", step.ConflictDegree)
				}
				if len(step.WaitsOn) > 0 {
					line += dim(fmt.Sprintf(" after %s", strings.Join(step.WaitsOn, ", ")))
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
