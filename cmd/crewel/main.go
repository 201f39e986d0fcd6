// Command crewel coordinates parallel agent workstreams across git
// worktrees: dependency-aware scheduling, branch hierarchy upkeep, conflict
// prediction, and transactional merges.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewel-dev/crewel/internal/artefact"
	"github.com/crewel-dev/crewel/internal/audit"
	"github.com/crewel-dev/crewel/internal/buildinfo"
	"github.com/crewel-dev/crewel/internal/config"
	"github.com/crewel-dev/crewel/internal/gitx"
	"github.com/crewel-dev/crewel/internal/mergeflow"
	"github.com/crewel-dev/crewel/internal/prprovider"
	"github.com/crewel-dev/crewel/internal/reconcile"
	"github.com/crewel-dev/crewel/internal/repo"
	"github.com/crewel-dev/crewel/internal/topology"
	"github.com/crewel-dev/crewel/internal/workstream"
	"github.com/crewel-dev/crewel/internal/worktree"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
)

var flagDryRun bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "crewel",
		Short: "Coordinate parallel agent workstreams across git worktrees",
		Long: `Crewel reads a task graph from markdown artefacts, schedules the work
that is safe to hand to agents, keeps a branch hierarchy healthy, predicts
merge conflicts between in-flight branches, and performs transactional
merges back up the hierarchy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(readyCmd())
	rootCmd.AddCommand(impactCmd())
	rootCmd.AddCommand(bottlenecksCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(spawnCmd())
	rootCmd.AddCommand(markCmd())
	rootCmd.AddCommand(preflightCmd())
	rootCmd.AddCommand(mergeCmd())
	rootCmd.AddCommand(promoteCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(conflictsCmd())
	rootCmd.AddCommand(mergeOrderCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(exitCode(err))
	}
}

// usageError marks a flag-parsing failure so it exits with the usage code
// instead of the operational one.
type usageError struct{ err error }

func (usage usageError) Error() string { return usage.err.Error() }

func (usage usageError) Unwrap() error { return usage.err }

// exitCode maps an error to the CLI contract: 0 on success, 1 on any
// operational failure (validation, precondition, conflict, missing
// artefact), 2 only for command-line usage mistakes.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage usageError
	if errors.As(err, &usage) {
		return 2
	}
	return 1
}

// app bundles the collaborators every command needs, built once per
// invocation from the discovered repository root.
type app struct {
	Root    string
	Config  config.Config
	Git     *gitx.Runner
	Store   *artefact.FileStore
	Records *workstream.Store
	Topo    *topology.Topology
	Trees   *worktree.Manager
	Auditor *audit.Logger
}

// newApp discovers the repository and wires the collaborators. Config
// warnings go to stderr without failing the command.
func newApp() (*app, error) {
	root, err := repo.DiscoverRootFromCWD()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root, func(message string) {
		fmt.Fprintln(os.Stderr, yellow("config:"), message)
	})
	if err != nil {
		return nil, err
	}
	git, err := gitx.NewRunner(root)
	if err != nil {
		return nil, err
	}
	store, err := artefact.NewFileStore(root)
	if err != nil {
		return nil, err
	}
	records, err := workstream.NewStore(root)
	if err != nil {
		return nil, err
	}
	topo, err := topology.New(git, store, cfg)
	if err != nil {
		return nil, err
	}
	trees, err := worktree.NewManager(git, cfg.Worktrees.Dir)
	if err != nil {
		return nil, err
	}
	auditor, err := audit.NewLogger(root, os.Stderr)
	if err != nil {
		return nil, err
	}
	return &app{
		Root:    root,
		Config:  cfg,
		Git:     git,
		Store:   store,
		Records: records,
		Topo:    topo,
		Trees:   trees,
		Auditor: auditor,
	}, nil
}

// executor builds the merge state machine from the app's collaborators.
func (application *app) executor() *mergeflow.Executor {
	return mergeflow.NewExecutor(application.Git, application.Store, application.Records,
		application.Trees, application.Topo, application.Auditor)
}

// reconciler builds the hierarchy reconciler.
func (application *app) reconciler() *reconcile.Reconciler {
	return reconcile.New(application.Git, application.Topo, application.Records,
		application.Auditor, application.Config)
}

// prProvider builds the gh-backed PR state reader with the configured
// timeout.
func (application *app) prProvider() *prprovider.Provider {
	timeout := time.Duration(application.Config.Provider.TimeoutSeconds) * time.Second
	return prprovider.New(application.Root, timeout)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(buildinfo.String())
			return nil
		},
	}
}
