// Package status assembles the repository-wide coordination snapshot:
// workstreams, branch divergence, pull request state, and task counts.
package status

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/crewel-dev/crewel/internal/artefact"
	"github.com/crewel-dev/crewel/internal/branchstate"
	"github.com/crewel-dev/crewel/internal/graph"
	"github.com/crewel-dev/crewel/internal/gitx"
	"github.com/crewel-dev/crewel/internal/prprovider"
	"github.com/crewel-dev/crewel/internal/topology"
	"github.com/crewel-dev/crewel/internal/workstream"
)

const (
	idColumnWidth     = 14
	statusColumnWidth = 11
	branchColumnWidth = 24
	stateColumnWidth  = 11
	driftColumnWidth  = 8
	prColumnWidth     = 9
	titleMaxWidth     = 40
)

var statusRowOrder = map[workstream.Status]int{
	workstream.StatusRunning:   0,
	workstream.StatusCompleted: 1,
	workstream.StatusSpawned:   2,
	workstream.StatusFailed:    3,
}

// Row is one active workstream's line in the snapshot table.
type Row struct {
	TaskID      string
	Title       string
	Status      workstream.Status
	Branch      string
	BranchState branchstate.State
	Ahead       int
	Behind      int
	PR          prprovider.Info
	SpawnedAt   time.Time
	order       int
}

// ArchivedRow is one terminal workstream from the archive.
type ArchivedRow struct {
	TaskID     string
	Status     workstream.Status
	Branch     string
	ArchivedAt time.Time
}

// Snapshot is the full coordination picture at one moment.
type Snapshot struct {
	Rows     []Row
	Archived []ArchivedRow
	// Task counts across the artefact store, independent of workstreams.
	TotalTasks int
	Ready      int
	Blocked    int
	Done       int
	TakenAt    time.Time
}

// Collector gathers snapshots.
type Collector struct {
	git       *gitx.Runner
	store     artefact.Store
	records   *workstream.Store
	topo      *topology.Topology
	prs       *prprovider.Provider
	// includeArchive controls whether terminal workstreams are listed.
	includeArchive bool
}

// NewCollector wires a snapshot collector. The PR provider may be nil, in
// which case PR state reports unknown.
func NewCollector(git *gitx.Runner, store artefact.Store, records *workstream.Store,
	topo *topology.Topology, prs *prprovider.Provider, includeArchive bool) *Collector {
	return &Collector{git: git, store: store, records: records, topo: topo,
		prs: prs, includeArchive: includeArchive}
}

// Collect assembles one snapshot. Branch classification failures degrade to
// a missing state for that row rather than failing the whole snapshot.
func (collector *Collector) Collect(ctx context.Context) (Snapshot, error) {
	snapshot := Snapshot{TakenAt: time.Now().UTC()}

	taskGraph, err := graph.Build(collector.store)
	if err != nil {
		return Snapshot{}, err
	}
	for _, task := range taskGraph.Tasks {
		snapshot.TotalTasks++
		switch {
		case task.Status == artefact.TaskDone:
			snapshot.Done++
		case taskGraph.Unblocked(task.ID):
			snapshot.Ready++
		default:
			snapshot.Blocked++
		}
	}

	// Every live record gets a row; the archive is opt-in below.
	live, err := collector.records.List()
	if err != nil {
		return Snapshot{}, err
	}
	prStates := collector.lookupPRs(ctx, live)
	for _, record := range live {
		row := Row{
			TaskID:    record.TaskID,
			Status:    record.Status,
			Branch:    record.Branch,
			PR:        prStates[record.Branch],
			SpawnedAt: record.SpawnedAt,
			order:     rowOrder(record.Status),
		}
		if task, taskErr := collector.store.Task(record.TaskID); taskErr == nil {
			row.Title = truncateTitle(task.Title, titleMaxWidth)
		}
		parent := record.ParentBranch
		if parent == "" {
			// Older records predate the parent field; rederive it.
			if resolved, parentErr := collector.topo.ParentOfTask(record.TaskID); parentErr == nil {
				parent = resolved
			}
		}
		report, classifyErr := branchstate.Classify(collector.git, branchstate.Input{
			WorktreePath: record.WorktreePath,
			Branch:       record.Branch,
			Parent:       parent,
		})
		if classifyErr != nil {
			row.BranchState = branchstate.StateMissing
		} else {
			row.BranchState = report.State
			row.Ahead = report.Ahead
			row.Behind = report.Behind
		}
		snapshot.Rows = append(snapshot.Rows, row)
	}
	sort.Slice(snapshot.Rows, func(i, j int) bool {
		if snapshot.Rows[i].order != snapshot.Rows[j].order {
			return snapshot.Rows[i].order < snapshot.Rows[j].order
		}
		return snapshot.Rows[i].TaskID < snapshot.Rows[j].TaskID
	})

	if collector.includeArchive {
		archived, archiveErr := collector.records.ListArchived()
		if archiveErr != nil {
			return Snapshot{}, archiveErr
		}
		for _, record := range archived {
			snapshot.Archived = append(snapshot.Archived, ArchivedRow{
				TaskID:     record.TaskID,
				Status:     record.Status,
				Branch:     record.Branch,
				ArchivedAt: record.ArchivedAt,
			})
		}
		sort.Slice(snapshot.Archived, func(i, j int) bool {
			return snapshot.Archived[i].ArchivedAt.After(snapshot.Archived[j].ArchivedAt)
		})
	}
	return snapshot, nil
}

// lookupPRs resolves PR state for every active branch when a provider is
// configured.
func (collector *Collector) lookupPRs(ctx context.Context, records []workstream.Record) map[string]prprovider.Info {
	if collector.prs == nil {
		return map[string]prprovider.Info{}
	}
	branches := make([]string, 0, len(records))
	for _, record := range records {
		branches = append(branches, record.Branch)
	}
	return collector.prs.LookupAll(ctx, branches)
}

// String renders the snapshot as an aligned plain-text table.
func (snapshot Snapshot) String() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "tasks total=%d ready=%d blocked=%d done=%d\n",
		snapshot.TotalTasks, snapshot.Ready, snapshot.Blocked, snapshot.Done)
	fmt.Fprintf(&builder, "workstreams active=%d\n", len(snapshot.Rows))
	if len(snapshot.Rows) > 0 {
		fmt.Fprintf(&builder, "%-*s %-*s %-*s %-*s %-*s %-*s %s\n",
			idColumnWidth, "task",
			statusColumnWidth, "status",
			branchColumnWidth, "branch",
			stateColumnWidth, "state",
			driftColumnWidth, "drift",
			prColumnWidth, "pr",
			"title",
		)
		for _, row := range snapshot.Rows {
			fmt.Fprintf(&builder, "%-*s %-*s %-*s %-*s %-*s %-*s %s\n",
				idColumnWidth, row.TaskID,
				statusColumnWidth, string(row.Status),
				branchColumnWidth, row.Branch,
				stateColumnWidth, string(row.BranchState),
				driftColumnWidth, formatDrift(row.Ahead, row.Behind),
				prColumnWidth, formatPR(row.PR),
				row.Title,
			)
		}
	}
	if len(snapshot.Archived) > 0 {
		fmt.Fprintf(&builder, "archived=%d\n", len(snapshot.Archived))
		for _, row := range snapshot.Archived {
			fmt.Fprintf(&builder, "%-*s %-*s %-*s %s\n",
				idColumnWidth, row.TaskID,
				statusColumnWidth, string(row.Status),
				branchColumnWidth, row.Branch,
				formatTime(row.ArchivedAt),
			)
		}
	}
	return strings.TrimSpace(builder.String())
}

func rowOrder(status workstream.Status) int {
	if rank, ok := statusRowOrder[status]; ok {
		return rank
	}
	return len(statusRowOrder)
}

// formatDrift renders ahead/behind counts as +a/-b, or "-" when level.
func formatDrift(ahead int, behind int) string {
	if ahead == 0 && behind == 0 {
		return "-"
	}
	return fmt.Sprintf("+%d/-%d", ahead, behind)
}

func formatPR(info prprovider.Info) string {
	switch info.State {
	case "":
		return string(prprovider.PRUnknown)
	case prprovider.PROpen, prprovider.PRMerged, prprovider.PRClosed:
		return fmt.Sprintf("#%d %s", info.Number, info.State)
	default:
		return string(info.State)
	}
}

func truncateTitle(title string, maxLen int) string {
	title = strings.TrimSpace(title)
	if title == "" || len(title) <= maxLen {
		return title
	}
	if maxLen <= 3 {
		return title[:maxLen]
	}
	return title[:maxLen-3] + "..."
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
