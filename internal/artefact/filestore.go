package artefact

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crewel-dev/crewel/internal/fault"
)

const (
	// artefactDirName is the relative path for durable crewel artefacts.
	artefactDirName = ".crewel"
	// taskDirName holds task artefact files.
	taskDirName = "tasks"
	// epicDirName holds epic artefact files.
	epicDirName = "epics"
	// prdDirName holds PRD artefact files.
	prdDirName = "prds"
	// artefactFileMode defines permissions for artefact files.
	artefactFileMode = 0o644
	// artefactDirMode defines permissions for artefact directories.
	artefactDirMode = 0o755
	// frontmatterDelimiter separates YAML metadata from the markdown body.
	frontmatterDelimiter = "---"
)

// FileStore persists artefacts as markdown files with YAML frontmatter
// under <repoRoot>/.crewel/{tasks,epics,prds}/<id>.md.
type FileStore struct {
	root string
}

// NewFileStore constructs a FileStore rooted at the repository root.
func NewFileStore(repoRoot string) (*FileStore, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute repo root %s: %w", repoRoot, err)
	}
	return &FileStore{root: filepath.Join(absRoot, artefactDirName)}, nil
}

// Init creates the artefact directory layout when missing.
func (store *FileStore) Init() error {
	for _, dir := range []string{taskDirName, epicDirName, prdDirName} {
		path := filepath.Join(store.root, dir)
		if err := os.MkdirAll(path, artefactDirMode); err != nil {
			return fmt.Errorf("create artefact directory %s: %w", path, err)
		}
	}
	return nil
}

// Task loads a single task by id.
func (store *FileStore) Task(id string) (Task, error) {
	var task Task
	if err := store.readArtefact(taskDirName, id, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Epic loads a single epic by id.
func (store *FileStore) Epic(id string) (Epic, error) {
	var epic Epic
	if err := store.readArtefact(epicDirName, id, &epic); err != nil {
		return Epic{}, err
	}
	return epic, nil
}

// PRD loads a single PRD by id.
func (store *FileStore) PRD(id string) (PRD, error) {
	var prd PRD
	if err := store.readArtefact(prdDirName, id, &prd); err != nil {
		return PRD{}, err
	}
	return prd, nil
}

// Tasks loads every task artefact, sorted by id.
func (store *FileStore) Tasks() ([]Task, error) {
	ids, err := store.listIDs(taskDirName)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		task, err := store.Task(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Epics loads every epic artefact, sorted by id.
func (store *FileStore) Epics() ([]Epic, error) {
	ids, err := store.listIDs(epicDirName)
	if err != nil {
		return nil, err
	}
	epics := make([]Epic, 0, len(ids))
	for _, id := range ids {
		epic, err := store.Epic(id)
		if err != nil {
			return nil, err
		}
		epics = append(epics, epic)
	}
	return epics, nil
}

// PRDs loads every PRD artefact, sorted by id.
func (store *FileStore) PRDs() ([]PRD, error) {
	ids, err := store.listIDs(prdDirName)
	if err != nil {
		return nil, err
	}
	prds := make([]PRD, 0, len(ids))
	for _, id := range ids {
		prd, err := store.PRD(id)
		if err != nil {
			return nil, err
		}
		prds = append(prds, prd)
	}
	return prds, nil
}

// SetTaskStatus updates a task's status in place, preserving the markdown body.
func (store *FileStore) SetTaskStatus(id string, status TaskStatus) error {
	if !ValidTaskStatus(status) {
		return fault.Validation("unknown task status %q", status)
	}
	task, err := store.Task(id)
	if err != nil {
		return err
	}
	task.Status = status
	return store.writeArtefact(taskDirName, id, &task)
}

// SetTaskBlockers replaces a task's blocker set after validating every
// referenced id is an existing task and the edge set stays acyclic.
func (store *FileStore) SetTaskBlockers(id string, blockerIDs []string) error {
	task, err := store.Task(id)
	if err != nil {
		return err
	}
	for _, blockerID := range blockerIDs {
		if blockerID == id {
			return fault.Validation("task %s cannot block itself", id)
		}
		if _, err := store.Task(blockerID); err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				if _, epicErr := store.Epic(blockerID); epicErr == nil {
					return fault.Validation("task %s cannot be blocked by epic %s: cross-type dependencies are invalid", id, blockerID)
				}
			}
			return err
		}
	}
	if err := store.checkAcyclicTaskEdge(id, blockerIDs); err != nil {
		return err
	}
	task.BlockedBy = dedupeSorted(blockerIDs)
	return store.writeArtefact(taskDirName, id, &task)
}

// SetEpicBlockers replaces an epic's blocker set with the same validation
// rules as tasks, restricted to epic ids.
func (store *FileStore) SetEpicBlockers(id string, blockerIDs []string) error {
	epic, err := store.Epic(id)
	if err != nil {
		return err
	}
	for _, blockerID := range blockerIDs {
		if blockerID == id {
			return fault.Validation("epic %s cannot block itself", id)
		}
		if _, err := store.Epic(blockerID); err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				if _, taskErr := store.Task(blockerID); taskErr == nil {
					return fault.Validation("epic %s cannot be blocked by task %s: cross-type dependencies are invalid", id, blockerID)
				}
			}
			return err
		}
	}
	if err := store.checkAcyclicEpicEdge(id, blockerIDs); err != nil {
		return err
	}
	epic.BlockedBy = dedupeSorted(blockerIDs)
	return store.writeArtefact(epicDirName, id, &epic)
}

// WriteTask persists a full task artefact, creating it when missing.
func (store *FileStore) WriteTask(task Task) error {
	if strings.TrimSpace(task.ID) == "" {
		return fault.Validation("task id is required")
	}
	if task.Status == "" {
		task.Status = TaskNotStarted
	}
	if !ValidTaskStatus(task.Status) {
		return fault.Validation("unknown task status %q", task.Status)
	}
	return store.writeArtefact(taskDirName, task.ID, &task)
}

// WriteEpic persists a full epic artefact, creating it when missing.
func (store *FileStore) WriteEpic(epic Epic) error {
	if strings.TrimSpace(epic.ID) == "" {
		return fault.Validation("epic id is required")
	}
	if epic.Status == "" {
		epic.Status = TaskNotStarted
	}
	if !ValidTaskStatus(epic.Status) {
		return fault.Validation("unknown epic status %q", epic.Status)
	}
	return store.writeArtefact(epicDirName, epic.ID, &epic)
}

// WritePRD persists a full PRD artefact, creating it when missing.
func (store *FileStore) WritePRD(prd PRD) error {
	if strings.TrimSpace(prd.ID) == "" {
		return fault.Validation("prd id is required")
	}
	if prd.Status == "" {
		prd.Status = TaskNotStarted
	}
	if !ValidTaskStatus(prd.Status) {
		return fault.Validation("unknown prd status %q", prd.Status)
	}
	return store.writeArtefact(prdDirName, prd.ID, &prd)
}

// checkAcyclicTaskEdge rejects blocker sets that would create a task cycle.
func (store *FileStore) checkAcyclicTaskEdge(id string, blockerIDs []string) error {
	tasks, err := store.Tasks()
	if err != nil {
		return err
	}
	blockers := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		blockers[task.ID] = task.BlockedBy
	}
	blockers[id] = blockerIDs
	return detectCycle(id, blockers)
}

// checkAcyclicEpicEdge rejects blocker sets that would create an epic cycle.
func (store *FileStore) checkAcyclicEpicEdge(id string, blockerIDs []string) error {
	epics, err := store.Epics()
	if err != nil {
		return err
	}
	blockers := make(map[string][]string, len(epics))
	for _, epic := range epics {
		blockers[epic.ID] = epic.BlockedBy
	}
	blockers[id] = blockerIDs
	return detectCycle(id, blockers)
}

// detectCycle walks the blocker relation from start and reports any cycle
// reachable from it as a validation fault.
func detectCycle(start string, blockers map[string][]string) error {
	const (
		unvisited = 0
		visiting  = 1
		finished  = 2
	)
	state := make(map[string]int, len(blockers))
	var walk func(id string, path []string) error
	walk = func(id string, path []string) error {
		if state[id] == visiting {
			return fault.Validation("circular dependency detected: %s", strings.Join(append(path, id), " -> "))
		}
		if state[id] == finished {
			return nil
		}
		state[id] = visiting
		for _, blocker := range blockers[id] {
			if err := walk(blocker, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = finished
		return nil
	}
	return walk(start, nil)
}

// readArtefact parses the frontmatter of an artefact file into out.
func (store *FileStore) readArtefact(kind string, id string, out any) error {
	if strings.TrimSpace(id) == "" {
		return fault.Validation("artefact id is required")
	}
	path := store.artefactPath(kind, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fault.NotFound("%s %s does not exist", strings.TrimSuffix(kind, "s"), id)
		}
		return fmt.Errorf("read artefact %s: %w", path, err)
	}
	meta, _, err := splitFrontmatter(data)
	if err != nil {
		return fmt.Errorf("parse artefact %s: %w", path, err)
	}
	if err := yaml.Unmarshal(meta, out); err != nil {
		return fmt.Errorf("decode artefact frontmatter %s: %w", path, err)
	}
	return nil
}

// writeArtefact re-renders frontmatter while preserving any markdown body.
func (store *FileStore) writeArtefact(kind string, id string, meta any) error {
	path := store.artefactPath(kind, id)
	var body []byte
	if existing, err := os.ReadFile(path); err == nil {
		if _, existingBody, splitErr := splitFrontmatter(existing); splitErr == nil {
			body = existingBody
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read artefact %s: %w", path, err)
	}

	encoded, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode artefact frontmatter %s: %w", path, err)
	}

	var buffer bytes.Buffer
	buffer.WriteString(frontmatterDelimiter + "\n")
	buffer.Write(encoded)
	buffer.WriteString(frontmatterDelimiter + "\n")
	buffer.Write(body)

	if err := os.MkdirAll(filepath.Dir(path), artefactDirMode); err != nil {
		return fmt.Errorf("create artefact directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), artefactFileMode); err != nil {
		return fmt.Errorf("write artefact %s: %w", path, err)
	}
	return nil
}

// listIDs returns the sorted artefact ids present under a kind directory.
func (store *FileStore) listIDs(kind string) ([]string, error) {
	dir := filepath.Join(store.root, kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list artefact directory %s: %w", dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".md"))
	}
	sort.Strings(ids)
	return ids, nil
}

// artefactPath builds the file path for an artefact id.
func (store *FileStore) artefactPath(kind string, id string) string {
	return filepath.Join(store.root, kind, id+".md")
}

// splitFrontmatter separates YAML frontmatter from the markdown body.
func splitFrontmatter(data []byte) (meta []byte, body []byte, err error) {
	text := string(data)
	if !strings.HasPrefix(text, frontmatterDelimiter+"\n") {
		return nil, nil, errors.New("missing frontmatter delimiter")
	}
	rest := text[len(frontmatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelimiter+"\n")
	if end == -1 {
		if strings.HasSuffix(rest, "\n"+frontmatterDelimiter) {
			return []byte(rest[:len(rest)-len(frontmatterDelimiter)-1]), nil, nil
		}
		return nil, nil, errors.New("unterminated frontmatter")
	}
	meta = []byte(rest[:end+1])
	body = []byte(rest[end+len(frontmatterDelimiter)+2:])
	return meta, body, nil
}

// dedupeSorted returns a sorted copy of ids with duplicates removed.
func dedupeSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}
