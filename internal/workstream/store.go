package workstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crewel-dev/crewel/internal/fault"
)

const (
	// stateDirName is the relative path for transient crewel state.
	stateDirName = ".crewel/state"
	// recordDirName holds active workstream records.
	recordDirName = "workstreams"
	// archiveDirName holds records retained after merge or rejection.
	archiveDirName = "archive"
	// recordFileMode defines permissions for record files.
	recordFileMode = 0o644
	// stateDirMode defines permissions for state directories.
	stateDirMode = 0o755
)

// Store reads and writes workstream records under the repo's state dir.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore builds a Store rooted at the provided repository root.
func NewStore(repoRoot string) (*Store, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	return &Store{
		dir: filepath.Join(repoRoot, stateDirName, recordDirName),
		now: time.Now,
	}, nil
}

// Create persists a new workstream record for a task. A task with an
// unarchived record cannot be re-spawned until that record reaches a
// terminal state and is archived.
func (store *Store) Create(record Record) (Record, error) {
	if err := record.validate(); err != nil {
		return Record{}, err
	}
	if _, err := store.Get(record.TaskID); err == nil {
		return Record{}, fault.Validation("workstream for task %s already exists", record.TaskID)
	} else if !fault.IsKind(err, fault.KindNotFound) {
		return Record{}, err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = StatusSpawned
	}
	now := store.now().UTC()
	record.SpawnedAt = now
	record.UpdatedAt = now
	if err := store.write(store.recordPath(record.TaskID), record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Get loads the active record for a task.
func (store *Store) Get(taskID string) (Record, error) {
	if strings.TrimSpace(taskID) == "" {
		return Record{}, fault.Validation("task id is required")
	}
	return store.read(store.recordPath(taskID), taskID)
}

// List returns all active records sorted by task id.
func (store *Store) List() ([]Record, error) {
	return store.list(store.dir)
}

// ListActive returns records whose branches still participate in conflict
// analysis: running, or completed and not yet merged.
func (store *Store) ListActive() ([]Record, error) {
	records, err := store.List()
	if err != nil {
		return nil, err
	}
	active := records[:0]
	for _, record := range records {
		if record.Status.Active() {
			active = append(active, record)
		}
	}
	return active, nil
}

// ListArchived returns archived records sorted by task id.
func (store *Store) ListArchived() ([]Record, error) {
	return store.list(filepath.Join(store.dir, archiveDirName))
}

// Transition advances a record's lifecycle status. Illegal steps, including
// any attempt to leave a terminal state, are rejected without writing.
func (store *Store) Transition(taskID string, to Status) (Record, error) {
	record, err := store.Get(taskID)
	if err != nil {
		return Record{}, err
	}
	if !CanTransition(record.Status, to) {
		return Record{}, transitionError(taskID, record.Status, to)
	}
	record.Status = to
	record.UpdatedAt = store.now().UTC()
	if err := store.write(store.recordPath(taskID), record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Update applies a mutation to non-lifecycle fields. The status field is
// protected: mutations attempting to change it are rejected.
func (store *Store) Update(taskID string, mutate func(*Record)) (Record, error) {
	record, err := store.Get(taskID)
	if err != nil {
		return Record{}, err
	}
	before := record.Status
	mutate(&record)
	if record.Status != before {
		return Record{}, fault.Validation("workstream status must change via Transition, not Update")
	}
	record.UpdatedAt = store.now().UTC()
	if err := store.write(store.recordPath(taskID), record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Archive moves a terminal record into the archive directory. Records are
// retained for audit and debugging, never deleted.
func (store *Store) Archive(taskID string) error {
	record, err := store.Get(taskID)
	if err != nil {
		return err
	}
	if !record.Status.Terminal() {
		return fault.Validation("workstream for task %s is %s; only terminal records archive", taskID, record.Status)
	}
	record.ArchivedAt = store.now().UTC()
	archivePath := filepath.Join(store.dir, archiveDirName, store.archiveFileName(record))
	if err := store.write(archivePath, record); err != nil {
		return err
	}
	if err := os.Remove(store.recordPath(taskID)); err != nil {
		return fmt.Errorf("remove active record for %s: %w", taskID, err)
	}
	return nil
}

// archiveFileName disambiguates multiple archived attempts for one task.
func (store *Store) archiveFileName(record Record) string {
	return fmt.Sprintf("%s-%s.json", record.TaskID, record.ID)
}

// recordPath builds the active record path for a task.
func (store *Store) recordPath(taskID string) string {
	return filepath.Join(store.dir, taskID+".json")
}

// read loads and decodes one record file.
func (store *Store) read(path string, taskID string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, fault.NotFound("no workstream record for task %s", taskID)
		}
		return Record{}, fmt.Errorf("read workstream record %s: %w", path, err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decode workstream record %s: %w", path, err)
	}
	return record, nil
}

// write encodes and persists one record file.
func (store *Store) write(path string, record Record) error {
	if err := os.MkdirAll(filepath.Dir(path), stateDirMode); err != nil {
		return fmt.Errorf("create workstream directory %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workstream record %s: %w", path, err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, recordFileMode); err != nil {
		return fmt.Errorf("write workstream record %s: %w", path, err)
	}
	return nil
}

// list loads every record in a directory, sorted by task id.
func (store *Store) list(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workstream directory %s: %w", dir, err)
	}
	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read workstream record %s: %w", path, err)
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("decode workstream record %s: %w", path, err)
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].TaskID < records[j].TaskID
	})
	return records, nil
}
