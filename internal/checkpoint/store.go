// Package checkpoint persists collection progress so an interrupted run
// can resume where it stopped.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
	"github.com/kurihiro0119/github-contrib-collector/internal/metrics"
)

// TimestampLayout formats the run timestamp used in output file names
const TimestampLayout = "20060102_150405"

const stateVersion = 1

// State is the on-disk checkpoint document
type State struct {
	Version                int                     `json:"version"`
	RunID                  string                  `json:"run_id"`
	RunTimestamp           string                  `json:"run_timestamp"`
	CompletedTasks         []domain.SearchTask     `json:"completed_tasks"`
	ExhaustedKeywords      []string                `json:"exhausted_keywords"`
	ProcessedRepositoryIDs []int64                 `json:"processed_repository_ids"`
	ProcessedContributors  []domain.ContributorKey `json:"processed_contributors"`
	LastSavedAt            time.Time               `json:"last_saved_at"`
}

// Options configures a Store
type Options struct {
	// DryRun keeps the state in memory only
	DryRun  bool
	Logger  logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Store holds checkpoint state in memory and writes it atomically to path
type Store struct {
	path    string
	dryRun  bool
	log     logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu           sync.Mutex
	runID        string
	runTimestamp string
	tasks        map[domain.SearchTask]struct{}
	exhausted    map[string]struct{}
	repositories map[int64]struct{}
	contributors map[domain.ContributorKey]struct{}
	lastSavedAt  time.Time

	// serializes writers so an older snapshot never replaces a newer one
	flushMu sync.Mutex
}

// Load reads the checkpoint at path. A missing file yields a fresh state.
func Load(path string, opts Options) (*Store, error) {
	s := newStore(path, opts)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.reset()
		s.log.Info("No checkpoint found, starting a new run",
			logger.String("path", path),
			logger.String("run_id", s.runID),
		)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("checkpoint %s: unsupported version %d", path, state.Version)
	}
	if state.RunTimestamp == "" {
		return nil, fmt.Errorf("checkpoint %s: missing run_timestamp", path)
	}

	s.apply(state)
	s.log.Info("Resuming from checkpoint",
		logger.String("path", path),
		logger.String("run_id", s.runID),
		logger.Int("completed_tasks", len(s.tasks)),
		logger.Int("repositories", len(s.repositories)),
		logger.Int("contributors", len(s.contributors)),
	)
	return s, nil
}

// NewFresh starts a new run, ignoring any checkpoint already at path.
// The old file is replaced on the first flush.
func NewFresh(path string, opts Options) *Store {
	s := newStore(path, opts)
	s.reset()
	return s
}

func newStore(path string, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		path:    path,
		dryRun:  opts.DryRun,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

func (s *Store) reset() {
	s.runID = uuid.NewString()
	s.runTimestamp = s.now().Format(TimestampLayout)
	s.tasks = make(map[domain.SearchTask]struct{})
	s.exhausted = make(map[string]struct{})
	s.repositories = make(map[int64]struct{})
	s.contributors = make(map[domain.ContributorKey]struct{})
}

func (s *Store) apply(state State) {
	s.reset()
	if state.RunID != "" {
		s.runID = state.RunID
	}
	s.runTimestamp = state.RunTimestamp
	s.lastSavedAt = state.LastSavedAt
	for _, t := range state.CompletedTasks {
		s.tasks[t] = struct{}{}
	}
	for _, kw := range state.ExhaustedKeywords {
		s.exhausted[kw] = struct{}{}
	}
	for _, id := range state.ProcessedRepositoryIDs {
		s.repositories[id] = struct{}{}
	}
	for _, k := range state.ProcessedContributors {
		s.contributors[k] = struct{}{}
	}
}

// Path returns the checkpoint file location
func (s *Store) Path() string { return s.path }

// DryRun reports whether flushes are suppressed
func (s *Store) DryRun() bool { return s.dryRun }

// RunID returns the identifier of the run this checkpoint belongs to
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// RunTimestamp returns the timestamp that names the run's output files
func (s *Store) RunTimestamp() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runTimestamp
}

// RecordTaskDone marks a search page as completed
func (s *Store) RecordTaskDone(task domain.SearchTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task] = struct{}{}
}

// RecordPageDone marks a search page as completed and, when exhausted is
// set, its keyword as exhausted. Both land in the same snapshot.
func (s *Store) RecordPageDone(task domain.SearchTask, exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task] = struct{}{}
	if exhausted {
		s.exhausted[task.Keyword] = struct{}{}
	}
}

// IsTaskDone reports whether a search page was completed
func (s *Store) IsTaskDone(task domain.SearchTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[task]
	return ok
}

// RecordKeywordExhausted marks a keyword whose pagination has ended
func (s *Store) RecordKeywordExhausted(keyword string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhausted[keyword] = struct{}{}
}

// IsKeywordExhausted reports whether no more pages remain for keyword
func (s *Store) IsKeywordExhausted(keyword string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.exhausted[keyword]
	return ok
}

// RecordRepositoryDone marks a repository as processed and reports whether it was new
func (s *Store) RecordRepositoryDone(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repositories[id]; ok {
		return false
	}
	s.repositories[id] = struct{}{}
	return true
}

// RecordContributorDone marks a contributor record as written and reports whether it was new
func (s *Store) RecordContributorDone(key domain.ContributorKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contributors[key]; ok {
		return false
	}
	s.contributors[key] = struct{}{}
	return true
}

// Snapshot returns a copy of the current state with sets in a stable order
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	state := State{
		Version:                stateVersion,
		RunID:                  s.runID,
		RunTimestamp:           s.runTimestamp,
		CompletedTasks:         make([]domain.SearchTask, 0, len(s.tasks)),
		ExhaustedKeywords:      make([]string, 0, len(s.exhausted)),
		ProcessedRepositoryIDs: make([]int64, 0, len(s.repositories)),
		ProcessedContributors:  make([]domain.ContributorKey, 0, len(s.contributors)),
		LastSavedAt:            s.lastSavedAt,
	}
	for t := range s.tasks {
		state.CompletedTasks = append(state.CompletedTasks, t)
	}
	sort.Slice(state.CompletedTasks, func(i, j int) bool {
		a, b := state.CompletedTasks[i], state.CompletedTasks[j]
		if a.Keyword != b.Keyword {
			return a.Keyword < b.Keyword
		}
		return a.Page < b.Page
	})
	for kw := range s.exhausted {
		state.ExhaustedKeywords = append(state.ExhaustedKeywords, kw)
	}
	sort.Strings(state.ExhaustedKeywords)
	for id := range s.repositories {
		state.ProcessedRepositoryIDs = append(state.ProcessedRepositoryIDs, id)
	}
	sort.Slice(state.ProcessedRepositoryIDs, func(i, j int) bool {
		return state.ProcessedRepositoryIDs[i] < state.ProcessedRepositoryIDs[j]
	})
	for k := range s.contributors {
		state.ProcessedContributors = append(state.ProcessedContributors, k)
	}
	sort.Slice(state.ProcessedContributors, func(i, j int) bool {
		a, b := state.ProcessedContributors[i], state.ProcessedContributors[j]
		if a.Repository != b.Repository {
			return a.Repository < b.Repository
		}
		return a.Username < b.Username
	})
	return state
}

// Flush writes the state to disk atomically: a temp file in the same
// directory is written, synced and renamed over the checkpoint.
func (s *Store) Flush() error {
	if s.dryRun {
		return nil
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	s.lastSavedAt = s.now().UTC()
	state := s.snapshotLocked()
	s.mu.Unlock()

	err := writeAtomic(s.path, state)
	s.metrics.IncFlush(err == nil)
	if err != nil {
		return fmt.Errorf("flush checkpoint: %w", err)
	}
	s.log.Debug("Checkpoint saved",
		logger.String("path", s.path),
		logger.Int("completed_tasks", len(state.CompletedTasks)),
		logger.Int("repositories", len(state.ProcessedRepositoryIDs)),
		logger.Int("contributors", len(state.ProcessedContributors)),
	)
	return nil
}

func writeAtomic(path string, state State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err = enc.Encode(state); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}

	// Persist the rename itself; not every platform can sync a directory.
	if d, dirErr := os.Open(dir); dirErr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes one last time
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.Flush()
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.log.Error("Periodic checkpoint flush failed", logger.Err(err))
			}
		}
	}
}
