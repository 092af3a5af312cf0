// Package dedup tracks which repositories and contributor records have
// already been written during a run.
package dedup

import (
	"sync"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Index is a concurrency-safe, grow-only set of processed keys.
// The only removal is ReleaseRepository, which drops an unfinished claim.
type Index struct {
	mu           sync.Mutex
	repositories map[int64]struct{}
	claimed      map[int64]struct{}
	contributors map[domain.ContributorKey]struct{}
}

// New creates an empty index
func New() *Index {
	return &Index{
		repositories: make(map[int64]struct{}),
		claimed:      make(map[int64]struct{}),
		contributors: make(map[domain.ContributorKey]struct{}),
	}
}

// HasRepository reports whether the repository has been fully processed
func (i *Index) HasRepository(id int64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.repositories[id]
	return ok
}

// MarkRepository records the repository as processed and drops any claim on it
func (i *Index) MarkRepository(id int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.repositories[id] = struct{}{}
	delete(i.claimed, id)
}

// TryClaimRepository atomically checks that the repository is neither
// processed nor claimed by another worker, and claims it.
func (i *Index) TryClaimRepository(id int64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.repositories[id]; ok {
		return false
	}
	if _, ok := i.claimed[id]; ok {
		return false
	}
	i.claimed[id] = struct{}{}
	return true
}

// ReleaseRepository drops a claim whose expansion did not finish
func (i *Index) ReleaseRepository(id int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.claimed, id)
}

// HasContributor reports whether the contributor record has been written
func (i *Index) HasContributor(key domain.ContributorKey) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.contributors[key]
	return ok
}

// MarkContributor records the contributor record as written
func (i *Index) MarkContributor(key domain.ContributorKey) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.contributors[key] = struct{}{}
}

// Counts returns the number of processed repositories and contributor records
func (i *Index) Counts() (repositories, contributors int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.repositories), len(i.contributors)
}
