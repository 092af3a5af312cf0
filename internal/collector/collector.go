package collector

import (
	"context"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Collector defines the interface for fetching GitHub data.
//
// Errors carry an internal/errors code: NotFound (skip the entity),
// Transient (retries exhausted, try again on a later run) or Fatal
// (bad credential or request, abort). Quota exhaustion is handled
// internally by sleeping and is never returned unless it persists.
type Collector interface {
	// SearchRepositories returns one page of repositories matching keyword
	SearchRepositories(ctx context.Context, keyword string, page, perPage int) (*domain.SearchPage, error)

	// GetRepository retrieves repository details by "owner/name"
	GetRepository(ctx context.Context, fullName string) (*domain.Repository, error)

	// ListContributors follows the contributor list to exhaustion, or to max entries when max > 0
	ListContributors(ctx context.Context, fullName string, max int) ([]*domain.Contributor, error)

	// ListLanguages returns bytes of code per language
	ListLanguages(ctx context.Context, fullName string) (map[string]int, error)

	// GetUser retrieves a user's public profile
	GetUser(ctx context.Context, login string) (*domain.UserProfile, error)
}
