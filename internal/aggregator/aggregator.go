package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kurihiro0119/github-contrib-collector/internal/dataset"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
)

const (
	topN         = 10
	defaultLimit = 100
	maxLimit     = 1000
)

// Aggregator defines the interface for querying a collected dataset
type Aggregator interface {
	// ListRepositories filters, sorts and paginates repositories
	ListRepositories(ctx context.Context, filter domain.RepositoryFilter) (*domain.RepositoryPage, error)

	// ListContributors filters, sorts and paginates contributor records
	ListContributors(ctx context.Context, filter domain.ContributorFilter) (*domain.ContributorPage, error)

	// Stats aggregates totals and top-10 rankings
	Stats(ctx context.Context) (*domain.DashboardStats, error)

	// ExtendedStats adds the creation timeline, size distribution and top companies
	ExtendedStats(ctx context.Context) (*domain.ExtendedStats, error)

	// MultiRepoContributors returns users contributing to at least minRepos repositories
	MultiRepoContributors(ctx context.Context, minRepos int) ([]*domain.MultiRepoContributor, error)

	// ContributorsByLocation groups distinct users by profile location
	ContributorsByLocation(ctx context.Context) ([]*domain.LocationGroup, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	source dataset.Source
}

// NewAggregator creates a new aggregator
func NewAggregator(source dataset.Source) Aggregator {
	return &aggregator{
		source: source,
	}
}

// ListRepositories filters, sorts and paginates repositories
func (a *aggregator) ListRepositories(ctx context.Context, filter domain.RepositoryFilter) (*domain.RepositoryPage, error) {
	less, err := repositoryOrder(filter.Sort, filter.Order)
	if err != nil {
		return nil, err
	}
	ds, err := a.source.Latest(ctx)
	if err != nil {
		return nil, err
	}

	keyword := strings.ToLower(filter.Keyword)
	var matched []*domain.Repository
	for _, r := range ds.Repositories {
		if keyword != "" &&
			!strings.Contains(strings.ToLower(r.Name), keyword) &&
			!strings.Contains(strings.ToLower(r.Description), keyword) &&
			!strings.Contains(strings.ToLower(r.MatchedKeyword), keyword) {
			continue
		}
		if filter.Language != "" && !strings.EqualFold(filter.Language, r.Language) {
			continue
		}
		if r.StargazersCount < filter.MinStars {
			continue
		}
		matched = append(matched, r)
	}

	sort.SliceStable(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	p := paginate(filter.Page, filter.Limit, len(matched))
	start, end := p.Bounds()
	return &domain.RepositoryPage{Repositories: matched[start:end], Pagination: p}, nil
}

// ListContributors filters, sorts and paginates contributor records
func (a *aggregator) ListContributors(ctx context.Context, filter domain.ContributorFilter) (*domain.ContributorPage, error) {
	less, err := contributorOrder(filter.Sort, filter.Order)
	if err != nil {
		return nil, err
	}
	ds, err := a.source.Latest(ctx)
	if err != nil {
		return nil, err
	}

	username := strings.ToLower(filter.Username)
	repository := strings.ToLower(filter.Repository)
	var matched []*domain.Contributor
	for _, c := range ds.Contributors {
		if username != "" && !strings.Contains(strings.ToLower(c.Username), username) {
			continue
		}
		if repository != "" && !strings.Contains(strings.ToLower(c.Repository), repository) {
			continue
		}
		if c.Contributions < filter.MinContributions || c.Followers < filter.MinFollowers {
			continue
		}
		matched = append(matched, c)
	}

	sort.SliceStable(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	p := paginate(filter.Page, filter.Limit, len(matched))
	start, end := p.Bounds()
	return &domain.ContributorPage{Contributors: matched[start:end], Pagination: p}, nil
}

// Stats aggregates totals and top-10 rankings
func (a *aggregator) Stats(ctx context.Context) (*domain.DashboardStats, error) {
	ds, err := a.source.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return buildStats(ds), nil
}

func buildStats(ds *dataset.Dataset) *domain.DashboardStats {
	stats := &domain.DashboardStats{RunTimestamp: ds.RunTimestamp}

	repoIDs := make(map[int64]bool)
	languages := make(map[string]int)
	topics := make(map[string]int)
	for _, r := range ds.Repositories {
		repoIDs[r.ID] = true
		if r.Language != "" {
			languages[r.Language]++
		}
		for _, t := range r.Topics {
			topics[t]++
		}
	}
	stats.TotalRepositories = len(repoIDs)
	stats.TopLanguages = topCounts(languages, topN)
	stats.TopTopics = topCounts(topics, topN)

	byStars := append([]*domain.Repository(nil), ds.Repositories...)
	sort.SliceStable(byStars, func(i, j int) bool { return byStars[i].StargazersCount > byStars[j].StargazersCount })
	stats.RepositoriesByStars = []domain.RepositoryStars{}
	for _, r := range byStars[:min(topN, len(byStars))] {
		stats.RepositoriesByStars = append(stats.RepositoriesByStars, domain.RepositoryStars{
			Name:     r.Name,
			FullName: r.FullName,
			Stars:    r.StargazersCount,
		})
	}

	// One entry per user; records of the same user share profile data.
	users := make(map[string]*domain.Contributor)
	var order []string
	for _, c := range ds.Contributors {
		if _, ok := users[c.Username]; !ok {
			users[c.Username] = c
			order = append(order, c.Username)
		}
	}
	stats.TotalContributors = len(users)

	sort.SliceStable(order, func(i, j int) bool { return users[order[i]].Followers > users[order[j]].Followers })
	stats.ContributorsByFollowers = []domain.ContributorFollowers{}
	for _, name := range order[:min(topN, len(order))] {
		c := users[name]
		stats.ContributorsByFollowers = append(stats.ContributorsByFollowers, domain.ContributorFollowers{
			Username:  c.Username,
			Name:      c.Name,
			Followers: c.Followers,
		})
	}

	return stats
}

// ExtendedStats adds the creation timeline, size distribution and top companies
func (a *aggregator) ExtendedStats(ctx context.Context) (*domain.ExtendedStats, error) {
	ds, err := a.source.Latest(ctx)
	if err != nil {
		return nil, err
	}

	ext := &domain.ExtendedStats{DashboardStats: *buildStats(ds)}

	timeline := make(map[string]int)
	sizes := []domain.CategoryCount{
		{Category: "Small (<1MB)"},
		{Category: "Medium (1-10MB)"},
		{Category: "Large (10-100MB)"},
		{Category: "Very Large (>100MB)"},
	}
	for _, r := range ds.Repositories {
		if !r.CreatedAt.IsZero() {
			timeline[r.CreatedAt.UTC().Format("2006-01")]++
		}
		sizes[sizeBucket(r.Size)].Count++
	}

	ext.ActivityTimeline = []domain.DateCount{}
	for date, count := range timeline {
		ext.ActivityTimeline = append(ext.ActivityTimeline, domain.DateCount{Date: date, Count: count})
	}
	sort.Slice(ext.ActivityTimeline, func(i, j int) bool { return ext.ActivityTimeline[i].Date < ext.ActivityTimeline[j].Date })
	ext.SizeDistribution = sizes

	companies := make(map[string]int)
	for _, c := range ds.Contributors {
		if company := strings.TrimSpace(c.Company); isKnown(company) {
			companies[company]++
		}
	}
	ext.TopCompanies = topCounts(companies, topN)

	return ext, nil
}

// sizeBucket maps a size in KB to its index in the size distribution
func sizeBucket(kb int) int {
	mb := float64(kb) / 1024
	switch {
	case mb < 1:
		return 0
	case mb < 10:
		return 1
	case mb < 100:
		return 2
	default:
		return 3
	}
}

// MultiRepoContributors returns users contributing to at least minRepos repositories
func (a *aggregator) MultiRepoContributors(ctx context.Context, minRepos int) ([]*domain.MultiRepoContributor, error) {
	if minRepos < 1 {
		return nil, apperrors.NewBadRequestError("min_repos must be at least 1")
	}
	ds, err := a.source.Latest(ctx)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*domain.MultiRepoContributor)
	var order []string
	for _, c := range ds.Contributors {
		m, ok := byUser[c.Username]
		if !ok {
			m = &domain.MultiRepoContributor{
				Username:  c.Username,
				Name:      c.Name,
				Followers: c.Followers,
				Location:  c.Location,
				Company:   c.Company,
				HTMLURL:   c.HTMLURL,
			}
			byUser[c.Username] = m
			order = append(order, c.Username)
		}
		if !containsString(m.Repositories, c.Repository) {
			m.Repositories = append(m.Repositories, c.Repository)
		}
		m.TotalContributions += c.Contributions
	}

	result := []*domain.MultiRepoContributor{}
	for _, name := range order {
		m := byUser[name]
		m.RepositoryCount = len(m.Repositories)
		if m.RepositoryCount >= minRepos {
			result = append(result, m)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].RepositoryCount != result[j].RepositoryCount {
			return result[i].RepositoryCount > result[j].RepositoryCount
		}
		return result[i].TotalContributions > result[j].TotalContributions
	})
	return result, nil
}

// ContributorsByLocation groups distinct users by profile location
func (a *aggregator) ContributorsByLocation(ctx context.Context) ([]*domain.LocationGroup, error) {
	ds, err := a.source.Latest(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*domain.LocationGroup)
	seen := make(map[string]map[string]bool)
	var order []string
	for _, c := range ds.Contributors {
		location := strings.TrimSpace(c.Location)
		if !isKnown(location) {
			location = "Unknown"
		}
		g, ok := groups[location]
		if !ok {
			g = &domain.LocationGroup{Location: location, Contributors: []domain.LocationContributor{}}
			groups[location] = g
			seen[location] = make(map[string]bool)
			order = append(order, location)
		}
		if seen[location][c.Username] {
			continue
		}
		seen[location][c.Username] = true
		g.Count++
		g.Contributors = append(g.Contributors, domain.LocationContributor{
			Username:      c.Username,
			Name:          c.Name,
			Followers:     c.Followers,
			Contributions: c.Contributions,
			Repository:    c.Repository,
			HTMLURL:       c.HTMLURL,
		})
	}

	result := make([]*domain.LocationGroup, 0, len(order))
	for _, location := range order {
		result = append(result, groups[location])
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Count > result[j].Count })
	return result, nil
}

func repositoryOrder(field string, order domain.SortOrder) (func(a, b *domain.Repository) bool, error) {
	var less func(a, b *domain.Repository) bool
	switch field {
	case "", "stars":
		less = func(a, b *domain.Repository) bool { return a.StargazersCount < b.StargazersCount }
	case "forks":
		less = func(a, b *domain.Repository) bool { return a.ForksCount < b.ForksCount }
	case "name":
		less = func(a, b *domain.Repository) bool { return strings.ToLower(a.FullName) < strings.ToLower(b.FullName) }
	case "created_at":
		less = func(a, b *domain.Repository) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "updated_at":
		less = func(a, b *domain.Repository) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	default:
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("unknown sort field %q", field))
	}
	return applyOrder(less, order)
}

func contributorOrder(field string, order domain.SortOrder) (func(a, b *domain.Contributor) bool, error) {
	var less func(a, b *domain.Contributor) bool
	switch field {
	case "", "contributions":
		less = func(a, b *domain.Contributor) bool { return a.Contributions < b.Contributions }
	case "followers":
		less = func(a, b *domain.Contributor) bool { return a.Followers < b.Followers }
	case "username":
		less = func(a, b *domain.Contributor) bool { return strings.ToLower(a.Username) < strings.ToLower(b.Username) }
	default:
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("unknown sort field %q", field))
	}
	return applyOrder(less, order)
}

func applyOrder[T any](less func(a, b T) bool, order domain.SortOrder) (func(a, b T) bool, error) {
	switch order {
	case "", domain.SortDesc:
		return func(a, b T) bool { return less(b, a) }, nil
	case domain.SortAsc:
		return less, nil
	default:
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("unknown sort order %q", order))
	}
}

func paginate(page, limit, total int) domain.Pagination {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return domain.NewPagination(page, limit, total)
}

// topCounts returns the n largest counts, ties broken by name
func topCounts(counts map[string]int, n int) []domain.NameCount {
	out := make([]domain.NameCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, domain.NameCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// isKnown reports whether a free-text profile field carries a value
func isKnown(v string) bool {
	switch strings.ToLower(v) {
	case "", "null", "none", "unknown":
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
