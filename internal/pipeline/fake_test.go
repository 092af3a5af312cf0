package pipeline_test

import (
	"context"
	"sync"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
)

// fakeCollector serves canned GitHub data and records the calls made
type fakeCollector struct {
	mu sync.Mutex

	results      map[string][]*domain.Repository // keyword -> all hits, best first
	repositories map[string]*domain.Repository   // full name -> details
	contributors map[string][]string             // full name -> logins
	users        map[string]*domain.UserProfile
	languages    map[string]map[string]int

	searchErr map[domain.SearchTask]error
	repoErr   map[string]error

	onSearch func(task domain.SearchTask)

	searchCalls      []domain.SearchTask
	repoCalls        map[string]int
	contributorCalls map[string]int
	userCalls        int
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{
		results:      make(map[string][]*domain.Repository),
		repositories: make(map[string]*domain.Repository),
		contributors: make(map[string][]string),
		users:        make(map[string]*domain.UserProfile),
		languages:    make(map[string]map[string]int),
		searchErr:    make(map[domain.SearchTask]error),
		repoErr:      make(map[string]error),

		repoCalls:        make(map[string]int),
		contributorCalls: make(map[string]int),
	}
}

// addRepository registers a repository returned by keyword searches
func (f *fakeCollector) addRepository(id int64, fullName string, stars int, logins []string, keywords ...string) {
	_, name := domain.SplitFullName(fullName)
	repo := &domain.Repository{ID: id, Name: name, FullName: fullName, StargazersCount: stars, Language: "Go"}
	f.repositories[fullName] = repo
	f.contributors[fullName] = logins
	for _, kw := range keywords {
		f.results[kw] = append(f.results[kw], repo)
	}
}

func (f *fakeCollector) SearchRepositories(_ context.Context, keyword string, page, perPage int) (*domain.SearchPage, error) {
	task := domain.SearchTask{Keyword: keyword, Page: page}

	f.mu.Lock()
	f.searchCalls = append(f.searchCalls, task)
	err := f.searchErr[task]
	hook := f.onSearch
	all := f.results[keyword]
	f.mu.Unlock()

	if hook != nil {
		hook(task)
	}
	if err != nil {
		return nil, err
	}

	out := &domain.SearchPage{Task: task, TotalCount: len(all)}
	start := (page - 1) * perPage
	for i := start; i < len(all) && i < start+perPage; i++ {
		hit := *all[i]
		hit.MatchedKeyword = keyword
		out.Repositories = append(out.Repositories, &hit)
	}
	out.Received = len(out.Repositories)
	return out, nil
}

func (f *fakeCollector) GetRepository(_ context.Context, fullName string) (*domain.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repoCalls[fullName]++
	if err := f.repoErr[fullName]; err != nil {
		return nil, err
	}
	repo, ok := f.repositories[fullName]
	if !ok {
		return nil, apperrors.NewNotFoundError("repository " + fullName)
	}
	out := *repo
	out.ForksCount = 3
	return &out, nil
}

func (f *fakeCollector) ListContributors(_ context.Context, fullName string, max int) ([]*domain.Contributor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contributorCalls[fullName]++
	var out []*domain.Contributor
	for i, login := range f.contributors[fullName] {
		if max > 0 && len(out) >= max {
			break
		}
		out = append(out, &domain.Contributor{
			ID:            int64(100 + i),
			Username:      login,
			Repository:    fullName,
			Contributions: 50 - i,
		})
	}
	return out, nil
}

func (f *fakeCollector) ListLanguages(_ context.Context, fullName string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.languages[fullName], nil
}

func (f *fakeCollector) GetUser(_ context.Context, login string) (*domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	profile, ok := f.users[login]
	if !ok {
		return nil, apperrors.NewNotFoundError("user " + login)
	}
	return profile, nil
}

func (f *fakeCollector) searches() []domain.SearchTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SearchTask(nil), f.searchCalls...)
}
