// Package dataset loads the most recent collection output for the dashboard.
package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/sink"
)

// Dataset is the output of one collection run
type Dataset struct {
	RunTimestamp string
	Repositories []*domain.Repository
	Contributors []*domain.Contributor
}

// Source provides the dataset the dashboard serves
type Source interface {
	Latest(ctx context.Context) (*Dataset, error)
}

type dirSource struct {
	dir string
}

// NewDirSource reads CSV output from dir, always picking the newest run
func NewDirSource(dir string) Source {
	return &dirSource{dir: dir}
}

// Latest loads the newest run that has both detailed repository and contributor files
func (s *dirSource) Latest(_ context.Context) (*Dataset, error) {
	ts, err := LatestTimestamp(s.dir)
	if err != nil {
		return nil, err
	}

	repos, err := sink.ReadRepositories(sink.FilePath(s.dir, sink.DetailedRepositoriesPrefix, ts))
	if err != nil {
		return nil, apperrors.NewInternalError("read repositories", err)
	}
	contributors, err := sink.ReadContributors(sink.FilePath(s.dir, sink.ContributorsPrefix, ts))
	if err != nil {
		return nil, apperrors.NewInternalError("read contributors", err)
	}

	return &Dataset{RunTimestamp: ts, Repositories: repos, Contributors: contributors}, nil
}

// LatestTimestamp returns the newest run timestamp with a complete file set in dir
func LatestTimestamp(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", apperrors.NewNotFoundError("data directory " + dir)
	}
	if err != nil {
		return "", apperrors.NewInternalError("list data directory", err)
	}

	detailed := make(map[string]bool)
	contributors := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".csv")
		// the detailed prefix must be tried before the plain repositories prefix
		if ts, ok := strings.CutPrefix(base, sink.DetailedRepositoriesPrefix+"_"); ok {
			detailed[ts] = true
		} else if ts, ok := strings.CutPrefix(base, sink.ContributorsPrefix+"_"); ok {
			contributors[ts] = true
		}
	}

	var complete []string
	for ts := range detailed {
		if contributors[ts] {
			complete = append(complete, ts)
		}
	}
	if len(complete) == 0 {
		return "", apperrors.NewNotFoundError("data files in " + dir)
	}
	// "20060102_150405" sorts chronologically
	sort.Strings(complete)
	return complete[len(complete)-1], nil
}

type staticSource struct {
	ds *Dataset
}

// Static serves a fixed dataset
func Static(ds *Dataset) Source {
	return staticSource{ds: ds}
}

func (s staticSource) Latest(context.Context) (*Dataset, error) {
	if s.ds == nil {
		return nil, apperrors.NewNotFoundError("dataset")
	}
	return s.ds, nil
}
