package sink_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/internal/sink"
)

const ts = "20240315_093005"

func sampleRepository(id int64, fullName string) *domain.Repository {
	owner, name := domain.SplitFullName(fullName)
	return &domain.Repository{
		ID:              id,
		Name:            name,
		FullName:        fullName,
		HTMLURL:         "https://github.com/" + owner + "/" + name,
		Description:     "line one\nline two, with \"quotes\"",
		Language:        "Go",
		StargazersCount: 1200,
		ForksCount:      30,
		Topics:          []string{"cli", "github"},
		Languages:       map[string]int{"Go": 52000, "Shell": 1200},
		License:         "MIT License",
		DefaultBranch:   "main",
		CreatedAt:       time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC),
		MatchedKeyword:  "foo",
	}
}

func sampleContributor(username, repo string) *domain.Contributor {
	return &domain.Contributor{
		ID:              7,
		Username:        username,
		Name:            strings.ToUpper(username),
		Location:        "Berlin",
		Followers:       10,
		Repository:      repo,
		RepositoryStars: 1200,
		Contributions:   42,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestCSVSink_AppendAndReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := sink.NewCSVSink(dir, ts, nil)
	require.NoError(t, err)
	require.NoError(t, s.AppendContributor(ctx, sampleContributor("alice", "acme/app")))
	require.NoError(t, s.AppendRepository(ctx, sampleRepository(1, "acme/app")))
	require.NoError(t, s.Close())

	for _, prefix := range []string{sink.RepositoriesPrefix, sink.DetailedRepositoriesPrefix, sink.ContributorsPrefix} {
		_, err := os.Stat(sink.FilePath(dir, prefix, ts))
		assert.NoError(t, err, prefix)
	}

	reopened, err := sink.NewCSVSink(dir, ts, nil)
	require.NoError(t, err)
	defer reopened.Close()

	keys, err := reopened.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys.RepositoryIDs, int64(1))
	assert.Contains(t, keys.Contributors, domain.ContributorKey{Username: "alice", Repository: "acme/app"})

	repos, err := sink.ReadRepositories(sink.FilePath(dir, sink.DetailedRepositoriesPrefix, ts))
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "line one\nline two, with \"quotes\"", repos[0].Description)
	assert.Equal(t, []string{"cli", "github"}, repos[0].Topics)
	assert.Equal(t, map[string]int{"Go": 52000, "Shell": 1200}, repos[0].Languages)
	assert.Equal(t, 30, repos[0].ForksCount)
	assert.True(t, repos[0].CreatedAt.Equal(time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)))

	contributors, err := sink.ReadContributors(sink.FilePath(dir, sink.ContributorsPrefix, ts))
	require.NoError(t, err)
	require.Len(t, contributors, 1)
	assert.Equal(t, "ALICE", contributors[0].Name)
	assert.Equal(t, 42, contributors[0].Contributions)
}

func TestCSVSink_DuplicatesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := sink.NewCSVSink(dir, ts, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AppendRepository(ctx, sampleRepository(1, "acme/app")))
	require.NoError(t, s.AppendRepository(ctx, sampleRepository(1, "acme/app")))
	require.NoError(t, s.AppendContributor(ctx, sampleContributor("alice", "acme/app")))
	require.NoError(t, s.AppendContributor(ctx, sampleContributor("alice", "acme/app")))
	require.NoError(t, s.AppendContributor(ctx, sampleContributor("alice", "acme/lib")))

	contributors, err := sink.ReadContributors(sink.FilePath(dir, sink.ContributorsPrefix, ts))
	require.NoError(t, err)
	assert.Len(t, contributors, 2)

	repos, err := sink.ReadRepositories(sink.FilePath(dir, sink.DetailedRepositoriesPrefix, ts))
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestCSVSink_TruncatesTornTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	path := sink.FilePath(dir, sink.ContributorsPrefix, ts)

	s, err := sink.NewCSVSink(dir, ts, nil)
	require.NoError(t, err)
	require.NoError(t, s.AppendContributor(ctx, sampleContributor("alice", "acme/app")))
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("8,bob,BOB,,,Par")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := sink.NewCSVSink(dir, ts, nil)
	require.NoError(t, err)
	keys, err := reopened.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys.Contributors, 1)
	assert.NotContains(t, keys.Contributors, domain.ContributorKey{Username: "bob", Repository: "acme/app"})

	require.NoError(t, reopened.AppendContributor(ctx, sampleContributor("bob", "acme/app")))
	require.NoError(t, reopened.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "7,bob,BOB,"))

	contributors, err := sink.ReadContributors(path)
	require.NoError(t, err)
	assert.Len(t, contributors, 2)
}

func TestCSVSink_TornRecordWithAllFieldsIsDropped(t *testing.T) {
	dir := t.TempDir()
	path := sink.FilePath(dir, sink.ContributorsPrefix, ts)

	s, err := sink.NewCSVSink(dir, ts, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	// Every column present but the final newline never made it to disk
	_, err = f.WriteString("8,bob,,,,,0,0,,,acme/app,5,4")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	contributors, err := sink.ReadContributors(path)
	require.NoError(t, err)
	assert.Empty(t, contributors)

	reopened, err := sink.NewCSVSink(dir, ts, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
	assert.Len(t, readLines(t, path), 1)
}

func TestCSVSink_SummarySkipsIDsAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	summary := sink.FilePath(dir, sink.RepositoriesPrefix, ts)

	// A crash after the summary write but before the detailed write
	require.NoError(t, os.WriteFile(summary, []byte(
		"id,name,full_name,html_url,description,stargazers_count,language,matched_keyword\n"+
			"1,app,acme/app,https://github.com/acme/app,,1200,Go,foo\n"), 0o644))

	s, err := sink.NewCSVSink(dir, ts, nil)
	require.NoError(t, err)

	keys, err := s.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys.RepositoryIDs, "only the detailed file marks a repository as written")

	require.NoError(t, s.AppendRepository(ctx, sampleRepository(1, "acme/app")))
	require.NoError(t, s.Close())

	assert.Len(t, readLines(t, summary), 2)
	repos, err := sink.ReadRepositories(sink.FilePath(dir, sink.DetailedRepositoriesPrefix, ts))
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestCSVSink_UnexpectedHeader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, sink.FileName(sink.ContributorsPrefix, ts)),
		[]byte("login,repo\nalice,acme/app\n"), 0o644))

	_, err := sink.NewCSVSink(dir, ts, nil)
	assert.ErrorContains(t, err, "unexpected header")
}

func TestCSVSink_RejectsInvalidRecords(t *testing.T) {
	s, err := sink.NewCSVSink(t.TempDir(), ts, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.AppendRepository(context.Background(), &domain.Repository{FullName: "acme/app"}))
	assert.Error(t, s.AppendContributor(context.Background(), &domain.Contributor{Repository: "acme/app"}))
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "[]", sink.EncodeTopics(nil))
	assert.Equal(t, `["a","b"]`, sink.EncodeTopics([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, sink.DecodeTopics(`["a","b"]`))
	assert.Equal(t, []string{"a", "b"}, sink.DecodeTopics("a, b"))
	assert.Nil(t, sink.DecodeTopics(""))
}

func TestLanguages(t *testing.T) {
	assert.Equal(t, "{}", sink.EncodeLanguages(nil))
	assert.Equal(t, `{"C":10,"Go":20}`, sink.EncodeLanguages(map[string]int{"Go": 20, "C": 10}))
	assert.Equal(t, map[string]int{"Go": 20}, sink.DecodeLanguages(`{"Go":20}`))
	assert.Nil(t, sink.DecodeLanguages(""))
	assert.Nil(t, sink.DecodeLanguages("Go, C"))
}

func TestNopSink(t *testing.T) {
	s := sink.NewNop()
	require.NoError(t, s.AppendRepository(context.Background(), sampleRepository(1, "acme/app")))
	keys, err := s.ExistingKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys.RepositoryIDs)
	assert.NoError(t, s.Close())
}
