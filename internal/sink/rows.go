package sink

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Output file name prefixes; files are named <prefix>_<run timestamp>.csv
const (
	RepositoriesPrefix         = "repositories"
	DetailedRepositoriesPrefix = "repositories_detailed"
	ContributorsPrefix         = "contributors"
)

var repositoryHeader = []string{
	"id", "name", "full_name", "html_url", "description",
	"stargazers_count", "language", "matched_keyword",
}

var detailedRepositoryHeader = []string{
	"id", "name", "full_name", "html_url", "description",
	"stargazers_count", "forks_count", "open_issues_count", "watchers_count",
	"language", "topics", "languages", "license", "default_branch", "archived", "size",
	"created_at", "updated_at", "pushed_at", "matched_keyword",
}

var contributorHeader = []string{
	"id", "username", "name", "email", "company", "location",
	"followers", "public_repos", "twitter_username", "html_url",
	"repository", "repository_stars", "contributions",
}

// FileName returns the output file name for prefix and run timestamp
func FileName(prefix, runTimestamp string) string {
	return fmt.Sprintf("%s_%s.csv", prefix, runTimestamp)
}

// FilePath returns the output file path inside dir
func FilePath(dir, prefix, runTimestamp string) string {
	return filepath.Join(dir, FileName(prefix, runTimestamp))
}

func repositoryRow(r *domain.Repository) []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Name,
		r.FullName,
		r.HTMLURL,
		r.Description,
		strconv.Itoa(r.StargazersCount),
		r.Language,
		r.MatchedKeyword,
	}
}

func detailedRepositoryRow(r *domain.Repository) []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Name,
		r.FullName,
		r.HTMLURL,
		r.Description,
		strconv.Itoa(r.StargazersCount),
		strconv.Itoa(r.ForksCount),
		strconv.Itoa(r.OpenIssuesCount),
		strconv.Itoa(r.WatchersCount),
		r.Language,
		EncodeTopics(r.Topics),
		EncodeLanguages(r.Languages),
		r.License,
		r.DefaultBranch,
		strconv.FormatBool(r.Archived),
		strconv.Itoa(r.Size),
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
		formatTime(r.PushedAt),
		r.MatchedKeyword,
	}
}

func contributorRow(c *domain.Contributor) []string {
	return []string{
		strconv.FormatInt(c.ID, 10),
		c.Username,
		c.Name,
		c.Email,
		c.Company,
		c.Location,
		strconv.Itoa(c.Followers),
		strconv.Itoa(c.PublicRepos),
		c.TwitterUsername,
		c.HTMLURL,
		c.Repository,
		strconv.Itoa(c.RepositoryStars),
		strconv.Itoa(c.Contributions),
	}
}

// fieldReader reads columns by header name, remembering the first parse error
type fieldReader struct {
	index map[string]int
	rec   []string
	err   error
}

func newFieldReader(header []string) *fieldReader {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	return &fieldReader{index: index}
}

func (f *fieldReader) str(name string) string {
	i, ok := f.index[name]
	if !ok || i >= len(f.rec) {
		return ""
	}
	return f.rec[i]
}

func (f *fieldReader) integer(name string) int {
	v := f.str(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("column %s: %w", name, err)
	}
	return n
}

func (f *fieldReader) id(name string) int64 {
	v := f.str(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("column %s: %w", name, err)
	}
	return n
}

func (f *fieldReader) boolean(name string) bool {
	b, _ := strconv.ParseBool(f.str(name))
	return b
}

func (f *fieldReader) timestamp(name string) time.Time {
	v := f.str(name)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("column %s: %w", name, err)
	}
	return t
}

func parseRepository(f *fieldReader) (*domain.Repository, error) {
	r := &domain.Repository{
		ID:              f.id("id"),
		Name:            f.str("name"),
		FullName:        f.str("full_name"),
		HTMLURL:         f.str("html_url"),
		Description:     f.str("description"),
		Language:        f.str("language"),
		StargazersCount: f.integer("stargazers_count"),
		ForksCount:      f.integer("forks_count"),
		OpenIssuesCount: f.integer("open_issues_count"),
		WatchersCount:   f.integer("watchers_count"),
		Size:            f.integer("size"),
		Topics:          DecodeTopics(f.str("topics")),
		Languages:       DecodeLanguages(f.str("languages")),
		License:         f.str("license"),
		DefaultBranch:   f.str("default_branch"),
		Archived:        f.boolean("archived"),
		CreatedAt:       f.timestamp("created_at"),
		UpdatedAt:       f.timestamp("updated_at"),
		PushedAt:        f.timestamp("pushed_at"),
		MatchedKeyword:  f.str("matched_keyword"),
	}
	if f.err != nil {
		return nil, f.err
	}
	return r, r.Validate()
}

func parseContributor(f *fieldReader) (*domain.Contributor, error) {
	c := &domain.Contributor{
		ID:              f.id("id"),
		Username:        f.str("username"),
		Name:            f.str("name"),
		Email:           f.str("email"),
		Company:         f.str("company"),
		Location:        f.str("location"),
		Followers:       f.integer("followers"),
		PublicRepos:     f.integer("public_repos"),
		TwitterUsername: f.str("twitter_username"),
		HTMLURL:         f.str("html_url"),
		Repository:      f.str("repository"),
		RepositoryStars: f.integer("repository_stars"),
		Contributions:   f.integer("contributions"),
	}
	if f.err != nil {
		return nil, f.err
	}
	return c, c.Validate()
}

// EncodeTopics writes topics as a JSON array
func EncodeTopics(topics []string) string {
	if len(topics) == 0 {
		return "[]"
	}
	b, err := json.Marshal(topics)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeTopics accepts a JSON array or a comma separated list
func DecodeTopics(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" || v == "[]" {
		return nil
	}
	if strings.HasPrefix(v, "[") {
		var topics []string
		if err := json.Unmarshal([]byte(v), &topics); err == nil {
			return topics
		}
	}
	var topics []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// EncodeLanguages writes the language breakdown as a JSON object
func EncodeLanguages(languages map[string]int) string {
	if len(languages) == 0 {
		return "{}"
	}
	b, err := json.Marshal(languages)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeLanguages reads a JSON object of bytes per language; anything else is empty
func DecodeLanguages(v string) map[string]int {
	v = strings.TrimSpace(v)
	if v == "" || v == "{}" {
		return nil
	}
	var languages map[string]int
	if err := json.Unmarshal([]byte(v), &languages); err != nil {
		return nil
	}
	return languages
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
