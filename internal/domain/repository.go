package domain

import (
	"fmt"
	"strings"
	"time"
)

// Repository represents a GitHub repository discovered by a keyword search
type Repository struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	FullName        string         `json:"full_name"`
	HTMLURL         string         `json:"html_url"`
	Description     string         `json:"description"`
	Language        string         `json:"language"`
	StargazersCount int            `json:"stargazers_count"`
	ForksCount      int            `json:"forks_count"`
	OpenIssuesCount int            `json:"open_issues_count"`
	WatchersCount   int            `json:"watchers_count"`
	Size            int            `json:"size"` // KB, as reported by GitHub
	Topics          []string       `json:"topics"`
	Languages       map[string]int `json:"languages"` // bytes of code per language
	License         string         `json:"license"`
	DefaultBranch   string         `json:"default_branch"`
	Archived        bool           `json:"archived"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	PushedAt        time.Time      `json:"pushed_at"`
	MatchedKeyword  string         `json:"matched_keyword"`
}

// Validate checks the fields required to persist a repository
func (r *Repository) Validate() error {
	if r == nil {
		return fmt.Errorf("repository is nil")
	}
	if r.ID <= 0 {
		return fmt.Errorf("repository %q: missing id", r.FullName)
	}
	if r.FullName == "" {
		return fmt.Errorf("repository %d: missing full_name", r.ID)
	}
	return nil
}

// Owner returns the owner part of FullName
func (r *Repository) Owner() string {
	owner, _ := SplitFullName(r.FullName)
	return owner
}

// SplitFullName splits "owner/name" into its parts
func SplitFullName(fullName string) (owner, name string) {
	owner, name, _ = strings.Cut(fullName, "/")
	return owner, name
}
