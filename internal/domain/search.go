package domain

import "fmt"

// SearchTask is one (keyword, page) unit of search work
type SearchTask struct {
	Keyword string `json:"keyword"`
	Page    int    `json:"page"`
}

func (t SearchTask) String() string {
	return fmt.Sprintf("%q page %d", t.Keyword, t.Page)
}

// SearchPage is one page of repository search results
type SearchPage struct {
	Task         SearchTask
	TotalCount   int
	Incomplete   bool
	Repositories []*Repository
	// Received is the number of items the API returned, including
	// malformed ones that were dropped from Repositories.
	Received int
}
