package domain

// SortOrder is the direction of a listing
type SortOrder string

const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

// Pagination describes one page of a listing
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes the page metadata for total items
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// Bounds returns the slice bounds of the page within total items
func (p Pagination) Bounds() (start, end int) {
	start = (p.Page - 1) * p.Limit
	if start > p.Total {
		start = p.Total
	}
	end = start + p.Limit
	if end > p.Total {
		end = p.Total
	}
	return start, end
}

// RepositoryFilter selects repositories from a dataset
type RepositoryFilter struct {
	Keyword  string // substring of name, description or matched keyword
	Language string // exact, case-insensitive
	MinStars int
	Sort     string // stars, forks, name, created_at, updated_at
	Order    SortOrder
	Page     int
	Limit    int
}

// ContributorFilter selects contributor records from a dataset
type ContributorFilter struct {
	Username         string // substring
	Repository       string // substring of full_name
	MinContributions int
	MinFollowers     int
	Sort             string // contributions, followers, username
	Order            SortOrder
	Page             int
	Limit            int
}

// RepositoryPage is one page of a repository listing
type RepositoryPage struct {
	Repositories []*Repository
	Pagination   Pagination
}

// ContributorPage is one page of a contributor listing
type ContributorPage struct {
	Contributors []*Contributor
	Pagination   Pagination
}
