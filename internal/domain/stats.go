package domain

// NameCount is a labelled count, e.g. a language and its repository count
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// RepositoryStars is a short repository entry for star rankings
type RepositoryStars struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Stars    int    `json:"stars"`
}

// ContributorFollowers is a short contributor entry for follower rankings
type ContributorFollowers struct {
	Username  string `json:"username"`
	Name      string `json:"name"`
	Followers int    `json:"followers"`
}

// DashboardStats represents aggregated statistics over a collected dataset
type DashboardStats struct {
	RunTimestamp            string                 `json:"run_timestamp"`
	TotalRepositories       int                    `json:"total_repositories"`
	TotalContributors       int                    `json:"total_contributors"`
	TopLanguages            []NameCount            `json:"top_languages"`
	TopTopics               []NameCount            `json:"top_topics"`
	RepositoriesByStars     []RepositoryStars      `json:"repositories_by_stars"`
	ContributorsByFollowers []ContributorFollowers `json:"contributors_by_followers"`
}

// DateCount is a count for one period, formatted "2006-01"
type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// CategoryCount is a count for one bucket of a distribution
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ExtendedStats adds timelines and distributions to DashboardStats
type ExtendedStats struct {
	DashboardStats
	ActivityTimeline []DateCount     `json:"activity_timeline"`
	SizeDistribution []CategoryCount `json:"size_distribution"`
	TopCompanies     []NameCount     `json:"top_companies"`
}

// MultiRepoContributor is a user who contributes to several collected repositories
type MultiRepoContributor struct {
	Username           string   `json:"username"`
	Name               string   `json:"name"`
	Repositories       []string `json:"repositories"`
	RepositoryCount    int      `json:"repository_count"`
	TotalContributions int      `json:"total_contributions"`
	Followers          int      `json:"followers"`
	Location           string   `json:"location"`
	Company            string   `json:"company"`
	HTMLURL            string   `json:"html_url"`
}

// LocationContributor is a contributor entry within a location group
type LocationContributor struct {
	Username      string `json:"username"`
	Name          string `json:"name"`
	Followers     int    `json:"followers"`
	Contributions int    `json:"contributions"`
	Repository    string `json:"repository"`
	HTMLURL       string `json:"html_url"`
}

// LocationGroup groups distinct contributors by profile location
type LocationGroup struct {
	Location     string                `json:"location"`
	Count        int                   `json:"count"`
	Contributors []LocationContributor `json:"contributors"`
}
