package domain

import "fmt"

// Contributor represents one user's contribution record for one repository.
// The same user contributing to two repositories yields two records.
type Contributor struct {
	ID              int64  `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Company         string `json:"company"`
	Location        string `json:"location"`
	Followers       int    `json:"followers"`
	PublicRepos     int    `json:"public_repos"`
	TwitterUsername string `json:"twitter_username"`
	HTMLURL         string `json:"html_url"`
	Repository      string `json:"repository"` // full_name of the repository
	RepositoryStars int    `json:"repository_stars"`
	Contributions   int    `json:"contributions"`
}

// Key returns the contributor's identity
func (c *Contributor) Key() ContributorKey {
	return ContributorKey{Username: c.Username, Repository: c.Repository}
}

// Validate checks the fields required to persist a contributor
func (c *Contributor) Validate() error {
	if c == nil {
		return fmt.Errorf("contributor is nil")
	}
	if c.Username == "" {
		return fmt.Errorf("contributor of %s: missing login", c.Repository)
	}
	if c.Repository == "" {
		return fmt.Errorf("contributor %s: missing repository", c.Username)
	}
	if c.Contributions < 0 {
		return fmt.Errorf("contributor %s: negative contributions %d", c.Username, c.Contributions)
	}
	return nil
}

// ApplyProfile copies user profile fields onto the contributor
func (c *Contributor) ApplyProfile(p *UserProfile) {
	if p == nil {
		return
	}
	c.Name = p.Name
	c.Email = p.Email
	c.Company = p.Company
	c.Location = p.Location
	c.Followers = p.Followers
	c.PublicRepos = p.PublicRepos
	c.TwitterUsername = p.TwitterUsername
	if p.HTMLURL != "" {
		c.HTMLURL = p.HTMLURL
	}
}

// ContributorKey identifies a contributor row
type ContributorKey struct {
	Username   string `json:"username"`
	Repository string `json:"repository"`
}

// UserProfile holds the public profile fields used to enrich contributors
type UserProfile struct {
	Login           string
	Name            string
	Email           string
	Company         string
	Location        string
	Followers       int
	PublicRepos     int
	TwitterUsername string
	HTMLURL         string
}
