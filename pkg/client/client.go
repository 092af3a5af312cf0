package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Client is the API client for the collector dashboard
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-200 response from the dashboard
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
}

// RepositoryList is one page of repositories
type RepositoryList struct {
	Data       []*domain.Repository `json:"data"`
	Pagination domain.Pagination    `json:"pagination"`
}

// ContributorList is one page of contributor records
type ContributorList struct {
	Data       []*domain.Contributor `json:"data"`
	Pagination domain.Pagination     `json:"pagination"`
}

// GetRepositories retrieves a filtered page of repositories
func (c *Client) GetRepositories(ctx context.Context, filter domain.RepositoryFilter) (*RepositoryList, error) {
	params := url.Values{}
	setString(params, "keyword", filter.Keyword)
	setString(params, "language", filter.Language)
	setInt(params, "min_stars", filter.MinStars)
	setString(params, "sort", filter.Sort)
	setString(params, "order", string(filter.Order))
	setInt(params, "page", filter.Page)
	setInt(params, "limit", filter.Limit)

	var response RepositoryList
	if err := c.get(ctx, "/api/v1/repositories", params, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetContributors retrieves a filtered page of contributor records
func (c *Client) GetContributors(ctx context.Context, filter domain.ContributorFilter) (*ContributorList, error) {
	params := url.Values{}
	setString(params, "username", filter.Username)
	setString(params, "repository", filter.Repository)
	setInt(params, "min_contributions", filter.MinContributions)
	setInt(params, "min_followers", filter.MinFollowers)
	setString(params, "sort", filter.Sort)
	setString(params, "order", string(filter.Order))
	setInt(params, "page", filter.Page)
	setInt(params, "limit", filter.Limit)

	var response ContributorList
	if err := c.get(ctx, "/api/v1/contributors", params, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetStats retrieves dashboard statistics
func (c *Client) GetStats(ctx context.Context) (*domain.DashboardStats, error) {
	var response struct {
		Data *domain.DashboardStats `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/stats", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetExtendedStats retrieves statistics with timelines and distributions
func (c *Client) GetExtendedStats(ctx context.Context) (*domain.ExtendedStats, error) {
	var response struct {
		Data *domain.ExtendedStats `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/stats/extended", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetMultiRepoContributors retrieves users contributing to at least minRepos repositories
func (c *Client) GetMultiRepoContributors(ctx context.Context, minRepos int) ([]*domain.MultiRepoContributor, error) {
	params := url.Values{}
	setInt(params, "min_repos", minRepos)

	var response struct {
		Data []*domain.MultiRepoContributor `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/contributors/multi-repo", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetContributorsByLocation retrieves contributors grouped by location
func (c *Client) GetContributorsByLocation(ctx context.Context) ([]*domain.LocationGroup, error) {
	var response struct {
		Data []*domain.LocationGroup `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/contributors/by-location", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func setString(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

func setInt(params url.Values, key string, value int) {
	if value > 0 {
		params.Set(key, strconv.Itoa(value))
	}
}

// get performs a GET request and decodes the JSON response into result
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
