package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
	"github.com/kurihiro0119/github-contrib-collector/internal/metrics"
)

// Options configures the GitHub collector
type Options struct {
	Token   string
	BaseURL string // empty means https://api.github.com/

	Qualifier string // extra search qualifier, e.g. "in:description"
	MinStars  int

	MaxAttempts  int           // attempts per call for network and 5xx failures
	BackoffBase  time.Duration // first backoff interval
	RateCooldown time.Duration // quota wait when a 403/429 carries no reset time
	MinInterval  time.Duration // minimum spacing between requests

	Clock      Clock
	HTTPClient *http.Client // base transport under the oauth2 client
	Logger     logger.Logger
	Metrics    *metrics.Metrics
}

// githubCollector implements Collector using GitHub API
type githubCollector struct {
	client       *github.Client
	rateLimiter  RateLimiter
	clock        Clock
	log          logger.Logger
	metrics      *metrics.Metrics
	qualifier    string
	minStars     int
	maxAttempts  int
	backoffBase  time.Duration
	rateCooldown time.Duration
}

// NewGitHubCollector creates a new GitHub collector
func NewGitHubCollector(opts Options) (Collector, error) {
	ctx := context.Background()
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: opts.Token},
	)
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)

	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, apperrors.NewFatalError("invalid GitHub API URL", err)
		}
		client.BaseURL = u
	}

	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.RateCooldown <= 0 {
		opts.RateCooldown = time.Minute
	}

	return &githubCollector{
		client:       client,
		rateLimiter:  NewRateLimiter(opts.Clock, opts.MinInterval, opts.Logger, opts.Metrics),
		clock:        opts.Clock,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		qualifier:    opts.Qualifier,
		minStars:     opts.MinStars,
		maxAttempts:  opts.MaxAttempts,
		backoffBase:  opts.BackoffBase,
		rateCooldown: opts.RateCooldown,
	}, nil
}

// SearchRepositories retrieves one page of search results for keyword
func (c *githubCollector) SearchRepositories(ctx context.Context, keyword string, page, perPage int) (*domain.SearchPage, error) {
	task := domain.SearchTask{Keyword: keyword, Page: page}
	opts := &github.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	query := c.searchQuery(keyword)

	var result *github.RepositoriesSearchResult
	err := c.call(ctx, BucketSearch, "search "+task.String(), func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		result, resp, err = c.client.Search.Repositories(ctx, query, opts)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := &domain.SearchPage{
		Task:       task,
		TotalCount: result.GetTotal(),
		Incomplete: result.GetIncompleteResults(),
		Received:   len(result.Repositories),
	}
	for _, r := range result.Repositories {
		repo := toRepository(r)
		repo.MatchedKeyword = keyword
		if err := repo.Validate(); err != nil {
			c.log.Warn("Skipping malformed search result", logger.String("task", task.String()), logger.Err(err))
			continue
		}
		out.Repositories = append(out.Repositories, repo)
	}
	return out, nil
}

// GetRepository retrieves repository details
func (c *githubCollector) GetRepository(ctx context.Context, fullName string) (*domain.Repository, error) {
	owner, name := domain.SplitFullName(fullName)
	if owner == "" || name == "" {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("invalid repository name %q", fullName))
	}

	var repo *github.Repository
	err := c.call(ctx, BucketCore, "repository "+fullName, func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		repo, resp, err = c.client.Repositories.Get(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := toRepository(repo)
	if err := out.Validate(); err != nil {
		return nil, apperrors.NewBadRequestError(err.Error())
	}
	return out, nil
}

// ListContributors retrieves contributors for a repository
func (c *githubCollector) ListContributors(ctx context.Context, fullName string, max int) ([]*domain.Contributor, error) {
	owner, name := domain.SplitFullName(fullName)
	if owner == "" || name == "" {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("invalid repository name %q", fullName))
	}

	var all []*domain.Contributor
	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		var contributors []*github.Contributor
		var nextPage int
		err := c.call(ctx, BucketCore, "contributors of "+fullName, func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			contributors, resp, err = c.client.Repositories.ListContributors(ctx, owner, name, opts)
			if resp != nil {
				nextPage = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, gc := range contributors {
			contributor := &domain.Contributor{
				ID:            gc.GetID(),
				Username:      gc.GetLogin(),
				HTMLURL:       gc.GetHTMLURL(),
				Repository:    fullName,
				Contributions: gc.GetContributions(),
			}
			if err := contributor.Validate(); err != nil {
				c.log.Warn("Skipping malformed contributor", logger.String("repository", fullName), logger.Err(err))
				continue
			}
			all = append(all, contributor)
			if max > 0 && len(all) >= max {
				return all, nil
			}
		}

		if nextPage == 0 {
			break
		}
		opts.Page = nextPage
	}

	return all, nil
}

// ListLanguages retrieves the repository's language breakdown in bytes of code
func (c *githubCollector) ListLanguages(ctx context.Context, fullName string) (map[string]int, error) {
	owner, name := domain.SplitFullName(fullName)
	if owner == "" || name == "" {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("invalid repository name %q", fullName))
	}

	var languages map[string]int
	err := c.call(ctx, BucketCore, "languages of "+fullName, func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		languages, resp, err = c.client.Repositories.ListLanguages(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return languages, nil
}

// GetUser retrieves a user's public profile
func (c *githubCollector) GetUser(ctx context.Context, login string) (*domain.UserProfile, error) {
	var user *github.User
	err := c.call(ctx, BucketCore, "user "+login, func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		user, resp, err = c.client.Users.Get(ctx, login)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	return &domain.UserProfile{
		Login:           user.GetLogin(),
		Name:            user.GetName(),
		Email:           user.GetEmail(),
		Company:         user.GetCompany(),
		Location:        user.GetLocation(),
		Followers:       user.GetFollowers(),
		PublicRepos:     user.GetPublicRepos(),
		TwitterUsername: user.GetTwitterUsername(),
		HTMLURL:         user.GetHTMLURL(),
	}, nil
}

func (c *githubCollector) searchQuery(keyword string) string {
	parts := []string{keyword}
	if c.qualifier != "" {
		parts = append(parts, c.qualifier)
	}
	if c.minStars > 0 {
		parts = append(parts, fmt.Sprintf("stars:>=%d", c.minStars))
	}
	return strings.Join(parts, " ")
}

type failureKind int

const (
	failureTransient failureKind = iota
	failureRateLimited
	failureNotFound
	failureFatal
)

// call issues one API request through the rate limiter.
//
// Quota exhaustion sleeps until reset and retries once. Network and 5xx
// failures are retried with exponential backoff up to maxAttempts. The
// request itself runs on a context without cancellation so a shutdown
// signal never cuts off a response mid-flight; waits stay cancellable.
func (c *githubCollector) call(ctx context.Context, bucket, what string, fn func(context.Context) (*github.Response, error)) error {
	retriedRateLimit := false

	operation := func() error {
		for {
			if err := c.rateLimiter.Wait(ctx, bucket); err != nil {
				return backoff.Permanent(err)
			}

			resp, err := fn(context.WithoutCancel(ctx))
			c.updateRateLimitFromResponse(bucket, resp)
			if err == nil {
				return nil
			}

			kind, reset := c.classify(resp, err)
			switch kind {
			case failureRateLimited:
				if retriedRateLimit {
					return backoff.Permanent(apperrors.NewTransientError(what+": rate limit still exceeded after waiting", err))
				}
				retriedRateLimit = true
				c.rateLimiter.Exhaust(bucket, reset)
				continue
			case failureNotFound:
				return backoff.Permanent(apperrors.NewNotFoundError(what))
			case failureFatal:
				return backoff.Permanent(apperrors.NewFatalError(what, err))
			default:
				c.log.Warn("GitHub request failed, retrying",
					logger.String("request", what),
					logger.Err(err),
				)
				return err
			}
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffBase
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	timer := &clockTimer{clock: c.clock}
	err := backoff.RetryNotifyWithTimer(operation, policy, nil, timer)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	if apperrors.CodeOf(err) != "" {
		return err
	}
	return apperrors.NewTransientError(fmt.Sprintf("%s: giving up after %d attempts", what, c.maxAttempts), err)
}

// classify maps a failed response to a failure kind. For rate limiting it
// also returns the time at which the quota is expected back.
func (c *githubCollector) classify(resp *github.Response, err error) (failureKind, time.Time) {
	now := c.clock.Now()

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return failureRateLimited, c.resetOrCooldown(rateErr.Rate.Reset.Time, now)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		if abuseErr.RetryAfter != nil {
			return failureRateLimited, now.Add(*abuseErr.RetryAfter)
		}
		return failureRateLimited, now.Add(c.rateCooldown)
	}

	if resp == nil || resp.Response == nil {
		return failureTransient, time.Time{}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		return failureFatal, time.Time{}
	case code == http.StatusForbidden || code == http.StatusTooManyRequests:
		if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
			return failureRateLimited, now.Add(retryAfter)
		}
		if code == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") != "" &&
			resp.Rate.Remaining > 0 && !mentionsRateLimit(err) {
			// Quota left: access to this entity is refused, not throttled.
			return failureNotFound, time.Time{}
		}
		return failureRateLimited, c.resetOrCooldown(resp.Rate.Reset.Time, now)
	case code == http.StatusNotFound, code == http.StatusGone,
		code == http.StatusUnavailableForLegalReasons, code == http.StatusUnprocessableEntity:
		return failureNotFound, time.Time{}
	case code >= 400 && code < 500:
		return failureFatal, time.Time{}
	default:
		return failureTransient, time.Time{}
	}
}

func (c *githubCollector) resetOrCooldown(reset, now time.Time) time.Time {
	if reset.After(now) {
		return reset
	}
	return now.Add(c.rateCooldown)
}

// mentionsRateLimit reports whether the error body says the request was throttled.
// GitHub's secondary limits answer 403 while the primary quota headers still show calls left.
func mentionsRateLimit(err error) bool {
	var errResp *github.ErrorResponse
	if !errors.As(err, &errResp) {
		return false
	}
	msg := strings.ToLower(errResp.Message)
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "abuse")
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// updateRateLimitFromResponse updates the rate limiter from API response
func (c *githubCollector) updateRateLimitFromResponse(bucket string, resp *github.Response) {
	if resp == nil || resp.Response == nil {
		return
	}
	c.metrics.ObserveRequest(bucket, resp.StatusCode)
	// go-github reports zero values when the headers are absent
	if resp.Header.Get("X-RateLimit-Remaining") == "" {
		return
	}
	c.rateLimiter.UpdateLimit(bucket, resp.Rate.Remaining, resp.Rate.Reset.Time)
}

func toRepository(r *github.Repository) *domain.Repository {
	return &domain.Repository{
		ID:              r.GetID(),
		Name:            r.GetName(),
		FullName:        r.GetFullName(),
		HTMLURL:         r.GetHTMLURL(),
		Description:     r.GetDescription(),
		Language:        r.GetLanguage(),
		StargazersCount: r.GetStargazersCount(),
		ForksCount:      r.GetForksCount(),
		OpenIssuesCount: r.GetOpenIssuesCount(),
		WatchersCount:   r.GetWatchersCount(),
		Size:            r.GetSize(),
		Topics:          r.Topics,
		License:         r.GetLicense().GetName(),
		DefaultBranch:   r.GetDefaultBranch(),
		Archived:        r.GetArchived(),
		CreatedAt:       r.GetCreatedAt().Time,
		UpdatedAt:       r.GetUpdatedAt().Time,
		PushedAt:        r.GetPushedAt().Time,
	}
}
