package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
)

// newTestCollector points a collector at a fake GitHub API. The fake clock
// starts in the past so reset times handed out by the server are already
// over in wall-clock terms.
func newTestCollector(t *testing.T, mux *http.ServeMux) (Collector, *fakeClock, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	clock := newFakeClock(epoch)
	c, err := NewGitHubCollector(Options{
		Token:        "test-token",
		BaseURL:      srv.URL,
		Qualifier:    "in:description",
		MinStars:     100,
		MaxAttempts:  3,
		BackoffBase:  time.Millisecond,
		RateCooldown: time.Minute,
		Clock:        clock,
	})
	require.NoError(t, err)
	return c, clock, srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestGitHubCollector_SearchRepositories(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "kubernetes in:description stars:>=100", q.Get("q"))
		assert.Equal(t, "stars", q.Get("sort"))
		assert.Equal(t, "desc", q.Get("order"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "50", q.Get("per_page"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		writeJSON(w, http.StatusOK, `{
			"total_count": 120,
			"incomplete_results": false,
			"items": [
				{"id": 1, "name": "k8s", "full_name": "acme/k8s", "html_url": "https://github.com/acme/k8s",
				 "stargazers_count": 500, "language": "Go", "topics": ["cloud", "containers"],
				 "license": {"name": "MIT License"}, "created_at": "2019-05-01T10:00:00Z"},
				{"id": 0, "name": "broken"}
			]
		}`)
	})
	c, _, _ := newTestCollector(t, mux)

	page, err := c.SearchRepositories(context.Background(), "kubernetes", 2, 50)
	require.NoError(t, err)

	assert.Equal(t, 120, page.TotalCount)
	assert.Equal(t, 2, page.Received)
	require.Len(t, page.Repositories, 1)

	repo := page.Repositories[0]
	assert.Equal(t, int64(1), repo.ID)
	assert.Equal(t, "acme/k8s", repo.FullName)
	assert.Equal(t, 500, repo.StargazersCount)
	assert.Equal(t, []string{"cloud", "containers"}, repo.Topics)
	assert.Equal(t, "MIT License", repo.License)
	assert.Equal(t, "kubernetes", repo.MatchedKeyword)
	assert.Equal(t, 2019, repo.CreatedAt.Year())
}

func TestGitHubCollector_GetRepository_NotFound(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/gone", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusNotFound, `{"message": "Not Found"}`)
	})
	c, _, _ := newTestCollector(t, mux)

	_, err := c.GetRepository(context.Background(), "acme/gone")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGitHubCollector_GetRepository_InvalidName(t *testing.T) {
	c, _, _ := newTestCollector(t, http.NewServeMux())

	_, err := c.GetRepository(context.Background(), "no-slash")
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestGitHubCollector_Unauthorized(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnauthorized, `{"message": "Bad credentials"}`)
	})
	c, _, _ := newTestCollector(t, mux)

	_, err := c.GetRepository(context.Background(), "acme/app")
	assert.True(t, apperrors.IsFatal(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGitHubCollector_ServerErrorsAreRetried(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(w, http.StatusBadGateway, `{"message": "Server Error"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id": 7, "name": "app", "full_name": "acme/app", "forks_count": 3}`)
	})
	c, _, _ := newTestCollector(t, mux)

	repo, err := c.GetRepository(context.Background(), "acme/app")
	require.NoError(t, err)
	assert.Equal(t, 3, repo.ForksCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGitHubCollector_ServerErrorsExhaustAttempts(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusInternalServerError, `{"message": "Server Error"}`)
	})
	c, _, _ := newTestCollector(t, mux)

	_, err := c.GetRepository(context.Background(), "acme/app")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGitHubCollector_BackoffSleepsOnClock(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusServiceUnavailable, `{"message": "Unavailable"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	clock := newFakeClock(epoch)
	c, err := NewGitHubCollector(Options{
		Token:       "test-token",
		BaseURL:     srv.URL,
		MaxAttempts: 3,
		BackoffBase: time.Hour,
		Clock:       clock,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.GetRepository(context.Background(), "acme/app")
		done <- err
	}()

	select {
	case err := <-done:
		assert.True(t, apperrors.IsTransient(err))
	case <-time.After(10 * time.Second):
		t.Fatal("backoff waited on the wall clock")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	// The first randomized interval alone is at least half of the base.
	assert.GreaterOrEqual(t, clock.totalSlept(), 30*time.Minute)
}

func TestGitHubCollector_WaitsForRateLimitReset(t *testing.T) {
	reset := epoch.Add(time.Hour)
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("X-RateLimit-Limit", "5000")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			writeJSON(w, http.StatusForbidden, `{"message": "API rate limit exceeded"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id": 7, "name": "app", "full_name": "acme/app"}`)
	})
	c, clock, _ := newTestCollector(t, mux)

	repo, err := c.GetRepository(context.Background(), "acme/app")
	require.NoError(t, err)
	assert.Equal(t, "acme/app", repo.FullName)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, time.Hour, clock.totalSlept())
}

func TestGitHubCollector_PersistentRateLimitIsTransient(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusTooManyRequests, `{"message": "slow down"}`)
	})
	c, clock, _ := newTestCollector(t, mux)

	_, err := c.GetRepository(context.Background(), "acme/app")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, time.Minute, clock.totalSlept(), "no reset header means the cooldown is used")
}

func TestGitHubCollector_RetryAfter(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/users/alice", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "30")
			writeJSON(w, http.StatusTooManyRequests, `{"message": "slow down"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"login": "alice", "name": "Alice", "location": "Tokyo", "followers": 12}`)
	})
	c, clock, _ := newTestCollector(t, mux)

	user, err := c.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "Tokyo", user.Location)
	assert.Equal(t, 12, user.Followers)
	assert.Equal(t, 30*time.Second, clock.totalSlept())
}

func TestGitHubCollector_ForbiddenWithQuotaLeftIsSkipped(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/huge/contributors", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("X-RateLimit-Remaining", "4000")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(epoch.Add(time.Hour).Unix(), 10))
		writeJSON(w, http.StatusForbidden, `{"message": "The history or contributor list is too large to list contributors for this repository via the API."}`)
	})
	c, clock, _ := newTestCollector(t, mux)

	_, err := c.ListContributors(context.Background(), "acme/huge", 0)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, clock.slept)
}

func TestGitHubCollector_ForbiddenRateLimitMessageWaits(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "12")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(epoch.Add(time.Hour).Unix(), 10))
			writeJSON(w, http.StatusForbidden, `{"message": "API rate limit exceeded for user ID 1."}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id": 7, "name": "app", "full_name": "acme/app"}`)
	})
	c, clock, _ := newTestCollector(t, mux)

	repo, err := c.GetRepository(context.Background(), "acme/app")
	require.NoError(t, err)
	assert.Equal(t, "acme/app", repo.FullName)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, time.Hour, clock.totalSlept())
}

func TestGitHubCollector_ListLanguages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/languages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"Go": 52000, "Shell": 1200}`)
	})
	c, _, _ := newTestCollector(t, mux)

	languages, err := c.ListLanguages(context.Background(), "acme/app")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Go": 52000, "Shell": 1200}, languages)

	_, err = c.ListLanguages(context.Background(), "acme")
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestGitHubCollector_ListContributorsFollowsPages(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/contributors", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/app/contributors?page=2&per_page=100>; rel="next"`, srvURL))
			writeJSON(w, http.StatusOK, `[{"id": 1, "login": "alice", "contributions": 40}, {"id": 2, "login": "bob", "contributions": 10}]`)
		case "2":
			writeJSON(w, http.StatusOK, `[{"id": 3, "login": "carol", "contributions": 2}]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})
	c, _, srv := newTestCollector(t, mux)
	srvURL = srv.URL

	all, err := c.ListContributors(context.Background(), "acme/app", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].Username)
	assert.Equal(t, 40, all[0].Contributions)
	assert.Equal(t, "acme/app", all[2].Repository)

	capped, err := c.ListContributors(context.Background(), "acme/app", 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestGitHubCollector_CanceledWhileWaiting(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/users/alice", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, `{"login": "alice"}`)
	})
	c, _, _ := newTestCollector(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
