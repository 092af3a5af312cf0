// Package pipeline drives a collection run: keyword search pages are
// expanded into repository and contributor records, deduplicated, written
// to the sink and recorded in the checkpoint.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-contrib-collector/internal/checkpoint"
	"github.com/kurihiro0119/github-contrib-collector/internal/collector"
	"github.com/kurihiro0119/github-contrib-collector/internal/dedup"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	apperrors "github.com/kurihiro0119/github-contrib-collector/internal/errors"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
	"github.com/kurihiro0119/github-contrib-collector/internal/metrics"
	"github.com/kurihiro0119/github-contrib-collector/internal/sink"
)

// Config holds the collection parameters
type Config struct {
	Keywords        []string
	PageSize        int
	MaxResults      int // search results reachable per keyword
	MaxContributors int // 0 means no cap
	EnrichLimit     int // contributors per repository fetched with a user profile
	EnrichWorkers   int
}

// RunResult summarizes a run
type RunResult struct {
	TasksCompleted      int
	TasksPending        int
	TasksSkipped        int
	RepositoriesWritten int
	ContributorsWritten int
	RepositoriesSkipped int
	// Complete is true when every keyword has been exhausted
	Complete bool
	// Interrupted is true when the run stopped on cancellation
	Interrupted bool
}

// Pipeline runs the collection
type Pipeline struct {
	client  collector.Collector
	store   *checkpoint.Store
	sink    sink.Sink
	index   *dedup.Index
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics
}

// New creates a pipeline
func New(client collector.Collector, store *checkpoint.Store, out sink.Sink, cfg Config, log logger.Logger, m *metrics.Metrics) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.EnrichWorkers < 1 {
		cfg.EnrichWorkers = 1
	}
	return &Pipeline{
		client:  client,
		store:   store,
		sink:    out,
		index:   dedup.New(),
		cfg:     cfg,
		log:     log,
		metrics: m,
	}
}

// Run processes every keyword that is not yet exhausted.
//
// Transient failures leave the failing page pending and move on to the
// next keyword. A fatal failure stops the run and is returned. Cancellation
// stops the run between units of work and is not an error.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	res := &RunResult{}

	if err := p.restore(ctx); err != nil {
		return res, err
	}

	for _, kw := range p.cfg.Keywords {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if p.store.IsKeywordExhausted(kw) {
			p.log.Debug("Keyword already exhausted", logger.String("keyword", kw))
			continue
		}

		err := p.runKeyword(ctx, kw, res)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			res.Interrupted = true
		case apperrors.IsTransient(err) || apperrors.IsRateLimited(err):
			p.log.Warn("Keyword left pending after transient failure",
				logger.String("keyword", kw),
				logger.Err(err),
			)
			res.TasksPending++
			p.metrics.IncTask("pending")
		default:
			if flushErr := p.store.Flush(); flushErr != nil {
				p.log.Error("Checkpoint flush failed", logger.Err(flushErr))
			}
			return res, err
		}
		if res.Interrupted {
			break
		}
	}

	if err := p.store.Flush(); err != nil {
		return res, err
	}

	res.Complete = res.TasksPending == 0 && !res.Interrupted
	repos, contributors := p.index.Counts()
	p.log.Info("Collection run finished",
		logger.Bool("complete", res.Complete),
		logger.Bool("interrupted", res.Interrupted),
		logger.Int("tasks_completed", res.TasksCompleted),
		logger.Int("tasks_pending", res.TasksPending),
		logger.Int("repositories_written", res.RepositoriesWritten),
		logger.Int("contributors_written", res.ContributorsWritten),
		logger.Int("repositories_total", repos),
		logger.Int("contributors_total", contributors),
	)
	return res, nil
}

// restore rebuilds the dedup index from the checkpoint and the sink.
// Keys found only in the sink were written just before a crash; they are
// folded into the checkpoint so both agree before work resumes.
func (p *Pipeline) restore(ctx context.Context) error {
	state := p.store.Snapshot()
	for _, id := range state.ProcessedRepositoryIDs {
		p.index.MarkRepository(id)
	}
	for _, key := range state.ProcessedContributors {
		p.index.MarkContributor(key)
	}

	keys, err := p.sink.ExistingKeys(ctx)
	if err != nil {
		return apperrors.NewFatalError("read existing output", err)
	}

	folded := 0
	for id := range keys.RepositoryIDs {
		p.index.MarkRepository(id)
		if p.store.RecordRepositoryDone(id) {
			folded++
		}
	}
	for key := range keys.Contributors {
		p.index.MarkContributor(key)
		if p.store.RecordContributorDone(key) {
			folded++
		}
	}

	if folded > 0 {
		p.log.Info("Recovered records missing from checkpoint", logger.Int("records", folded))
		if err := p.store.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// runKeyword walks the search pages of one keyword until it is exhausted
func (p *Pipeline) runKeyword(ctx context.Context, kw string, res *RunResult) error {
	log := p.log.With(logger.String("keyword", kw))

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		task := domain.SearchTask{Keyword: kw, Page: page}
		if p.store.IsTaskDone(task) {
			continue
		}

		result, err := p.client.SearchRepositories(ctx, kw, page, p.cfg.PageSize)
		if err != nil {
			if apperrors.IsNotFound(err) || apperrors.IsBadRequest(err) {
				log.Warn("Search rejected, skipping keyword", logger.Int("page", page), logger.Err(err))
				p.store.RecordPageDone(task, true)
				res.TasksSkipped++
				p.metrics.IncTask("skipped")
				return p.store.Flush()
			}
			return err
		}

		log.Info("Processing search page",
			logger.Int("page", page),
			logger.Int("items", result.Received),
			logger.Int("total_count", result.TotalCount),
		)

		for _, repo := range result.Repositories {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.processRepository(ctx, repo, res); err != nil {
				return err
			}
		}

		reached := page * p.cfg.PageSize
		exhausted := result.Received < p.cfg.PageSize ||
			reached >= p.cfg.MaxResults ||
			reached >= result.TotalCount

		p.store.RecordPageDone(task, exhausted)
		if err := p.store.Flush(); err != nil {
			return apperrors.NewFatalError("save checkpoint", err)
		}
		res.TasksCompleted++
		p.metrics.IncTask("done")

		if exhausted {
			log.Info("Keyword exhausted", logger.Int("pages", page))
			return nil
		}
	}
}

// processRepository expands one search hit into its rows
func (p *Pipeline) processRepository(ctx context.Context, hit *domain.Repository, res *RunResult) error {
	if !p.index.TryClaimRepository(hit.ID) {
		return nil
	}

	err := p.expandRepository(ctx, hit, res)
	if err != nil {
		p.index.ReleaseRepository(hit.ID)
	}
	return err
}

func (p *Pipeline) expandRepository(ctx context.Context, hit *domain.Repository, res *RunResult) error {
	log := p.log.With(logger.String("repository", hit.FullName))

	repo, err := p.client.GetRepository(ctx, hit.FullName)
	if err != nil {
		if apperrors.IsNotFound(err) || apperrors.IsBadRequest(err) {
			log.Warn("Repository unavailable, skipping", logger.Err(err))
			p.markRepositoryDone(hit.ID)
			res.RepositoriesSkipped++
			return nil
		}
		return err
	}
	repo.ID = hit.ID
	repo.MatchedKeyword = hit.MatchedKeyword

	languages, err := p.client.ListLanguages(ctx, repo.FullName)
	if err != nil {
		if !apperrors.IsNotFound(err) && !apperrors.IsBadRequest(err) {
			return err
		}
		log.Debug("Language breakdown unavailable", logger.Err(err))
	}
	repo.Languages = languages

	contributors, err := p.client.ListContributors(ctx, repo.FullName, p.cfg.MaxContributors)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return err
		}
		log.Warn("Contributors unavailable, writing repository without them", logger.Err(err))
		contributors = nil
	}

	var pending []*domain.Contributor
	for _, c := range contributors {
		c.Repository = repo.FullName
		c.RepositoryStars = repo.StargazersCount
		if !p.index.HasContributor(c.Key()) {
			pending = append(pending, c)
		}
	}

	if err := p.enrich(ctx, pending); err != nil {
		return err
	}

	for _, c := range pending {
		if err := p.sink.AppendContributor(ctx, c); err != nil {
			return apperrors.NewFatalError(fmt.Sprintf("write contributor %s of %s", c.Username, c.Repository), err)
		}
		p.index.MarkContributor(c.Key())
		p.store.RecordContributorDone(c.Key())
		res.ContributorsWritten++
		p.metrics.IncRows("contributor")
	}

	if err := p.sink.AppendRepository(ctx, repo); err != nil {
		return apperrors.NewFatalError("write repository "+repo.FullName, err)
	}
	p.markRepositoryDone(repo.ID)
	res.RepositoriesWritten++
	p.metrics.IncRows("repository")

	log.Debug("Repository collected", logger.Int("contributors", len(pending)))
	return nil
}

func (p *Pipeline) markRepositoryDone(id int64) {
	p.index.MarkRepository(id)
	p.store.RecordRepositoryDone(id)
}

// enrich fetches user profiles for the first EnrichLimit contributors on a
// bounded worker pool. Results are applied in place so order is preserved.
func (p *Pipeline) enrich(ctx context.Context, contributors []*domain.Contributor) error {
	n := min(len(contributors), p.cfg.EnrichLimit)
	if n <= 0 {
		return nil
	}

	profiles := make([]*domain.UserProfile, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EnrichWorkers)

	for i := 0; i < n; i++ {
		i := i
		login := contributors[i].Username
		g.Go(func() error {
			profile, err := p.client.GetUser(gctx, login)
			if err != nil {
				if apperrors.IsNotFound(err) || apperrors.IsBadRequest(err) {
					p.log.Debug("User profile unavailable", logger.String("user", login), logger.Err(err))
					return nil
				}
				return err
			}
			profiles[i] = profile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, profile := range profiles {
		contributors[i].ApplyProfile(profile)
	}
	return nil
}
