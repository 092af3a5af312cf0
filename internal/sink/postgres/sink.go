package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/internal/sink"
)

// postgresSink implements the Sink interface for PostgreSQL
type postgresSink struct {
	db           *sql.DB
	runTimestamp string
}

// NewPostgresSink creates a new PostgreSQL sink writing rows for runTimestamp
func NewPostgresSink(connStr, runTimestamp string) (sink.Sink, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s, err := NewWithDB(context.Background(), db, runTimestamp)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an open database and ensures the schema exists
func NewWithDB(ctx context.Context, db *sql.DB, runTimestamp string) (sink.Sink, error) {
	s := &postgresSink{db: db, runTimestamp: runTimestamp}
	if err := s.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}
	return s, nil
}

// Migrate runs database migrations
func (s *postgresSink) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		run_timestamp VARCHAR(15) NOT NULL,
		id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		full_name VARCHAR(512) NOT NULL,
		html_url TEXT,
		description TEXT,
		stargazers_count INTEGER NOT NULL DEFAULT 0,
		forks_count INTEGER NOT NULL DEFAULT 0,
		open_issues_count INTEGER NOT NULL DEFAULT 0,
		watchers_count INTEGER NOT NULL DEFAULT 0,
		language VARCHAR(255),
		topics JSONB NOT NULL DEFAULT '[]',
		languages JSONB NOT NULL DEFAULT '{}',
		license VARCHAR(255),
		default_branch VARCHAR(255),
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		size INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		pushed_at TIMESTAMP,
		matched_keyword VARCHAR(255),
		inserted_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (run_timestamp, id)
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_full_name ON repositories(full_name);

	CREATE TABLE IF NOT EXISTS contributors (
		run_timestamp VARCHAR(15) NOT NULL,
		username VARCHAR(255) NOT NULL,
		repository VARCHAR(512) NOT NULL,
		id BIGINT NOT NULL DEFAULT 0,
		name TEXT,
		email TEXT,
		company TEXT,
		location TEXT,
		followers INTEGER NOT NULL DEFAULT 0,
		public_repos INTEGER NOT NULL DEFAULT 0,
		twitter_username VARCHAR(255),
		html_url TEXT,
		repository_stars INTEGER NOT NULL DEFAULT 0,
		contributions INTEGER NOT NULL DEFAULT 0,
		inserted_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (run_timestamp, username, repository)
	);

	CREATE INDEX IF NOT EXISTS idx_contributors_username ON contributors(username);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// AppendRepository saves a repository row, ignoring one already stored for the run
func (s *postgresSink) AppendRepository(ctx context.Context, repo *domain.Repository) error {
	if err := repo.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO repositories (
			run_timestamp, id, name, full_name, html_url, description,
			stargazers_count, forks_count, open_issues_count, watchers_count,
			language, topics, languages, license, default_branch, archived, size,
			created_at, updated_at, pushed_at, matched_keyword
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (run_timestamp, id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		s.runTimestamp,
		repo.ID,
		repo.Name,
		repo.FullName,
		repo.HTMLURL,
		repo.Description,
		repo.StargazersCount,
		repo.ForksCount,
		repo.OpenIssuesCount,
		repo.WatchersCount,
		repo.Language,
		sink.EncodeTopics(repo.Topics),
		sink.EncodeLanguages(repo.Languages),
		repo.License,
		repo.DefaultBranch,
		repo.Archived,
		repo.Size,
		nullTime(repo.CreatedAt),
		nullTime(repo.UpdatedAt),
		nullTime(repo.PushedAt),
		repo.MatchedKeyword,
	)
	return err
}

// AppendContributor saves a contributor row, ignoring one already stored for the run
func (s *postgresSink) AppendContributor(ctx context.Context, c *domain.Contributor) error {
	if err := c.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO contributors (
			run_timestamp, username, repository, id, name, email, company,
			location, followers, public_repos, twitter_username, html_url,
			repository_stars, contributions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_timestamp, username, repository) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		s.runTimestamp,
		c.Username,
		c.Repository,
		c.ID,
		c.Name,
		c.Email,
		c.Company,
		c.Location,
		c.Followers,
		c.PublicRepos,
		c.TwitterUsername,
		c.HTMLURL,
		c.RepositoryStars,
		c.Contributions,
	)
	return err
}

// ExistingKeys returns the ids and contributor keys stored for the run
func (s *postgresSink) ExistingKeys(ctx context.Context) (*sink.Keys, error) {
	keys := sink.NewKeys()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM repositories WHERE run_timestamp = $1`, s.runTimestamp)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		keys.AddRepository(id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT username, repository FROM contributors WHERE run_timestamp = $1`, s.runTimestamp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key domain.ContributorKey
		if err := rows.Scan(&key.Username, &key.Repository); err != nil {
			return nil, err
		}
		keys.AddContributor(key)
	}
	return keys, rows.Err()
}

// Close closes the database connection
func (s *postgresSink) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
