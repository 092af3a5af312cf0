package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/internal/sink"
)

// sqliteSink implements the Sink interface for SQLite
type sqliteSink struct {
	db           *sql.DB
	runTimestamp string
}

// NewSQLiteSink creates a new SQLite sink writing rows for runTimestamp
func NewSQLiteSink(dbPath, runTimestamp string) (sink.Sink, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, err
	}
	// a single connection keeps WAL writes ordered
	db.SetMaxOpenConns(1)

	s := &sqliteSink{db: db, runTimestamp: runTimestamp}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteSink) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		run_timestamp TEXT NOT NULL,
		id INTEGER NOT NULL,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL,
		html_url TEXT,
		description TEXT,
		stargazers_count INTEGER NOT NULL DEFAULT 0,
		forks_count INTEGER NOT NULL DEFAULT 0,
		open_issues_count INTEGER NOT NULL DEFAULT 0,
		watchers_count INTEGER NOT NULL DEFAULT 0,
		language TEXT,
		topics TEXT NOT NULL DEFAULT '[]',
		languages TEXT NOT NULL DEFAULT '{}',
		license TEXT,
		default_branch TEXT,
		archived INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		pushed_at TIMESTAMP,
		matched_keyword TEXT,
		inserted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_timestamp, id)
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_full_name ON repositories(full_name);
	CREATE INDEX IF NOT EXISTS idx_repositories_keyword ON repositories(matched_keyword);

	CREATE TABLE IF NOT EXISTS contributors (
		run_timestamp TEXT NOT NULL,
		username TEXT NOT NULL,
		repository TEXT NOT NULL,
		id INTEGER NOT NULL DEFAULT 0,
		name TEXT,
		email TEXT,
		company TEXT,
		location TEXT,
		followers INTEGER NOT NULL DEFAULT 0,
		public_repos INTEGER NOT NULL DEFAULT 0,
		twitter_username TEXT,
		html_url TEXT,
		repository_stars INTEGER NOT NULL DEFAULT 0,
		contributions INTEGER NOT NULL DEFAULT 0,
		inserted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_timestamp, username, repository)
	);

	CREATE INDEX IF NOT EXISTS idx_contributors_username ON contributors(username);
	CREATE INDEX IF NOT EXISTS idx_contributors_location ON contributors(location);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// AppendRepository saves a repository row, ignoring one already stored for the run
func (s *sqliteSink) AppendRepository(ctx context.Context, repo *domain.Repository) error {
	if err := repo.Validate(); err != nil {
		return err
	}
	query := `
		INSERT OR IGNORE INTO repositories (
			run_timestamp, id, name, full_name, html_url, description,
			stargazers_count, forks_count, open_issues_count, watchers_count,
			language, topics, languages, license, default_branch, archived, size,
			created_at, updated_at, pushed_at, matched_keyword
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	archived := 0
	if repo.Archived {
		archived = 1
	}
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
		archived,
		repo.Size,
		nullTime(repo.CreatedAt),
		nullTime(repo.UpdatedAt),
		nullTime(repo.PushedAt),
		repo.MatchedKeyword,
	)
	return err
}

// AppendContributor saves a contributor row, ignoring one already stored for the run
func (s *sqliteSink) AppendContributor(ctx context.Context, c *domain.Contributor) error {
	if err := c.Validate(); err != nil {
		return err
	}
	query := `
		INSERT OR IGNORE INTO contributors (
			run_timestamp, username, repository, id, name, email, company,
			location, followers, public_repos, twitter_username, html_url,
			repository_stars, contributions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *sqliteSink) ExistingKeys(ctx context.Context) (*sink.Keys, error) {
	keys := sink.NewKeys()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM repositories WHERE run_timestamp = ?`, s.runTimestamp)
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

	rows, err = s.db.QueryContext(ctx, `SELECT username, repository FROM contributors WHERE run_timestamp = ?`, s.runTimestamp)
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
func (s *sqliteSink) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
