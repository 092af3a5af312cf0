package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/internal/logger"
)

// csvFile is one append-only CSV output file
type csvFile struct {
	path string
	f    *os.File
	w    *csv.Writer
}

// openCSVFile opens or creates path, writes the header to a new file and
// truncates a torn trailing record left by a crash. Every complete record
// already in the file is passed to fn.
func openCSVFile(path string, header []string, log logger.Logger, fn func(*fieldReader) error) (*csvFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	end, err := scanRecords(data, header, fn)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if end < int64(len(data)) {
		log.Warn("Truncating incomplete trailing record",
			logger.String("path", path),
			logger.Int64("bytes", int64(len(data))-end),
		)
		if err := f.Truncate(end); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate %s: %w", path, err)
		}
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}

	cf := &csvFile{path: path, f: f, w: csv.NewWriter(f)}
	if end == 0 {
		if err := cf.append(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return cf, nil
}

// scanRecords validates the header and returns the offset just past the
// last complete record. A record is complete when it parses, has the
// header's field count and ends with a newline.
func scanRecords(data []byte, header []string, fn func(*fieldReader) error) (int64, error) {
	if len(data) == 0 {
		return 0, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	first, err := r.Read()
	if bytes.IndexByte(data, '\n') < 0 {
		// Only a torn header was written
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(first, header) {
		return 0, fmt.Errorf("unexpected header %v", first)
	}

	end := r.InputOffset()
	fields := newFieldReader(header)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		next := r.InputOffset()
		if err != nil || len(rec) != len(header) || data[next-1] != '\n' {
			break
		}
		if fn != nil {
			fields.rec = rec
			fields.err = nil
			if err := fn(fields); err != nil {
				return 0, err
			}
		}
		end = next
	}
	return end, nil
}

func (c *csvFile) append(rec []string) error {
	if err := c.w.Write(rec); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", c.path, err)
	}
	return nil
}

func (c *csvFile) close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// CSVSink writes the three timestamped CSV files of a run
type CSVSink struct {
	mu           sync.Mutex
	repositories *csvFile
	detailed     *csvFile
	contributors *csvFile
	summaryIDs   map[int64]struct{}
	keys         *Keys
}

// NewCSVSink opens the output files for runTimestamp in dir, creating
// them as needed. Existing files are repaired and their keys loaded.
func NewCSVSink(dir, runTimestamp string, log logger.Logger) (*CSVSink, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &CSVSink{
		summaryIDs: make(map[int64]struct{}),
		keys:       NewKeys(),
	}

	var err error
	s.repositories, err = openCSVFile(FilePath(dir, RepositoriesPrefix, runTimestamp), repositoryHeader, log,
		func(f *fieldReader) error {
			if id := f.id("id"); f.err == nil && id > 0 {
				s.summaryIDs[id] = struct{}{}
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.detailed, err = openCSVFile(FilePath(dir, DetailedRepositoriesPrefix, runTimestamp), detailedRepositoryHeader, log,
		func(f *fieldReader) error {
			if id := f.id("id"); f.err == nil && id > 0 {
				s.keys.AddRepository(id)
			}
			return nil
		})
	if err != nil {
		s.repositories.close()
		return nil, err
	}

	s.contributors, err = openCSVFile(FilePath(dir, ContributorsPrefix, runTimestamp), contributorHeader, log,
		func(f *fieldReader) error {
			key := domain.ContributorKey{Username: f.str("username"), Repository: f.str("repository")}
			if key.Username != "" && key.Repository != "" {
				s.keys.AddContributor(key)
			}
			return nil
		})
	if err != nil {
		s.repositories.close()
		s.detailed.close()
		return nil, err
	}

	return s, nil
}

// AppendRepository writes the summary row, then the detailed row.
// The detailed file is the source of repository keys, so a crash between
// the two writes leaves the repository unprocessed rather than half-written.
func (s *CSVSink) AppendRepository(_ context.Context, repo *domain.Repository) error {
	if err := repo.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys.RepositoryIDs[repo.ID]; ok {
		return nil
	}
	if _, ok := s.summaryIDs[repo.ID]; !ok {
		if err := s.repositories.append(repositoryRow(repo)); err != nil {
			return err
		}
		s.summaryIDs[repo.ID] = struct{}{}
	}
	if err := s.detailed.append(detailedRepositoryRow(repo)); err != nil {
		return err
	}
	s.keys.AddRepository(repo.ID)
	return nil
}

// AppendContributor writes one contributor row
func (s *CSVSink) AppendContributor(_ context.Context, contributor *domain.Contributor) error {
	if err := contributor.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := contributor.Key()
	if _, ok := s.keys.Contributors[key]; ok {
		return nil
	}
	if err := s.contributors.append(contributorRow(contributor)); err != nil {
		return err
	}
	s.keys.AddContributor(key)
	return nil
}

// ExistingKeys returns the keys present in the files
func (s *CSVSink) ExistingKeys(_ context.Context) (*Keys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys.Clone(), nil
}

// Close flushes and closes all files
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(
		s.repositories.close(),
		s.detailed.close(),
		s.contributors.close(),
	)
}

// ReadRepositories reads a detailed repositories file. A torn trailing
// record, as left by a writer that is still running or crashed, is ignored.
func ReadRepositories(path string) ([]*domain.Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var repos []*domain.Repository
	_, err = scanRecords(data, detailedRepositoryHeader, func(f *fieldReader) error {
		repo, err := parseRepository(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		repos = append(repos, repo)
		return nil
	})
	return repos, err
}

// ReadContributors reads a contributors file, ignoring a torn trailing record
func ReadContributors(path string) ([]*domain.Contributor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var contributors []*domain.Contributor
	_, err = scanRecords(data, contributorHeader, func(f *fieldReader) error {
		c, err := parseContributor(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		contributors = append(contributors, c)
		return nil
	})
	return contributors, err
}
