// Package sink defines where collected records are durably written.
package sink

import (
	"context"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Sink is the abstract interface for the output layer.
//
// Appends are durable when they return: a record that was acknowledged
// survives a crash. Implementations ignore a repository id or contributor
// key that is already present.
type Sink interface {
	AppendRepository(ctx context.Context, repo *domain.Repository) error
	AppendContributor(ctx context.Context, contributor *domain.Contributor) error

	// ExistingKeys returns the keys already written for the current run
	ExistingKeys(ctx context.Context) (*Keys, error)

	Close() error
}

// Keys is the set of identities present in a sink
type Keys struct {
	RepositoryIDs map[int64]struct{}
	Contributors  map[domain.ContributorKey]struct{}
}

// NewKeys creates an empty key set
func NewKeys() *Keys {
	return &Keys{
		RepositoryIDs: make(map[int64]struct{}),
		Contributors:  make(map[domain.ContributorKey]struct{}),
	}
}

// AddRepository adds a repository id
func (k *Keys) AddRepository(id int64) {
	k.RepositoryIDs[id] = struct{}{}
}

// AddContributor adds a contributor key
func (k *Keys) AddContributor(key domain.ContributorKey) {
	k.Contributors[key] = struct{}{}
}

// Clone returns an independent copy
func (k *Keys) Clone() *Keys {
	out := NewKeys()
	for id := range k.RepositoryIDs {
		out.RepositoryIDs[id] = struct{}{}
	}
	for key := range k.Contributors {
		out.Contributors[key] = struct{}{}
	}
	return out
}

type nopSink struct{}

// NewNop returns a sink that discards everything, used for dry runs
func NewNop() Sink { return nopSink{} }

func (nopSink) AppendRepository(context.Context, *domain.Repository) error   { return nil }
func (nopSink) AppendContributor(context.Context, *domain.Contributor) error { return nil }
func (nopSink) ExistingKeys(context.Context) (*Keys, error)                  { return NewKeys(), nil }
func (nopSink) Close() error                                                 { return nil }
