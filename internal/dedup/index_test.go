package dedup_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kurihiro0119/github-contrib-collector/internal/dedup"
	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

func TestIndex_Repositories(t *testing.T) {
	idx := dedup.New()

	assert.False(t, idx.HasRepository(1))
	assert.True(t, idx.TryClaimRepository(1))
	assert.False(t, idx.TryClaimRepository(1), "already claimed")
	assert.False(t, idx.HasRepository(1), "a claim is not completion")

	idx.ReleaseRepository(1)
	assert.True(t, idx.TryClaimRepository(1), "released claims can be retaken")

	idx.MarkRepository(1)
	assert.True(t, idx.HasRepository(1))
	assert.False(t, idx.TryClaimRepository(1))

	repos, contributors := idx.Counts()
	assert.Equal(t, 1, repos)
	assert.Equal(t, 0, contributors)
}

func TestIndex_Contributors(t *testing.T) {
	idx := dedup.New()
	alice := domain.ContributorKey{Username: "alice", Repository: "acme/app"}
	aliceElsewhere := domain.ContributorKey{Username: "alice", Repository: "acme/lib"}

	idx.MarkContributor(alice)
	idx.MarkContributor(alice)

	assert.True(t, idx.HasContributor(alice))
	assert.False(t, idx.HasContributor(aliceElsewhere))

	_, contributors := idx.Counts()
	assert.Equal(t, 1, contributors)
}

func TestIndex_ConcurrentClaims(t *testing.T) {
	idx := dedup.New()
	var wins int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if idx.TryClaimRepository(42) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}
