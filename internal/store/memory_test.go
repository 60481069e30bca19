package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ecosort/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUserRepositoryAssignsSequentialIDs(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	first, err := repo.Create(ctx, types.User{Username: "alice", PasswordHash: "h1"})
	require.NoError(t, err)
	second, err := repo.Create(ctx, types.User{Username: "bob", PasswordHash: "h2"})
	require.NoError(t, err)

	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 2, second.ID)
	assert.False(t, first.CreatedAt.IsZero())

	got, err := repo.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	got, err = repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestMemoryUserRepositoryNotFound(t *testing.T) {
	repo := NewMemoryUserRepository()

	_, err := repo.GetByID(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUserRepositoryRejectsDuplicateUsername(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, types.User{Username: "alice"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, types.User{Username: "alice"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryUserRepositoryConcurrentDuplicateHasOneWinner(t *testing.T) {
	repo := NewMemoryUserRepository()
	const attempts = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := repo.Create(context.Background(), types.User{Username: "racer"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
}

func TestMemoryAnalysisRepositoryListsNewestFirstPerUser(t *testing.T) {
	repo := NewMemoryAnalysisRepository()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()

	for _, userID := range []int{1, 2, 1, 1} {
		_, err := repo.Create(ctx, types.NewDeviceAnalysis{
			UserID:         userID,
			DeviceType:     "iPad",
			DeviceCategory: "Tablet",
			Condition:      types.ConditionGood,
			Confidence:     80,
		})
		require.NoError(t, err)
	}

	items, err := repo.ListByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []int{4, 3, 1}, []int{items[0].ID, items[1].ID, items[2].ID})

	other, err := repo.ListByUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, 2, other[0].ID)

	none, err := repo.ListByUser(ctx, 99)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMemoryAnalysisRepositoryTiesBreakOnID(t *testing.T) {
	repo := NewMemoryAnalysisRepository()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		_, err := repo.Create(context.Background(), types.NewDeviceAnalysis{UserID: 1})
		require.NoError(t, err)
	}

	items, err := repo.ListByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, []int{items[0].ID, items[1].ID, items[2].ID})
}

func TestMemoryAnalysisRepositoryIDsAreStrictlyIncreasing(t *testing.T) {
	repo := NewMemoryAnalysisRepository()

	var wg sync.WaitGroup
	ids := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := repo.Create(context.Background(), types.NewDeviceAnalysis{UserID: 1})
			if err == nil {
				ids <- created.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
	assert.Len(t, seen, 50)

	next, err := repo.Create(context.Background(), types.NewDeviceAnalysis{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, 51, next.ID)
}

func TestMemoryAnalysisRepositoryGet(t *testing.T) {
	repo := NewMemoryAnalysisRepository()

	created, err := repo.Create(context.Background(), types.NewDeviceAnalysis{UserID: 3, DeviceType: "GoPro"})
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = repo.Get(context.Background(), created.ID+1)
	assert.ErrorIs(t, err, ErrNotFound)
}
