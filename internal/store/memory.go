package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ecosort/apiserver/types"
)

// MemoryUserRepository keeps users in process memory. Nothing survives a restart.
type MemoryUserRepository struct {
	mu         sync.RWMutex
	users      map[int]types.User
	byUsername map[string]int
	nextID     int
	now        func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:      make(map[int]types.User),
		byUsername: make(map[string]int),
		nextID:     1,
		now:        time.Now,
	}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id int) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByUsername(_ context.Context, username string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return r.users[id], nil
}

// Create stores a new user. The username check and the insert happen under one
// lock, so of two concurrent registrations for the same name exactly one wins.
func (r *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[user.Username]; exists {
		return types.User{}, ErrConflict
	}

	user.ID = r.nextID
	r.nextID++
	user.CreatedAt = r.now()

	r.users[user.ID] = user
	r.byUsername[user.Username] = user.ID
	return user, nil
}

// MemoryAnalysisRepository keeps device analyses in process memory.
type MemoryAnalysisRepository struct {
	mu       sync.RWMutex
	analyses map[int]types.DeviceAnalysis
	nextID   int
	now      func() time.Time
}

func NewMemoryAnalysisRepository() *MemoryAnalysisRepository {
	return &MemoryAnalysisRepository{
		analyses: make(map[int]types.DeviceAnalysis),
		nextID:   1,
		now:      time.Now,
	}
}

// ListByUser returns a snapshot of the user's analyses, newest first.
func (r *MemoryAnalysisRepository) ListByUser(_ context.Context, userID int) ([]types.DeviceAnalysis, error) {
	r.mu.RLock()
	items := make([]types.DeviceAnalysis, 0)
	for _, analysis := range r.analyses {
		if analysis.UserID == userID {
			items = append(items, analysis)
		}
	}
	r.mu.RUnlock()

	sortNewestFirst(items)
	return items, nil
}

func (r *MemoryAnalysisRepository) Get(_ context.Context, id int) (types.DeviceAnalysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	analysis, ok := r.analyses[id]
	if !ok {
		return types.DeviceAnalysis{}, ErrNotFound
	}
	return analysis, nil
}

func (r *MemoryAnalysisRepository) Create(_ context.Context, in types.NewDeviceAnalysis) (types.DeviceAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	analysis := types.FromNew(r.nextID, in, r.now())
	r.nextID++
	r.analyses[analysis.ID] = analysis
	return analysis, nil
}

func sortNewestFirst(items []types.DeviceAnalysis) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
