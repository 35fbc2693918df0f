package repair

import (
	"context"
	"sync"

	"techclinic/internal/models"
)

// listCache holds one server list and whether it is the built-in sample.
type listCache[T any] struct {
	mu     sync.RWMutex
	items  []T
	sample bool
	loaded bool
}

// refresh re-fetches the list. On failure it substitutes samples when
// fallback is set (reporting usedSample) and otherwise empties the list.
// The fetch error is returned either way.
func (c *listCache[T]) refresh(ctx context.Context, fetch func(context.Context) ([]T, error), samples []T, fallback bool) (usedSample bool, err error) {
	items, err := fetch(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = true
	if err != nil {
		if fallback {
			c.items = append([]T(nil), samples...)
			c.sample = true
			return true, err
		}
		c.items = nil
		c.sample = false
		return false, err
	}
	c.items = items
	c.sample = false
	return false, nil
}

func (c *listCache[T]) all() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

func (c *listCache[T]) isSample() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sample
}

func (c *listCache[T]) isLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// JobStore caches the repair jobs last fetched from the server. It is
// re-fetched after every create and update.
type JobStore struct {
	cache listCache[models.RepairJob]
}

// Refresh re-fetches the job list; see Workspace.RefreshJobs for the
// fallback behavior.
func (s *JobStore) Refresh(ctx context.Context, api API, fallback bool) (usedSample bool, err error) {
	return s.cache.refresh(ctx, api.ListRepairJobs, SampleJobs, fallback)
}

// Jobs returns the cached jobs in server order.
func (s *JobStore) Jobs() []models.RepairJob { return s.cache.all() }

// Sample reports whether the cached jobs are the built-in sample.
func (s *JobStore) Sample() bool { return s.cache.isSample() }

// Loaded reports whether Refresh has run at least once.
func (s *JobStore) Loaded() bool { return s.cache.isLoaded() }

// Find returns the cached job with the given id.
func (s *JobStore) Find(id string) (models.RepairJob, bool) {
	s.cache.mu.RLock()
	defer s.cache.mu.RUnlock()
	for _, j := range s.cache.items {
		if j.ID == id {
			return j, true
		}
	}
	return models.RepairJob{}, false
}

// CustomerDirectory caches the customers used to label jobs.
type CustomerDirectory struct {
	cache listCache[models.Customer]
}

func (d *CustomerDirectory) Refresh(ctx context.Context, api API, fallback bool) (usedSample bool, err error) {
	return d.cache.refresh(ctx, api.ListCustomers, SampleCustomers, fallback)
}

func (d *CustomerDirectory) Customers() []models.Customer { return d.cache.all() }

func (d *CustomerDirectory) Sample() bool { return d.cache.isSample() }
