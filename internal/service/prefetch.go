package service

import (
	"log"
	"sync"

	"github.com/yardmap/server/internal/filter"
	"github.com/yardmap/server/internal/tile"
)

// PrefetchConfig contains configuration for the prefetch manager.
type PrefetchConfig struct {
	Workers   int // number of warmer goroutines (default 2)
	QueueSize int // pending task capacity (default 64)
}

type prefetchTask struct {
	id      tile.ID
	filters filter.State
}

// PrefetchManager warms the query cache for tiles adjacent to an admitted
// viewport query, so panning into a neighbor can be answered from cache.
// Tasks are dropped when the queue is full; prefetching is best effort.
type PrefetchManager struct {
	svc      *QueryService
	queue    chan prefetchTask
	wg       sync.WaitGroup
	workers  int
	stopOnce sync.Once
}

// NewPrefetchManager creates a new prefetch manager.
func NewPrefetchManager(svc *QueryService, cfg PrefetchConfig) *PrefetchManager {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &PrefetchManager{
		svc:     svc,
		queue:   make(chan prefetchTask, cfg.QueueSize),
		workers: cfg.Workers,
	}
}

// Start starts the warmer goroutines.
func (pm *PrefetchManager) Start() {
	for i := 0; i < pm.workers; i++ {
		pm.wg.Add(1)
		go pm.worker()
	}
}

// Stop drains the queue and waits for the workers to finish.
func (pm *PrefetchManager) Stop() {
	pm.stopOnce.Do(func() {
		close(pm.queue)
		pm.wg.Wait()
	})
}

// EnqueueAdjacent schedules cache warming for the orthogonal neighbors of a
// tile. Neighbors already cached are skipped by the workers.
func (pm *PrefetchManager) EnqueueAdjacent(id tile.ID, filters filter.State) {
	for _, neighbor := range id.Adjacent() {
		select {
		case pm.queue <- prefetchTask{id: neighbor, filters: filters}:
		default:
			// Queue full; skip. The next pan will fetch on demand.
			return
		}
	}
}

func (pm *PrefetchManager) worker() {
	defer pm.wg.Done()
	for task := range pm.queue {
		if err := pm.svc.WarmTile(task.id, task.filters); err != nil {
			log.Printf("[Prefetch] failed to warm tile %s: %v", task.id, err)
		}
	}
}
