package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calmify/wellness-backend/server/emotion"
	"github.com/calmify/wellness-backend/server/models"
)

var errQueueStopped = errors.New("processing cancelled - queue shutting down")

type ProcessingQueue struct {
	items      chan *QueueItem
	workers    int
	workerFunc func(*QueueItem)
	wg         sync.WaitGroup
	shutdown   chan struct{}
	isRunning  bool
	mutex      sync.RWMutex
}

type QueueItem struct {
	Ctx        context.Context
	Request    *models.EmotionRequest
	ResultChan chan *ProcessingResult
	EnqueuedAt time.Time
}

type ProcessingResult struct {
	Result *emotion.Result
	Error  error
}

func NewProcessingQueue(queueSize, workers int, workerFunc func(*QueueItem)) *ProcessingQueue {
	queue := &ProcessingQueue{
		items:      make(chan *QueueItem, queueSize),
		workers:    workers,
		workerFunc: workerFunc,
		shutdown:   make(chan struct{}),
		isRunning:  true,
	}

	for i := 0; i < workers; i++ {
		queue.wg.Add(1)
		go queue.worker()
	}

	return queue
}

func (pq *ProcessingQueue) worker() {
	defer pq.wg.Done()

	for {
		select {
		case item := <-pq.items:
			pq.run(item)
		case <-pq.shutdown:
			return
		}
	}
}

func (pq *ProcessingQueue) run(item *QueueItem) {
	defer func() {
		if r := recover(); r != nil {
			item.reply(&ProcessingResult{Error: fmt.Errorf("worker panic: %v", r)})
		}
	}()

	pq.workerFunc(item)
}

// reply never blocks; ResultChan is buffered and read at most once.
func (item *QueueItem) reply(result *ProcessingResult) {
	select {
	case item.ResultChan <- result:
	default:
	}
}

// Enqueue adds item without blocking. It reports false when the queue is
// full or shutting down.
func (pq *ProcessingQueue) Enqueue(item *QueueItem) bool {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()

	if !pq.isRunning {
		return false
	}

	select {
	case pq.items <- item:
		return true
	default:
		return false
	}
}

func (pq *ProcessingQueue) Size() int {
	return len(pq.items)
}

func (pq *ProcessingQueue) Capacity() int {
	return cap(pq.items)
}

func (pq *ProcessingQueue) IsRunning() bool {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()
	return pq.isRunning
}

func (pq *ProcessingQueue) Workers() int {
	return pq.workers
}

// Shutdown stops the workers, waiting up to timeout for in-flight items,
// then fails whatever is still queued.
func (pq *ProcessingQueue) Shutdown(timeout time.Duration) error {
	pq.mutex.Lock()
	if !pq.isRunning {
		pq.mutex.Unlock()
		return nil
	}
	pq.isRunning = false
	pq.mutex.Unlock()

	close(pq.shutdown)

	done := make(chan struct{})
	go func() {
		pq.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	pq.DrainQueue()
	return err
}

// DrainQueue fails every queued item and returns how many there were.
func (pq *ProcessingQueue) DrainQueue() int {
	drained := 0
	for {
		select {
		case item := <-pq.items:
			item.reply(&ProcessingResult{Error: errQueueStopped})
			drained++
		default:
			return drained
		}
	}
}

func (pq *ProcessingQueue) GetQueueStats() QueueStats {
	return QueueStats{
		CurrentSize:        pq.Size(),
		MaxCapacity:        pq.Capacity(),
		ActiveWorkers:      pq.workers,
		IsRunning:          pq.IsRunning(),
		UtilizationPercent: float64(pq.Size()) / float64(pq.Capacity()) * 100,
	}
}

type QueueStats struct {
	CurrentSize        int     `json:"current_size"`
	MaxCapacity        int     `json:"max_capacity"`
	ActiveWorkers      int     `json:"active_workers"`
	IsRunning          bool    `json:"is_running"`
	UtilizationPercent float64 `json:"utilization_percent"`
}
