package processor

import (
	"errors"
	"testing"
	"time"
)

func TestProcessingQueue_RecoversPanics(t *testing.T) {
	q := NewProcessingQueue(1, 1, func(*QueueItem) { panic("boom") })
	defer q.Shutdown(time.Second)

	item := &QueueItem{ResultChan: make(chan *ProcessingResult, 1)}
	if !q.Enqueue(item) {
		t.Fatal("Enqueue() = false")
	}

	select {
	case res := <-item.ResultChan:
		if res.Error == nil {
			t.Error("expected panic to surface as an error")
		}
	case <-time.After(time.Second):
		t.Fatal("no result after panic")
	}
}

func TestProcessingQueue_ShutdownDrains(t *testing.T) {
	block := make(chan struct{})
	q := NewProcessingQueue(2, 1, func(*QueueItem) { <-block })

	first := &QueueItem{ResultChan: make(chan *ProcessingResult, 1)}
	q.Enqueue(first)
	for q.Size() != 0 {
		time.Sleep(time.Millisecond)
	}

	queued := &QueueItem{ResultChan: make(chan *ProcessingResult, 1)}
	if !q.Enqueue(queued) {
		t.Fatal("Enqueue() = false")
	}

	close(block)
	if err := q.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// The worker may have picked up the second item before it saw shutdown.
	select {
	case res := <-queued.ResultChan:
		if res.Error != nil && !errors.Is(res.Error, errQueueStopped) {
			t.Errorf("drained item error = %v", res.Error)
		}
	default:
	}

	if q.IsRunning() || q.Enqueue(queued) {
		t.Error("queue still accepting work after shutdown")
	}
}
