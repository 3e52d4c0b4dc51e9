package storage

import "sync"

// writeQueue runs persistence jobs for one key strictly in submission order.
// A worker goroutine exists only while jobs are pending.
type writeQueue struct {
	mu      sync.Mutex
	jobs    []func()
	running bool
}

func (q *writeQueue) push(job func()) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

func (q *writeQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		job()
	}
}
