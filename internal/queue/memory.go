package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	job      Job
	status   Status
	doneAt   time.Time
	sequence uint64
}

// MemoryBackend 是进程内实现，已完成的任务保留 retention 用于去重。
type MemoryBackend struct {
	mu        sync.Mutex
	entries   map[string]*memEntry
	seq       uint64
	retention time.Duration
}

func NewMemoryBackend(retention time.Duration) *MemoryBackend {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryBackend{entries: make(map[string]*memEntry), retention: retention}
}

func (m *MemoryBackend) Put(_ context.Context, job Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gc(job.EnqueuedAt)
	if _, ok := m.entries[job.ID]; ok {
		return true, nil
	}
	m.seq++
	job.Payload = append([]byte(nil), job.Payload...)
	m.entries[job.ID] = &memEntry{job: job, status: StatusPending, sequence: m.seq}
	return false, nil
}

func (m *MemoryBackend) gc(now time.Time) {
	if now.IsZero() {
		return
	}
	for id, e := range m.entries {
		if e.status == StatusDone && now.Sub(e.doneAt) > m.retention {
			delete(m.entries, id)
		}
	}
}

func (m *MemoryBackend) Claim(_ context.Context, now time.Time) (Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ready []*memEntry
	for _, e := range m.entries {
		if e.status == StatusPending && !e.job.NextRunAt.After(now) {
			ready = append(ready, e)
		}
	}
	if len(ready) == 0 {
		return Job{}, false, nil
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].job.NextRunAt.Equal(ready[j].job.NextRunAt) {
			return ready[i].job.NextRunAt.Before(ready[j].job.NextRunAt)
		}
		return ready[i].sequence < ready[j].sequence
	})
	e := ready[0]
	e.status = StatusRunning
	e.job.Attempts++
	return e.job, true, nil
}

func (m *MemoryBackend) lookup(id string) (*memEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return e, nil
}

func (m *MemoryBackend) Complete(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.status = StatusDone
	e.doneAt = now
	e.job.LastError = ""
	return nil
}

func (m *MemoryBackend) Retry(_ context.Context, id string, nextRunAt time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.status = StatusPending
	e.job.NextRunAt = nextRunAt
	e.job.LastError = lastErr
	return nil
}

func (m *MemoryBackend) Fail(_ context.Context, id string, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.status = StatusFailed
	e.job.LastError = lastErr
	return nil
}

func (m *MemoryBackend) ResetRunning(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.status == StatusRunning {
			e.status = StatusPending
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, e := range m.entries {
		switch e.status {
		case StatusPending:
			st.Pending++
		case StatusRunning:
			st.Running++
		case StatusDone:
			st.Done++
		case StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

// Status 返回任务状态，测试和诊断用。
func (m *MemoryBackend) Status(id string) (Status, Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return "", Job{}, false
	}
	return e.status, e.job, true
}
